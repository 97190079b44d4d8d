package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCreditsPerSOL is the exchange rate used when none is configured.
const DefaultCreditsPerSOL = 6

// RateCalculator converts SOL amounts into wish credits.
type RateCalculator struct {
	creditsPerSOL int64
}

func NewRateCalculator(creditsPerSOL int64) *RateCalculator {
	return &RateCalculator{creditsPerSOL: creditsPerSOL}
}

func (r *RateCalculator) CreditsPerSOL() int64 {
	return r.creditsPerSOL
}

// CreditsForAmount returns floor(amount * rate). Fractional credits are never awarded.
func (r *RateCalculator) CreditsForAmount(amount decimal.Decimal) (int64, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, amount.String())
	}
	credits := amount.Mul(decimal.NewFromInt(r.creditsPerSOL)).Floor()
	if !credits.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %s is too large", ErrInvalidAmount, amount.String())
	}
	return credits.IntPart(), nil
}

// CreditsForLamports applies the rate to an amount in base units.
func (r *RateCalculator) CreditsForLamports(lamports uint64) (int64, error) {
	return r.CreditsForAmount(LamportsToSOL(lamports))
}

// ParseAmount parses a human SOL amount such as "0.5".
// Zero, negative and sub-lamport amounts are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if _, err := ToLamports(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
