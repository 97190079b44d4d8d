package payment

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// DefaultPrizePoolPercent is the share of each payment routed to the prize pool.
const DefaultPrizePoolPercent = 80

// lamportDecimals is the number of decimal places in one SOL.
const lamportDecimals = 9

var maxLamports = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Split divides a payment between the prize pool and admin wallets.
// PrizePool + Admin always equals Total.
type Split struct {
	Total     uint64
	PrizePool uint64
	Admin     uint64
}

// SplitLamports computes floor(total * prizePoolPercent / 100) for the prize
// pool and gives the remainder to admin. The product is taken in 128 bits so
// it cannot overflow.
func SplitLamports(total uint64, prizePoolPercent uint8) (Split, error) {
	if prizePoolPercent > 100 {
		return Split{}, fmt.Errorf("prize pool percentage %d out of range [0,100]", prizePoolPercent)
	}
	hi, lo := bits.Mul64(total, uint64(prizePoolPercent))
	// hi < 100 because prizePoolPercent <= 100, so Div64 cannot panic.
	prize, _ := bits.Div64(hi, lo, 100)
	return Split{
		Total:     total,
		PrizePool: prize,
		Admin:     total - prize,
	}, nil
}

// ToLamports converts a SOL amount to lamports exactly.
func ToLamports(amount decimal.Decimal) (uint64, error) {
	if amount.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, amount.String())
	}
	lamports := amount.Shift(lamportDecimals)
	if !lamports.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), lamportDecimals)
	}
	if lamports.GreaterThan(maxLamports) {
		return 0, fmt.Errorf("%w: %s SOL overflows lamports", ErrInvalidAmount, amount.String())
	}
	return lamports.BigInt().Uint64(), nil
}

// LamportsToSOL converts lamports to SOL for display and rate calculation.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportDecimals)
}
