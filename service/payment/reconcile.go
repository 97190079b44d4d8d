package payment

import (
	"fmt"

	"github.com/brojonat/wishpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// DefaultToleranceLamports is 0.01 SOL.
const DefaultToleranceLamports = 10_000_000

// MismatchPolicy decides what happens when a transfer's split falls outside tolerance.
type MismatchPolicy string

const (
	// PolicyStrict rejects mismatched transfers.
	PolicyStrict MismatchPolicy = "strict"
	// PolicyLenient credits mismatched transfers and flags them for audit.
	PolicyLenient MismatchPolicy = "lenient"
)

// ParseMismatchPolicy accepts "strict" or "lenient". Empty means strict.
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch MismatchPolicy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	default:
		return "", fmt.Errorf("unknown mismatch policy %q (want strict or lenient)", s)
	}
}

// SplitConfig is the recipient and tolerance configuration shared by the
// builder and validator.
type SplitConfig struct {
	PrizePoolWallet   solanago.PublicKey
	AdminWallet       solanago.PublicKey
	PrizePoolPercent  uint8
	ToleranceLamports uint64
	Policy            MismatchPolicy
}

// SplitValidationResult compares what each recipient received with what the
// configured split says it should have received.
type SplitValidationResult struct {
	TotalTransferred  uint64 `json:"total_transferred"`
	Fee               uint64 `json:"fee"`
	ActualPrizePool   int64  `json:"actual_prize_pool"`
	ActualAdmin       int64  `json:"actual_admin"`
	ExpectedPrizePool uint64 `json:"expected_prize_pool"`
	ExpectedAdmin     uint64 `json:"expected_admin"`
	PrizePoolOK       bool   `json:"prize_pool_ok"`
	AdminOK           bool   `json:"admin_ok"`
	TotalOK           bool   `json:"total_ok"`

	// DirectPrizePool and DirectAdmin sum the payer's top-level System
	// transfers to each recipient. FundedByPayer is false when a recipient's
	// balance gain is not matched by those transfers. Transactions with no
	// decodable System transfers, such as program-routed payments, are judged
	// on balances alone.
	DirectPrizePool uint64 `json:"direct_prize_pool"`
	DirectAdmin     uint64 `json:"direct_admin"`
	FundedByPayer   bool   `json:"funded_by_payer"`
}

// Reconciled is true when every leg and the combined total are within tolerance.
func (r SplitValidationResult) Reconciled() bool {
	return r.PrizePoolOK && r.AdminOK && r.TotalOK
}

// Reconcile derives the amount the payer transferred from balance deltas and
// checks the prize pool and admin legs against the configured split.
func Reconcile(txn *solana.FinalizedTransaction, payer solanago.PublicKey, cfg SplitConfig) (*SplitValidationResult, error) {
	payerIdx := txn.AccountIndex(payer)
	if payerIdx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrPayerMismatch, payer)
	}
	if txn.PostBalances[payerIdx] >= txn.PreBalances[payerIdx] {
		return nil, fmt.Errorf("%w: balance of %s did not decrease", ErrPayerMismatch, payer)
	}

	payerMoved := absDiff(txn.PreBalances[payerIdx], txn.PostBalances[payerIdx])
	var total uint64
	if payerMoved > txn.Fee {
		total = payerMoved - txn.Fee
	}

	expected, err := SplitLamports(total, cfg.PrizePoolPercent)
	if err != nil {
		return nil, err
	}

	// A recipient whose leg rounds to zero gets no transfer instruction, so it
	// may be absent from the account list.
	actualPrize, err := recipientDelta(txn, cfg.PrizePoolWallet, expected.PrizePool, "prize pool")
	if err != nil {
		return nil, err
	}
	actualAdmin, err := recipientDelta(txn, cfg.AdminWallet, expected.Admin, "admin")
	if err != nil {
		return nil, err
	}

	var directPrize, directAdmin uint64
	for _, t := range txn.Transfers {
		if !t.From.Equals(payer) {
			continue
		}
		switch {
		case t.To.Equals(cfg.PrizePoolWallet):
			directPrize += t.Lamports
		case t.To.Equals(cfg.AdminWallet):
			directAdmin += t.Lamports
		}
	}

	funded := len(txn.Transfers) == 0 ||
		(withinTolerance(actualPrize, directPrize, cfg.ToleranceLamports) &&
			withinTolerance(actualAdmin, directAdmin, cfg.ToleranceLamports))

	return &SplitValidationResult{
		TotalTransferred:  total,
		Fee:               txn.Fee,
		ActualPrizePool:   actualPrize,
		ActualAdmin:       actualAdmin,
		ExpectedPrizePool: expected.PrizePool,
		ExpectedAdmin:     expected.Admin,
		PrizePoolOK:       withinTolerance(actualPrize, expected.PrizePool, cfg.ToleranceLamports),
		AdminOK:           withinTolerance(actualAdmin, expected.Admin, cfg.ToleranceLamports),
		TotalOK:           withinTolerance(actualPrize+actualAdmin, total, cfg.ToleranceLamports),
		DirectPrizePool:   directPrize,
		DirectAdmin:       directAdmin,
		FundedByPayer:     funded,
	}, nil
}

func recipientDelta(txn *solana.FinalizedTransaction, wallet solanago.PublicKey, expected uint64, role string) (int64, error) {
	idx := txn.AccountIndex(wallet)
	if idx >= 0 {
		return delta(txn.PreBalances[idx], txn.PostBalances[idx]), nil
	}
	if expected == 0 {
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %s wallet %s", ErrMissingRecipient, role, wallet)
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// delta is post - pre. Lamport balances stay far below 2^63.
func delta(pre, post uint64) int64 {
	return int64(post) - int64(pre)
}

func withinTolerance(actual int64, expected, tolerance uint64) bool {
	var diff uint64
	switch {
	case actual < 0:
		diff = expected + uint64(-actual)
	case uint64(actual) >= expected:
		diff = uint64(actual) - expected
	default:
		diff = expected - uint64(actual)
	}
	return diff <= tolerance
}
