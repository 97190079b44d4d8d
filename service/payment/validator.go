package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/brojonat/wishpay/service/db"
	"github.com/brojonat/wishpay/service/metrics"
	natspkg "github.com/brojonat/wishpay/service/nats"
	"github.com/brojonat/wishpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// CreditStore persists verified credits.
type CreditStore interface {
	CreditUser(ctx context.Context, params db.CreditUserParams) (*db.CreditResult, error)
}

// EventPublisher announces credits to downstream consumers.
type EventPublisher interface {
	PublishCredit(ctx context.Context, event *natspkg.CreditEvent) error
}

// CreditResult is the outcome of a successful validate-and-credit.
type CreditResult struct {
	Signature       string                `json:"signature"`
	WalletAddress   string                `json:"wallet_address"`
	CreditsAwarded  int64                 `json:"credits_awarded"`
	NewBalance      int64                 `json:"new_balance"`
	TotalLamports   uint64                `json:"total_lamports"`
	Validation      SplitValidationResult `json:"validation"`
	FlaggedForAudit bool                  `json:"flagged_for_audit"`
	CreditedAt      time.Time             `json:"credited_at"`
}

// Validator verifies finalized split transfers and credits the payer.
type Validator struct {
	ledger    Ledger
	claims    Claimer
	store     CreditStore
	publisher EventPublisher
	rate      *RateCalculator
	cfg       SplitConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewValidator wires a validator. publisher may be nil.
func NewValidator(
	ledger Ledger,
	claims Claimer,
	store CreditStore,
	publisher EventPublisher,
	rate *RateCalculator,
	cfg SplitConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Validator {
	if cfg.Policy == "" {
		cfg.Policy = PolicyStrict
	}
	return &Validator{
		ledger:    ledger,
		claims:    claims,
		store:     store,
		publisher: publisher,
		rate:      rate,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// PlaceholderUsername is the username given to a wallet on its first credit.
func PlaceholderUsername(walletAddress string) string {
	if len(walletAddress) > 8 {
		walletAddress = walletAddress[:8]
	}
	return "wisher_" + walletAddress
}

// ValidateAndCredit verifies that signature is a finalized transfer from payer
// that pays the configured split, then credits payer exactly once.
//
// The signature is claimed before the ledger is read. The claim is released
// when the failure is retryable and kept otherwise.
func (v *Validator) ValidateAndCredit(ctx context.Context, payerAddress, signature string) (result *CreditResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "credited"
		if err != nil {
			outcome = ErrorCode(err)
		}
		v.metrics.RecordValidation(outcome, time.Since(start).Seconds())
	}()

	payer, err := solanago.PublicKeyFromBase58(payerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sigStr := sig.String()

	logger := v.logger.With("signature", sigStr, "payer", payer.String())

	claimed, err := v.claims.TryClaim(ctx, sigStr)
	if err != nil {
		return nil, fmt.Errorf("failed to claim signature: %w", err)
	}
	if !claimed {
		v.metrics.RecordDuplicateClaim("guard")
		logger.InfoContext(ctx, "rejected duplicate signature")
		return nil, ErrAlreadyProcessed
	}
	defer func() {
		if err == nil || IsPermanent(err) {
			return
		}
		if rerr := v.claims.Release(context.WithoutCancel(ctx), sigStr); rerr != nil {
			logger.ErrorContext(ctx, "failed to release signature claim", "error", rerr)
		}
	}()

	txn, err := v.ledger.GetFinalizedTransaction(ctx, sig)
	if err != nil {
		if errors.Is(err, solana.ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sigStr)
		}
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if txn.Failed() {
		return nil, fmt.Errorf("%w: %s", ErrTransactionFailed, *txn.Err)
	}

	validation, err := Reconcile(txn, payer, v.cfg)
	if err != nil {
		logger.WarnContext(ctx, "transfer rejected", "error", err)
		return nil, err
	}
	if validation.TotalTransferred == 0 {
		return nil, fmt.Errorf("%w: transaction moved no lamports from payer", ErrInvalidAmount)
	}

	flagged := false
	if !validation.Reconciled() {
		v.metrics.RecordSplitMismatch(string(v.cfg.Policy))
		logger.WarnContext(ctx, "SPLIT MISMATCH: transfer does not match configured split",
			"policy", string(v.cfg.Policy),
			"total_transferred", validation.TotalTransferred,
			"actual_prize_pool", validation.ActualPrizePool,
			"expected_prize_pool", validation.ExpectedPrizePool,
			"actual_admin", validation.ActualAdmin,
			"expected_admin", validation.ExpectedAdmin,
			"prize_pool_ok", validation.PrizePoolOK,
			"admin_ok", validation.AdminOK,
			"total_ok", validation.TotalOK,
			"tolerance_lamports", v.cfg.ToleranceLamports,
		)
		if v.cfg.Policy != PolicyLenient {
			return nil, fmt.Errorf("%w: prize pool %d/%d, admin %d/%d lamports",
				ErrSplitMismatch,
				validation.ActualPrizePool, validation.ExpectedPrizePool,
				validation.ActualAdmin, validation.ExpectedAdmin)
		}
		flagged = true
	}
	if !validation.FundedByPayer {
		logger.WarnContext(ctx, "recipient balances not backed by payer transfers, flagging for audit",
			"actual_prize_pool", validation.ActualPrizePool,
			"direct_prize_pool", validation.DirectPrizePool,
			"actual_admin", validation.ActualAdmin,
			"direct_admin", validation.DirectAdmin,
		)
		flagged = true
	}

	credits, err := v.rate.CreditsForLamports(validation.TotalTransferred)
	if err != nil {
		return nil, err
	}
	if validation.TotalTransferred > math.MaxInt64 {
		return nil, fmt.Errorf("%w: transferred amount exceeds storable range", ErrInvalidAmount)
	}

	stored, err := v.store.CreditUser(ctx, db.CreditUserParams{
		Signature:                 sigStr,
		WalletAddress:             payer.String(),
		Username:                  PlaceholderUsername(payer.String()),
		TotalLamports:             int64(validation.TotalTransferred),
		PrizePoolLamports:         validation.ActualPrizePool,
		AdminLamports:             validation.ActualAdmin,
		ExpectedPrizePoolLamports: int64(validation.ExpectedPrizePool),
		ExpectedAdminLamports:     int64(validation.ExpectedAdmin),
		Credits:                   credits,
		Reconciled:                validation.Reconciled(),
		FlaggedForAudit:           flagged,
	})
	if errors.Is(err, db.ErrAlreadyCredited) {
		v.metrics.RecordDuplicateClaim("store")
		logger.InfoContext(ctx, "signature already credited in store")
		return nil, ErrAlreadyProcessed
	}
	if err != nil {
		logger.ErrorContext(ctx, "failed to record credit", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCreditFailed, err)
	}

	v.metrics.RecordCredit(credits, validation.TotalTransferred)
	logger.InfoContext(ctx, "credited transfer",
		"credits", credits,
		"new_balance", stored.NewBalance,
		"total_lamports", validation.TotalTransferred,
		"flagged_for_audit", flagged,
	)

	if v.publisher != nil {
		if perr := v.publisher.PublishCredit(ctx, natspkg.FromCreditResult(stored)); perr != nil {
			logger.WarnContext(ctx, "failed to publish credit event", "error", perr)
		}
	}

	return &CreditResult{
		Signature:       sigStr,
		WalletAddress:   payer.String(),
		CreditsAwarded:  credits,
		NewBalance:      stored.NewBalance,
		TotalLamports:   validation.TotalTransferred,
		Validation:      *validation,
		FlaggedForAudit: flagged,
		CreditedAt:      stored.Entry.CreatedAt,
	}, nil
}
