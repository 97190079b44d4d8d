package temporal

import (
	"context"
	"log/slog"

	"github.com/brojonat/wishpay/service/metrics"
	"github.com/brojonat/wishpay/service/payment"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// TransferValidator validates and credits a split transfer.
type TransferValidator interface {
	ValidateAndCredit(ctx context.Context, payerAddress, signature string) (*payment.CreditResult, error)
}

// Activities holds the dependencies of settlement activities.
type Activities struct {
	validator TransferValidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance.
func NewActivities(validator TransferValidator, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		validator: validator,
		metrics:   m,
		logger:    logger,
	}
}

// ValidateTransfer runs one validate-and-credit attempt.
//
// Failures are returned as application errors typed with the payment error
// code. Permanent failures are non-retryable so the workflow stops at once.
func (a *Activities) ValidateTransfer(ctx context.Context, input SettleTransferInput) (*SettleTransferResult, error) {
	attempt := activity.GetInfo(ctx).Attempt

	a.logger.InfoContext(ctx, "validating transfer",
		"signature", input.Signature,
		"payer", input.PayerAddress,
		"attempt", attempt,
	)

	res, err := a.validator.ValidateAndCredit(ctx, input.PayerAddress, input.Signature)
	if err != nil {
		code := payment.ErrorCode(err)
		if payment.IsPermanent(err) {
			a.metrics.RecordSettlementWorkflow("rejected")
			a.logger.WarnContext(ctx, "transfer rejected",
				"signature", input.Signature,
				"code", code,
				"error", err,
			)
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), code, err)
		}

		a.metrics.RecordSettlementWorkflow("retry")
		a.logger.InfoContext(ctx, "transfer not settled yet",
			"signature", input.Signature,
			"code", code,
			"attempt", attempt,
			"error", err,
		)
		return nil, temporal.NewApplicationErrorWithCause(err.Error(), code, err)
	}

	a.metrics.RecordSettlementWorkflow("credited")

	return &SettleTransferResult{
		Signature:       res.Signature,
		WalletAddress:   res.WalletAddress,
		CreditsAwarded:  res.CreditsAwarded,
		NewBalance:      res.NewBalance,
		TotalLamports:   res.TotalLamports,
		FlaggedForAudit: res.FlaggedForAudit,
		Attempts:        attempt,
	}, nil
}
