package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	// SettleTransferWorkflowName is the registered name of SettleTransferWorkflow.
	SettleTransferWorkflowName = "SettleTransferWorkflow"
	// ValidateTransferActivityName is the registered name of Activities.ValidateTransfer.
	ValidateTransferActivityName = "ValidateTransfer"

	settlementIDPrefix = "settle-transfer:"
)

// SettleTransferInput identifies a submitted transfer to settle.
type SettleTransferInput struct {
	PayerAddress string `json:"payer_address"`
	Signature    string `json:"signature"`
}

// SettleTransferResult is the credit recorded for a settled transfer.
type SettleTransferResult struct {
	Signature       string    `json:"signature"`
	WalletAddress   string    `json:"wallet_address"`
	CreditsAwarded  int64     `json:"credits_awarded"`
	NewBalance      int64     `json:"new_balance"`
	TotalLamports   uint64    `json:"total_lamports"`
	FlaggedForAudit bool      `json:"flagged_for_audit"`
	Attempts        int32     `json:"attempts"`
	SettledAt       time.Time `json:"settled_at"`
}

// SettlementWorkflowID returns the workflow id used for a signature.
// One signature maps to one workflow id so Temporal rejects concurrent duplicates.
func SettlementWorkflowID(signature string) string {
	return settlementIDPrefix + signature
}

// SettlementRetryPolicy governs how long the workflow waits for a transfer to finalize.
// Not-found and ledger errors retry; the activity marks every other failure non-retryable.
func SettlementRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    2 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    10,
	}
}

// SettleTransferWorkflow waits for a submitted transfer to reach finality and credits the payer.
// The ValidateTransfer activity is retried while the ledger has not finalized the transaction.
func SettleTransferWorkflow(ctx workflow.Context, input SettleTransferInput) (*SettleTransferResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SettleTransferWorkflow started",
		"signature", input.Signature,
		"payer", input.PayerAddress,
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         SettlementRetryPolicy(),
	})

	var result *SettleTransferResult
	err := workflow.ExecuteActivity(ctx, ValidateTransferActivityName, input).Get(ctx, &result)
	if err != nil {
		logger.Error("settlement failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("settle transfer %s: %w", input.Signature, err)
	}

	result.SettledAt = workflow.Now(ctx)

	logger.Info("transfer settled",
		"signature", result.Signature,
		"credits", result.CreditsAwarded,
		"new_balance", result.NewBalance,
		"attempts", result.Attempts,
	)

	return result, nil
}
