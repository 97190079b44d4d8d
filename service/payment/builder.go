package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/brojonat/wishpay/service/metrics"
	"github.com/brojonat/wishpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
)

// Ledger is the read side of the chain used by the builder and validator.
type Ledger interface {
	GetFinalizedTransaction(ctx context.Context, signature solanago.Signature) (*solana.FinalizedTransaction, error)
	GetLatestBlockReference(ctx context.Context) (*solana.BlockReference, error)
}

// BuiltTransfer is an unsigned split transfer ready for the payer to sign.
type BuiltTransfer struct {
	Transaction          string // base64, signature slots zeroed
	Payer                string
	Split                Split
	ExpectedCredits      int64
	Blockhash            string
	LastValidBlockHeight uint64
}

// Builder assembles unsigned two-leg split transfers.
type Builder struct {
	ledger  Ledger
	cfg     SplitConfig
	rate    *RateCalculator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewBuilder(ledger Ledger, cfg SplitConfig, rate *RateCalculator, m *metrics.Metrics, logger *slog.Logger) *Builder {
	return &Builder{
		ledger:  ledger,
		cfg:     cfg,
		rate:    rate,
		metrics: m,
		logger:  logger,
	}
}

// BuildSplitTransfer builds an unsigned transaction moving amount SOL from
// payer, split between the prize pool and admin wallets. A zero-lamport leg
// is omitted.
func (b *Builder) BuildSplitTransfer(ctx context.Context, amount decimal.Decimal, payerAddress string) (built *BuiltTransfer, err error) {
	defer func() {
		status := "success"
		if err != nil {
			status = ErrorCode(err)
		}
		b.metrics.RecordTransferBuilt(status)
	}()

	total, err := ToLamports(amount)
	if err != nil {
		return nil, err
	}
	payer, err := solanago.PublicKeyFromBase58(payerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	split, err := SplitLamports(total, b.cfg.PrizePoolPercent)
	if err != nil {
		return nil, err
	}
	credits, err := b.rate.CreditsForLamports(total)
	if err != nil {
		return nil, err
	}

	ref, err := b.ledger.GetLatestBlockReference(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: latest blockhash: %v", ErrLedgerUnavailable, err)
	}

	instructions := make([]solanago.Instruction, 0, 2)
	if split.PrizePool > 0 {
		instructions = append(instructions, system.NewTransferInstruction(split.PrizePool, payer, b.cfg.PrizePoolWallet).Build())
	}
	if split.Admin > 0 {
		instructions = append(instructions, system.NewTransferInstruction(split.Admin, payer, b.cfg.AdminWallet).Build())
	}

	tx, err := solanago.NewTransaction(instructions, ref.Blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	tx.Signatures = make([]solanago.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	b.logger.InfoContext(ctx, "built split transfer",
		"payer", payer.String(),
		"total_lamports", split.Total,
		"prize_pool_lamports", split.PrizePool,
		"admin_lamports", split.Admin,
		"expected_credits", credits,
		"blockhash", ref.Blockhash.String(),
	)

	return &BuiltTransfer{
		Transaction:          base64.StdEncoding.EncodeToString(raw),
		Payer:                payer.String(),
		Split:                split,
		ExpectedCredits:      credits,
		Blockhash:            ref.Blockhash.String(),
		LastValidBlockHeight: ref.LastValidBlockHeight,
	}, nil
}
