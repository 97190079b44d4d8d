package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/wishpay/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client is the ledger reader used by the payment service.
// Every call is bounded by a per-attempt timeout and retried with backoff.
type Client struct {
	rpc      RPCClient
	retry    RetryConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet")
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, retry RetryConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Client{
		rpc:      rpcClient,
		retry:    retry,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// GetFinalizedTransaction fetches a transaction at finalized commitment.
// It returns ErrTransactionNotFound when the ledger has no finalized record
// and an error wrapping ErrUnavailable when the ledger cannot be queried.
func (c *Client) GetFinalizedTransaction(ctx context.Context, signature solana.Signature) (*FinalizedTransaction, error) {
	result, err := call(ctx, c, "GetTransaction", func(ctx context.Context) (*rpc.GetTransactionResult, error) {
		out, err := c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentFinalized,
			MaxSupportedTransactionVersion: &[]uint64{0}[0],
		})
		if err != nil && strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", signature.String(),
			)
			c.metrics.RecordRPCRetry("GetTransaction", "parse_error")
			out, err = c.rpc.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: rpc.CommitmentFinalized,
			})
		}
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && out == nil) {
			return nil, ErrTransactionNotFound
		}
		return out, err
	})
	if err != nil {
		return nil, err
	}

	txn, err := parseFinalizedTransaction(signature, result)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c.logger.DebugContext(ctx, "fetched finalized transaction",
		"signature", txn.Signature,
		"slot", txn.Slot,
		"accounts", len(txn.AccountKeys),
	)
	return txn, nil
}

// GetLatestBlockReference returns the latest finalized blockhash.
func (c *Client) GetLatestBlockReference(ctx context.Context) (*BlockReference, error) {
	result, err := call(ctx, c, "GetLatestBlockhash", func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return nil, err
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: empty blockhash response", ErrUnavailable)
	}
	return &BlockReference{
		Blockhash:            result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// GetSignatureStatus reports how far a signature has progressed toward finality.
func (c *Client) GetSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error) {
	result, err := call(ctx, c, "GetSignatureStatuses", func(ctx context.Context) (*rpc.GetSignatureStatusesResult, error) {
		return c.rpc.GetSignatureStatuses(ctx, true, signature)
	})
	if err != nil {
		return nil, err
	}

	status := &SignatureStatus{
		Signature: signature.String(),
		Status:    StatusNotFound,
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return status, nil
	}

	v := result.Value[0]
	status.Slot = v.Slot
	status.Confirmations = v.Confirmations
	if v.Err != nil {
		msg := fmt.Sprintf("%v", v.Err)
		status.Err = &msg
		status.Status = StatusFailed
		return status, nil
	}

	switch v.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		status.Status = StatusFinalized
	case rpc.ConfirmationStatusConfirmed:
		status.Status = StatusConfirmed
	default:
		status.Status = StatusProcessed
	}
	return status, nil
}

// call runs fn with a per-attempt timeout, retrying transient failures with
// exponential backoff. Errors that survive all attempts wrap ErrUnavailable.
func call[T any](ctx context.Context, c *Client, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := range c.retry.MaxAttempts {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.retry.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.retry.Timeout)
		}

		start := time.Now()
		out, err := fn(attemptCtx)
		cancel()

		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())

		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}

		lastErr = err
		reason := retryReason(err)
		if reason == "" {
			return zero, err
		}
		if reason == "rate_limit" {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := calculateBackoff(attempt, c.retry, reason)
		c.logger.WarnContext(ctx, "ledger call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"reason", reason,
			"error", err,
			"backoff_seconds", delay.Seconds(),
		)
		c.metrics.RecordRPCRetry(method, reason)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		case <-time.After(delay):
		}
	}

	c.logger.ErrorContext(ctx, "ledger call failed after retries",
		"method", method,
		"attempts", c.retry.MaxAttempts,
		"error", lastErr,
	)
	return zero, fmt.Errorf("%w: %s failed after %d attempts: %v", ErrUnavailable, method, c.retry.MaxAttempts, lastErr)
}
