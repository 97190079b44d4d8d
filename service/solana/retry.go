package solana

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// RetryConfig defines how ledger calls are retried.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

// DefaultRetryConfig matches the ledger defaults: three attempts, 30s per attempt.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        8 * time.Second,
	BackoffMultiple: 2.0,
	Timeout:         30 * time.Second,
}

// retryReason classifies an RPC error for metrics and retry decisions.
// An empty reason means the error should not be retried.
func retryReason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTransactionNotFound) {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return "rate_limit"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "EOF"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return "transient"
	default:
		return "timeout_or_error"
	}
}

func calculateBackoff(attempt int, config RetryConfig, reason string) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffMultiple, float64(attempt))
	if reason == "rate_limit" {
		delay *= 2
	}
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
