package payment

import (
	"errors"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrInvalidSignature    = errors.New("invalid transaction signature")
	ErrAlreadyProcessed    = errors.New("transaction already processed")
	ErrTransactionNotFound = errors.New("transaction not found or not yet finalized")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrTransactionFailed   = errors.New("transaction failed on-chain")
	ErrPayerMismatch       = errors.New("payer is not part of the transaction")
	ErrMissingRecipient    = errors.New("transaction is missing a split recipient")
	ErrSplitMismatch       = errors.New("transfer split outside tolerance")
	ErrCreditFailed        = errors.New("failed to record credit")
)

// Stable error codes returned to API clients and used as Temporal error types.
const (
	CodeInvalidAmount       = "invalid_amount"
	CodeInvalidAddress      = "invalid_address"
	CodeInvalidSignature    = "invalid_signature"
	CodeAlreadyProcessed    = "already_processed"
	CodeTransactionNotFound = "transaction_not_found"
	CodeLedgerUnavailable   = "ledger_unavailable"
	CodeTransactionFailed   = "transaction_failed"
	CodePayerMismatch       = "payer_mismatch"
	CodeMissingRecipient    = "missing_recipient"
	CodeSplitMismatch       = "split_mismatch"
	CodeCreditFailed        = "credit_failed"
	CodeInternal            = "internal_error"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidAmount, CodeInvalidAmount},
	{ErrInvalidAddress, CodeInvalidAddress},
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrAlreadyProcessed, CodeAlreadyProcessed},
	{ErrTransactionNotFound, CodeTransactionNotFound},
	{ErrLedgerUnavailable, CodeLedgerUnavailable},
	{ErrTransactionFailed, CodeTransactionFailed},
	{ErrPayerMismatch, CodePayerMismatch},
	{ErrMissingRecipient, CodeMissingRecipient},
	{ErrSplitMismatch, CodeSplitMismatch},
	{ErrCreditFailed, CodeCreditFailed},
}

// ErrorCode maps an error to its stable code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// IsPermanent reports whether retrying the same request can never succeed.
func IsPermanent(err error) bool {
	switch ErrorCode(err) {
	case CodeInvalidAmount, CodeInvalidAddress, CodeInvalidSignature,
		CodeAlreadyProcessed, CodeTransactionFailed, CodePayerMismatch,
		CodeMissingRecipient, CodeSplitMismatch:
		return true
	default:
		return false
	}
}
