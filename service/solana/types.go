package solana

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrTransactionNotFound means the ledger has no finalized record of the signature.
	// The transaction may still be in flight.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrUnavailable means the ledger could not be reached or answered with an error.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Signature confirmation states reported by GetSignatureStatus.
const (
	StatusNotFound  = "not_found"
	StatusProcessed = "processed"
	StatusConfirmed = "confirmed"
	StatusFinalized = "finalized"
	StatusFailed    = "failed"
)

// FinalizedTransaction is the subset of a finalized ledger transaction needed to
// reconcile a split payment. AccountKeys, PreBalances and PostBalances are
// index-aligned and include any addresses loaded from lookup tables.
type FinalizedTransaction struct {
	Signature    string
	Slot         uint64
	BlockTime    *time.Time
	AccountKeys  []solana.PublicKey
	PreBalances  []uint64
	PostBalances []uint64
	Fee          uint64
	FeePayer     solana.PublicKey
	Err          *string
	// Transfers holds the top-level System Program transfers.
	Transfers []SystemTransfer
}

// AccountIndex returns the position of key in AccountKeys, or -1.
func (t *FinalizedTransaction) AccountIndex(key solana.PublicKey) int {
	for i, k := range t.AccountKeys {
		if k.Equals(key) {
			return i
		}
	}
	return -1
}

// Failed reports whether the transaction executed with an error.
func (t *FinalizedTransaction) Failed() bool {
	return t.Err != nil
}

// BlockReference is a recent blockhash and the last block height at which a
// transaction referencing it is still valid.
type BlockReference struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// SignatureStatus is the ledger's view of a signature's confirmation progress.
type SignatureStatus struct {
	Signature     string  `json:"signature"`
	Status        string  `json:"status"`
	Slot          uint64  `json:"slot,omitempty"`
	Confirmations *uint64 `json:"confirmations,omitempty"`
	Err           *string `json:"error,omitempty"`
}
