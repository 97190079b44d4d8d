package nats

import (
	"time"

	"github.com/brojonat/wishpay/service/db"
)

// CreditEvent is published to "credits.{wallet_address}" after a payment is credited.
type CreditEvent struct {
	Signature       string    `json:"signature"`
	WalletAddress   string    `json:"wallet_address"`
	CreditsAwarded  int64     `json:"credits_awarded"`
	NewBalance      int64     `json:"new_balance"`
	TotalLamports   int64     `json:"total_lamports"`
	FlaggedForAudit bool      `json:"flagged_for_audit"`
	CreditedAt      time.Time `json:"credited_at"`
	PublishedAt     time.Time `json:"published_at"`
}

// FromCreditResult converts a stored credit into an event for publishing.
func FromCreditResult(res *db.CreditResult) *CreditEvent {
	return &CreditEvent{
		Signature:       res.Entry.Signature,
		WalletAddress:   res.Entry.WalletAddress,
		CreditsAwarded:  res.Entry.Credits,
		NewBalance:      res.NewBalance,
		TotalLamports:   res.Entry.TotalLamports,
		FlaggedForAudit: res.Entry.FlaggedForAudit,
		CreditedAt:      res.Entry.CreatedAt,
		PublishedAt:     time.Now().UTC(),
	}
}

// SubjectForWallet returns the subject a wallet's credit events are published on.
func SubjectForWallet(walletAddress string) string {
	return SubjectPrefix + walletAddress
}
