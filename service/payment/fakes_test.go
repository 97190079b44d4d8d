package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/wishpay/service/db"
	"github.com/brojonat/wishpay/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger returns canned transactions keyed by signature.
type fakeLedger struct {
	mu           sync.Mutex
	transactions map[string]*solana.FinalizedTransaction
	txErr        error
	block        *solana.BlockReference
	blockErr     error
	fetches      atomic.Int32
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		transactions: make(map[string]*solana.FinalizedTransaction),
		block: &solana.BlockReference{
			Blockhash:            solanago.Hash{4, 2},
			LastValidBlockHeight: 1234,
		},
	}
}

func (l *fakeLedger) put(txn *solana.FinalizedTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[txn.Signature] = txn
}

func (l *fakeLedger) GetFinalizedTransaction(ctx context.Context, sig solanago.Signature) (*solana.FinalizedTransaction, error) {
	l.fetches.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.txErr != nil {
		return nil, l.txErr
	}
	txn, ok := l.transactions[sig.String()]
	if !ok {
		return nil, solana.ErrTransactionNotFound
	}
	return txn, nil
}

func (l *fakeLedger) GetLatestBlockReference(ctx context.Context) (*solana.BlockReference, error) {
	if l.blockErr != nil {
		return nil, l.blockErr
	}
	return l.block, nil
}

// fakeStore mimics the credit store's uniqueness and increment semantics.
type fakeStore struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string]db.CreditUserParams
	err      error
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances: make(map[string]int64),
		entries:  make(map[string]db.CreditUserParams),
	}
}

func (s *fakeStore) CreditUser(ctx context.Context, p db.CreditUserParams) (*db.CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := s.entries[p.Signature]; ok {
		return nil, db.ErrAlreadyCredited
	}
	s.entries[p.Signature] = p
	s.balances[p.WalletAddress] += p.Credits
	return &db.CreditResult{
		Entry: &db.CreditEntry{
			Signature:       p.Signature,
			WalletAddress:   p.WalletAddress,
			TotalLamports:   p.TotalLamports,
			Credits:         p.Credits,
			Reconciled:      p.Reconciled,
			FlaggedForAudit: p.FlaggedForAudit,
			CreatedAt:       time.Now(),
		},
		User:       &db.User{WalletAddress: p.WalletAddress, Username: p.Username, Credits: s.balances[p.WalletAddress]},
		NewBalance: s.balances[p.WalletAddress],
	}, nil
}

func (s *fakeStore) balance(wallet string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[wallet]
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// transferFixture describes a finalized split transfer for reconciliation tests.
type transferFixture struct {
	payer, pool, admin solanago.PublicKey
}

func newTransferFixture() transferFixture {
	return transferFixture{
		payer: solanago.NewWallet().PublicKey(),
		pool:  solanago.NewWallet().PublicKey(),
		admin: solanago.NewWallet().PublicKey(),
	}
}

func (f transferFixture) splitConfig() SplitConfig {
	return SplitConfig{
		PrizePoolWallet:   f.pool,
		AdminWallet:       f.admin,
		PrizePoolPercent:  DefaultPrizePoolPercent,
		ToleranceLamports: DefaultToleranceLamports,
		Policy:            PolicyStrict,
	}
}

// txn builds a finalized transaction where the payer sends poolLamports and
// adminLamports and pays fee.
func (f transferFixture) txn(sig solanago.Signature, poolLamports, adminLamports, fee uint64) *solana.FinalizedTransaction {
	const payerStart = 10_000_000_000
	return &solana.FinalizedTransaction{
		Signature:    sig.String(),
		Slot:         99,
		AccountKeys:  []solanago.PublicKey{f.payer, f.pool, f.admin, solanago.SystemProgramID},
		PreBalances:  []uint64{payerStart, 5_000_000, 7_000_000, 1},
		PostBalances: []uint64{payerStart - poolLamports - adminLamports - fee, 5_000_000 + poolLamports, 7_000_000 + adminLamports, 1},
		Fee:          fee,
		FeePayer:     f.payer,
	}
}
