package server

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/brojonat/wishpay/service/db"
	natspkg "github.com/brojonat/wishpay/service/nats"
	"github.com/brojonat/wishpay/service/payment"
	"github.com/brojonat/wishpay/service/solana"
	"github.com/brojonat/wishpay/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	testPayer     = solanago.NewWallet().PublicKey().String()
	testSignature = solanago.Signature{7, 7, 7}.String()
)

type fakeBuilder struct {
	err        error
	lastAmount decimal.Decimal
	lastPayer  string
}

func (b *fakeBuilder) BuildSplitTransfer(ctx context.Context, amount decimal.Decimal, payer string) (*payment.BuiltTransfer, error) {
	b.lastAmount, b.lastPayer = amount, payer
	if b.err != nil {
		return nil, b.err
	}
	lamports, err := payment.ToLamports(amount)
	if err != nil {
		return nil, err
	}
	split, _ := payment.SplitLamports(lamports, 80)
	credits, err := payment.NewRateCalculator(6).CreditsForAmount(amount)
	if err != nil {
		return nil, err
	}
	return &payment.BuiltTransfer{
		Transaction:          "AQID",
		Payer:                payer,
		Split:                split,
		ExpectedCredits:      credits,
		Blockhash:            "hash",
		LastValidBlockHeight: 77,
	}, nil
}

type fakeValidator struct {
	result *payment.CreditResult
	err    error
}

func (v *fakeValidator) ValidateAndCredit(ctx context.Context, payer, sig string) (*payment.CreditResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.result, nil
}

type fakeLedger struct {
	status *solana.SignatureStatus
	err    error
}

func (l *fakeLedger) GetSignatureStatus(ctx context.Context, sig solanago.Signature) (*solana.SignatureStatus, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.status, nil
}

type fakeStore struct {
	users   map[string]*db.User
	entries map[string]*db.CreditEntry
	err     error
	pingErr error

	lastList db.ListCreditEntriesByWalletParams
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]*db.User),
		entries: make(map[string]*db.CreditEntry),
	}
}

func (s *fakeStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *fakeStore) GetUser(ctx context.Context, wallet string) (*db.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[wallet]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) GetCreditEntry(ctx context.Context, sig string) (*db.CreditEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	e, ok := s.entries[sig]
	if !ok {
		return nil, db.ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) ListCreditEntriesByWallet(ctx context.Context, p db.ListCreditEntriesByWalletParams) ([]*db.CreditEntry, error) {
	s.lastList = p
	if s.err != nil {
		return nil, s.err
	}
	var out []*db.CreditEntry
	for _, e := range s.entries {
		if e.WalletAddress == p.WalletAddress {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeSettler struct {
	startErr  error
	status    *temporal.SettlementStatus
	statusErr error
	started   []string
}

func (s *fakeSettler) StartSettlement(ctx context.Context, payer, sig string) (string, error) {
	id := temporal.SettlementWorkflowID(sig)
	if s.startErr != nil {
		return id, s.startErr
	}
	s.started = append(s.started, sig)
	return id, nil
}

func (s *fakeSettler) GetSettlementStatus(ctx context.Context, id string) (*temporal.SettlementStatus, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.status, nil
}

type fakeSubscriber struct {
	mu      sync.Mutex
	events  chan *natspkg.CreditEvent
	err     error
	wallets []string
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, wallet string) (<-chan *natspkg.CreditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.wallets = append(s.wallets, wallet)
	return s.events, nil
}
