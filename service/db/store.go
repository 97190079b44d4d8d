package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/wishpay/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyCredited is returned when a signature already has a ledger entry.
	ErrAlreadyCredited = errors.New("signature already credited")
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Pool exposes the underlying pool for migrations and health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// User is a player account keyed by wallet address.
type User struct {
	WalletAddress string
	Username      string
	Credits       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreditEntry is one credited payment. Signature is unique across the table.
type CreditEntry struct {
	Signature                 string
	WalletAddress             string
	TotalLamports             int64
	PrizePoolLamports         int64
	AdminLamports             int64
	ExpectedPrizePoolLamports int64
	ExpectedAdminLamports     int64
	Credits                   int64
	Reconciled                bool
	FlaggedForAudit           bool
	CreatedAt                 time.Time
}

// CreditUserParams describes a verified payment to be credited.
type CreditUserParams struct {
	Signature                 string
	WalletAddress             string
	Username                  string // used only when the user is created
	TotalLamports             int64
	PrizePoolLamports         int64
	AdminLamports             int64
	ExpectedPrizePoolLamports int64
	ExpectedAdminLamports     int64
	Credits                   int64
	Reconciled                bool
	FlaggedForAudit           bool
}

// CreditResult is the outcome of a successful CreditUser call.
type CreditResult struct {
	Entry      *CreditEntry
	User       *User
	NewBalance int64
}

// ListCreditEntriesByWalletParams contains pagination parameters.
type ListCreditEntriesByWalletParams struct {
	WalletAddress string
	Limit         int32
	Offset        int32
}

// CreditUser records a ledger entry and increments the user's balance in one
// database transaction. The user is created on first credit. A signature that
// is already in the ledger returns ErrAlreadyCredited and changes nothing.
func (s *Store) CreditUser(ctx context.Context, params CreditUserParams) (result *CreditResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("credit_user", "credit_ledger", time.Since(start).Seconds(), err)
	}()

	if params.Credits < 0 {
		return nil, fmt.Errorf("credits must be non-negative, got %d", params.Credits)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	user := &User{}
	err = tx.QueryRow(ctx, `
		INSERT INTO users (wallet_address, username, credits)
		VALUES ($1, $2, $3)
		ON CONFLICT (wallet_address) DO UPDATE
		SET credits = users.credits + EXCLUDED.credits,
		    updated_at = now()
		RETURNING wallet_address, username, credits, created_at, updated_at`,
		params.WalletAddress, params.Username, params.Credits,
	).Scan(&user.WalletAddress, &user.Username, &user.Credits, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	entry := &CreditEntry{}
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (
			signature, wallet_address, total_lamports, prize_pool_lamports, admin_lamports,
			expected_prize_pool_lamports, expected_admin_lamports, credits, reconciled, flagged_for_audit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (signature) DO NOTHING
		RETURNING `+creditEntryColumns,
		params.Signature, params.WalletAddress, params.TotalLamports, params.PrizePoolLamports,
		params.AdminLamports, params.ExpectedPrizePoolLamports, params.ExpectedAdminLamports,
		params.Credits, params.Reconciled, params.FlaggedForAudit,
	).Scan(creditEntryDest(entry)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyCredited
	}
	if isUniqueViolation(err) {
		return nil, ErrAlreadyCredited
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert credit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyCredited
		}
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}

	return &CreditResult{
		Entry:      entry,
		User:       user,
		NewBalance: user.Credits,
	}, nil
}

// GetUser retrieves a user by wallet address.
func (s *Store) GetUser(ctx context.Context, walletAddress string) (user *User, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("get_user", "users", time.Since(start).Seconds(), ignoreNotFound(err))
	}()

	user = &User{}
	err = s.pool.QueryRow(ctx, `
		SELECT wallet_address, username, credits, created_at, updated_at
		FROM users WHERE wallet_address = $1`, walletAddress,
	).Scan(&user.WalletAddress, &user.Username, &user.Credits, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns users ordered by balance, highest first.
func (s *Store) ListUsers(ctx context.Context, limit, offset int32) (users []*User, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("list_users", "users", time.Since(start).Seconds(), err)
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT wallet_address, username, credits, created_at, updated_at
		FROM users
		ORDER BY credits DESC, wallet_address
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users = make([]*User, 0)
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.WalletAddress, &u.Username, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetCreditEntry retrieves the ledger entry for a signature.
func (s *Store) GetCreditEntry(ctx context.Context, signature string) (entry *CreditEntry, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("get_credit_entry", "credit_ledger", time.Since(start).Seconds(), ignoreNotFound(err))
	}()

	entry = &CreditEntry{}
	err = s.pool.QueryRow(ctx,
		`SELECT `+creditEntryColumns+` FROM credit_ledger WHERE signature = $1`, signature,
	).Scan(creditEntryDest(entry)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credit entry: %w", err)
	}
	return entry, nil
}

// ListCreditEntriesByWallet lists a wallet's ledger entries, newest first.
func (s *Store) ListCreditEntriesByWallet(ctx context.Context, params ListCreditEntriesByWalletParams) (entries []*CreditEntry, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("list_credit_entries_by_wallet", "credit_ledger", time.Since(start).Seconds(), err)
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT `+creditEntryColumns+`
		FROM credit_ledger
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, params.WalletAddress, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit entries: %w", err)
	}
	return collectCreditEntries(rows)
}

// ListFlaggedCreditEntries lists entries credited under the lenient mismatch
// policy that still need an audit, newest first.
func (s *Store) ListFlaggedCreditEntries(ctx context.Context, limit int32) (entries []*CreditEntry, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordDBQuery("list_flagged_credit_entries", "credit_ledger", time.Since(start).Seconds(), err)
	}()

	rows, err := s.pool.Query(ctx, `
		SELECT `+creditEntryColumns+`
		FROM credit_ledger
		WHERE flagged_for_audit
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list flagged credit entries: %w", err)
	}
	return collectCreditEntries(rows)
}

const creditEntryColumns = `signature, wallet_address, total_lamports, prize_pool_lamports, admin_lamports,
	expected_prize_pool_lamports, expected_admin_lamports, credits, reconciled, flagged_for_audit, created_at`

func creditEntryDest(e *CreditEntry) []any {
	return []any{
		&e.Signature, &e.WalletAddress, &e.TotalLamports, &e.PrizePoolLamports, &e.AdminLamports,
		&e.ExpectedPrizePoolLamports, &e.ExpectedAdminLamports, &e.Credits, &e.Reconciled,
		&e.FlaggedForAudit, &e.CreatedAt,
	}
}

func collectCreditEntries(rows pgx.Rows) ([]*CreditEntry, error) {
	defer rows.Close()

	entries := make([]*CreditEntry, 0)
	for rows.Next() {
		e := &CreditEntry{}
		if err := rows.Scan(creditEntryDest(e)...); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ignoreNotFound keeps lookups for missing rows out of the error metric.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
