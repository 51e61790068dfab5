package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/polisai/polis-pay/pkg/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT PRIMARY KEY,
	balance    NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id UUID NOT NULL UNIQUE,
	user_id        TEXT NOT NULL REFERENCES accounts (user_id),
	amount         NUMERIC NOT NULL,
	balance_after  NUMERIC NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ledger_user_id_idx ON ledger (user_id, id);
`

// pgCheckViolation is the SQLSTATE raised by the balance >= 0 constraint.
const pgCheckViolation = "23514"

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	// Serverless invocations come and go; do not pin idle connections.
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

// GetBalance returns the stored balance.
func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("select balance: %w", err)
	}
	return decimal.NewFromString(raw)
}

// Debit subtracts amount in a single conditional UPDATE, so the sufficiency
// check and the write cannot interleave with another debit.
func (s *PostgresStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) (domain.TransactionResult, error) {
	if err := requirePositive(amount); err != nil {
		return domain.TransactionResult{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TransactionResult{}, fmt.Errorf("begin debit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw string
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		   SET balance = balance - $2::numeric, updated_at = now()
		 WHERE user_id = $1 AND balance >= $2::numeric
		RETURNING balance::text`, userID, amount.String()).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.TransactionResult{}, s.missOrShort(ctx, tx, userID)
	case isCheckViolation(err):
		return domain.TransactionResult{}, domain.ErrInsufficientFunds
	case err != nil:
		return domain.TransactionResult{}, fmt.Errorf("debit account: %w", err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return domain.TransactionResult{}, fmt.Errorf("parse balance: %w", err)
	}

	id := uuid.NewString()
	if err := insertLedger(ctx, tx, id, userID, amount.Neg(), balance); err != nil {
		return domain.TransactionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.TransactionResult{}, fmt.Errorf("commit debit: %w", err)
	}

	return domain.TransactionResult{TransactionID: id, NewBalance: balance}, nil
}

// Credit adds amount, creating the account if needed.
func (s *PostgresStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := requirePositive(amount); err != nil {
		return decimal.Zero, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw string
	err = tx.QueryRow(ctx, `
		INSERT INTO accounts (user_id, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (user_id) DO UPDATE
		   SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance::text`, userID, amount.String()).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit account: %w", err)
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	if err := insertLedger(ctx, tx, uuid.NewString(), userID, amount, balance); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit credit: %w", err)
	}
	return balance, nil
}

// History returns the ledger for userID, oldest first.
func (s *PostgresStore) History(ctx context.Context, userID string) ([]Entry, error) {
	if _, err := s.GetBalance(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT transaction_id::text, amount::text, balance_after::text, created_at
		  FROM ledger
		 WHERE user_id = $1
		 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id, amount, after string
			created           time.Time
		)
		if err := rows.Scan(&id, &amount, &after, &created); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		entry, err := newEntry(id, userID, amount, after, created)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) missOrShort(ctx context.Context, tx pgx.Tx, userID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if !exists {
		return domain.ErrAccountNotFound
	}
	return domain.ErrInsufficientFunds
}

func insertLedger(ctx context.Context, tx pgx.Tx, id, userID string, amount, balance decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger (transaction_id, user_id, amount, balance_after)
		VALUES ($1::uuid, $2, $3::numeric, $4::numeric)`,
		id, userID, amount.String(), balance.String())
	if err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}
	return nil
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation
}

func newEntry(id, userID, amount, after string, created time.Time) (Entry, error) {
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return Entry{}, fmt.Errorf("parse ledger amount: %w", err)
	}
	bal, err := decimal.NewFromString(after)
	if err != nil {
		return Entry{}, fmt.Errorf("parse ledger balance: %w", err)
	}
	return Entry{TransactionID: id, UserID: userID, Amount: amt, BalanceAfter: bal, CreatedAt: created.UTC()}, nil
}
