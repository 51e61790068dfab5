package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/polisai/polis-pay/pkg/domain"
)

// Balances are stored as decimal text so no value passes through a float.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id    TEXT PRIMARY KEY,
	balance    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id TEXT NOT NULL UNIQUE,
	user_id        TEXT NOT NULL REFERENCES accounts (user_id),
	amount         TEXT NOT NULL,
	balance_after  TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_user_id_idx ON ledger (user_id, id);
`

// errBalanceChanged reports a lost compare-and-swap on the balance row.
var errBalanceChanged = errors.New("balance changed during debit")

// SQLiteStore is a Store backed by an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the database at dsn (a file path or URI). An empty dsn
// opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// GetBalance returns the stored balance.
func (s *SQLiteStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	balance, _, err := selectBalance(ctx, s.db, userID)
	return balance, err
}

// Debit reads the balance, checks it and writes the new value with a
// compare-and-swap on the old one, all inside one transaction. The swap
// matches the stored text exactly as read, so rows written in another decimal
// form ("100.50") are debited like canonical ones.
func (s *SQLiteStore) Debit(ctx context.Context, userID string, amount decimal.Decimal) (domain.TransactionResult, error) {
	if err := requirePositive(amount); err != nil {
		return domain.TransactionResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TransactionResult{}, fmt.Errorf("begin debit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, stored, err := selectBalance(ctx, tx, userID)
	if err != nil {
		return domain.TransactionResult{}, err
	}
	if balance.LessThan(amount) {
		return domain.TransactionResult{}, domain.ErrInsufficientFunds
	}

	next := balance.Sub(amount)
	now := s.timestamp()
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE user_id = ? AND balance = ?`,
		next.String(), now, userID, stored)
	if err != nil {
		return domain.TransactionResult{}, fmt.Errorf("debit account: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return domain.TransactionResult{}, errBalanceChanged
	}

	id := uuid.NewString()
	if err := s.insertLedger(ctx, tx, id, userID, amount.Neg(), next, now); err != nil {
		return domain.TransactionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TransactionResult{}, fmt.Errorf("commit debit: %w", err)
	}
	return domain.TransactionResult{TransactionID: id, NewBalance: next}, nil
}

// Credit adds amount, creating the account if needed.
func (s *SQLiteStore) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := requirePositive(amount); err != nil {
		return decimal.Zero, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, _, err := selectBalance(ctx, tx, userID)
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		current = decimal.Zero
	case err != nil:
		return decimal.Zero, err
	}

	next := current.Add(amount)
	now := s.timestamp()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
		userID, next.String(), now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit account: %w", err)
	}
	if err := s.insertLedger(ctx, tx, uuid.NewString(), userID, amount, next, now); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit credit: %w", err)
	}
	return next, nil
}

// History returns the ledger for userID, oldest first.
func (s *SQLiteStore) History(ctx context.Context, userID string) ([]Entry, error) {
	if _, err := s.GetBalance(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, amount, balance_after, created_at
		  FROM ledger WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var id, amount, after, created string
		if err := rows.Scan(&id, &amount, &after, &created); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse ledger time: %w", err)
		}
		entry, err := newEntry(id, userID, amount, after, ts)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) insertLedger(ctx context.Context, tx *sql.Tx, id, userID string, amount, balance decimal.Decimal, now string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger (transaction_id, user_id, amount, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?)`, id, userID, amount.String(), balance.String(), now)
	if err != nil {
		return fmt.Errorf("insert ledger: %w", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// selectBalance returns the parsed balance together with the column text it
// was parsed from.
func selectBalance(ctx context.Context, q rowQuerier, userID string) (decimal.Decimal, string, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, "", domain.ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("select balance: %w", err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("parse balance %q: %w", raw, err)
	}
	return balance, raw, nil
}
