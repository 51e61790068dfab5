package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polisai/polis-pay/pkg/domain"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// ErrNonPositiveAmount is returned when a credit or debit amount is not > 0.
var ErrNonPositiveAmount = errors.New("amount must be greater than 0")

// Entry is one ledger line written alongside every balance change.
type Entry struct {
	TransactionID string
	UserID        string
	// Amount is negative for debits.
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	CreatedAt    time.Time
}

// Store is an account store that also exposes its ledger.
type Store interface {
	domain.AccountStore
	History(ctx context.Context, userID string) ([]Entry, error)
}

// Options select and configure a store.
type Options struct {
	Driver   string
	DSN      string
	MaxConns int32
}

// Open returns the store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		return NewPostgresStore(ctx, opts.DSN, opts.MaxConns)
	case DriverSQLite:
		return NewSQLiteStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	return nil
}
