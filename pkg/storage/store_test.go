package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-pay/internal/governance"
	"github.com/polisai/polis-pay/pkg/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type storeFactory func(t *testing.T) Store

func storeFactories(t *testing.T) map[string]storeFactory {
	t.Helper()
	factories := map[string]storeFactory{
		DriverMemory: func(*testing.T) Store { return NewMemoryStore() },
		DriverSQLite: func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "pay.db"))
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			return s
		},
	}
	if dsn := os.Getenv("PAY_TEST_DATABASE_URL"); dsn != "" {
		factories[DriverPostgres] = func(t *testing.T) Store {
			s, err := NewPostgresStore(context.Background(), dsn, 8)
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			_, err = s.pool.Exec(context.Background(), `TRUNCATE ledger, accounts`)
			require.NoError(t, err)
			return s
		}
	}
	return factories
}

func TestStores(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("debit and credit", func(t *testing.T) { testDebitCredit(t, factory(t)) })
			t.Run("insufficient funds", func(t *testing.T) { testInsufficient(t, factory(t)) })
			t.Run("unknown account", func(t *testing.T) { testUnknown(t, factory(t)) })
			t.Run("concurrent overdraft", func(t *testing.T) { testConcurrentOverdraft(t, factory(t)) })
		})
	}
}

func testDebitCredit(t *testing.T, s Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	balance, err := s.Credit(ctx, "u-1", dec("100.10"))
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100.10")))

	result, err := s.Debit(ctx, "u-1", dec("0.1"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.TransactionID)
	assert.True(t, result.NewBalance.Equal(dec("100")), "got %s", result.NewBalance)

	got, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("100")))

	history, err := s.History(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Amount.Equal(dec("100.10")))
	assert.True(t, history[1].Amount.Equal(dec("-0.1")))
	assert.Equal(t, result.TransactionID, history[1].TransactionID)
	assert.True(t, history[1].BalanceAfter.Equal(dec("100")))

	_, err = s.Debit(ctx, "u-1", decimal.Zero)
	require.ErrorIs(t, err, ErrNonPositiveAmount)
}

func testInsufficient(t *testing.T, s Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, err := s.Credit(ctx, "u-1", dec("10"))
	require.NoError(t, err)

	_, err = s.Debit(ctx, "u-1", dec("10.01"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	got, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("10")))

	result, err := s.Debit(ctx, "u-1", dec("10"))
	require.NoError(t, err)
	assert.True(t, result.NewBalance.IsZero())
}

func testUnknown(t *testing.T, s Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, err := s.GetBalance(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = s.Debit(ctx, "ghost", dec("1"))
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, err = s.History(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func testConcurrentOverdraft(t *testing.T, s Store) {
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	_, err := s.Credit(ctx, "u-1", dec("100"))
	require.NoError(t, err)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Debit(ctx, "u-1", dec("30"))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	got, err := s.GetBalance(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("10")))
}

func TestOpenDrivers(t *testing.T) {
	s, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(context.Background(), Options{Driver: "sqlite"})
	require.NoError(t, err)
	_, ok := s.(Migrator)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), Options{Driver: "oracle"})
	require.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(context.Background(), Options{Driver: "postgres"})
	require.Error(t, err)
}

func TestSQLiteDebitsNonCanonicalBalanceText(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		stored string
		amount string
		want   string
	}{
		{"trailing zero", "100.50", "30", "70.5"},
		{"padded fraction", "100.000", "0.25", "99.75"},
		{"exponent form", "1E2", "40", "60"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "pay.db"))
			require.NoError(t, err)
			defer func() { _ = s.Close() }()
			require.NoError(t, s.Migrate(ctx))

			_, err = s.db.ExecContext(ctx,
				`INSERT INTO accounts (user_id, balance, updated_at) VALUES (?, ?, ?)`,
				"u-1", tc.stored, "2026-01-01T00:00:00Z")
			require.NoError(t, err)

			res, err := s.Debit(ctx, "u-1", dec(tc.amount))
			require.NoError(t, err)
			assert.True(t, res.NewBalance.Equal(dec(tc.want)), res.NewBalance.String())

			got, err := s.GetBalance(ctx, "u-1")
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tc.want)), got.String())

			entries, err := s.History(ctx, "u-1")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.True(t, entries[0].Amount.Equal(dec(tc.amount).Neg()))
		})
	}
}

func TestSQLiteRejectsUnparseableBalance(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, "")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Migrate(ctx))

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, balance, updated_at) VALUES (?, ?, ?)`,
		"u-1", "lots", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	_, err = s.Debit(ctx, "u-1", dec("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse balance")
	assert.False(t, errors.Is(err, domain.ErrAccountNotFound))
}

type flakyRepo struct {
	err   error
	calls int
}

func (f *flakyRepo) GetBalance(context.Context, string) (decimal.Decimal, error) {
	f.calls++
	return decimal.Zero, f.err
}

func (f *flakyRepo) Debit(context.Context, string, decimal.Decimal) (domain.TransactionResult, error) {
	f.calls++
	return domain.TransactionResult{}, f.err
}

func TestGuardedOpensOnStoreFailures(t *testing.T) {
	repo := &flakyRepo{err: errors.New("connection refused")}
	guarded := NewGuarded(repo, governance.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, err := guarded.GetBalance(context.Background(), "u-1")
		require.Error(t, err)
	}
	assert.Equal(t, governance.StateOpen, guarded.Breaker().State())

	_, err := guarded.Debit(context.Background(), "u-1", dec("1"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, governance.ErrCircuitOpen)
	assert.Equal(t, 2, repo.calls)
}

func TestGuardedIgnoresBusinessOutcomes(t *testing.T) {
	repo := &flakyRepo{err: domain.ErrInsufficientFunds}
	guarded := NewGuarded(repo, governance.CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := guarded.Debit(context.Background(), "u-1", dec("1"))
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	assert.Equal(t, governance.StateClosed, guarded.Breaker().State())
	assert.Equal(t, 5, repo.calls)
}
