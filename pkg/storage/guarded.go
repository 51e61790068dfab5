package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/polisai/polis-pay/internal/governance"
	"github.com/polisai/polis-pay/pkg/domain"
)

// ErrStoreUnavailable is returned while the circuit around the store is open.
var ErrStoreUnavailable = errors.New("balance store unavailable")

// Guarded wraps a repository with a circuit breaker. Business outcomes such as
// insufficient funds do not count as store failures.
type Guarded struct {
	next    domain.BalanceRepository
	breaker *governance.CircuitBreaker
}

// NewGuarded wraps next. cfg.IsFailure is replaced so only infrastructure
// errors trip the circuit.
func NewGuarded(next domain.BalanceRepository, cfg governance.CircuitBreakerConfig) *Guarded {
	cfg.IsFailure = IsStoreFailure
	return &Guarded{next: next, breaker: governance.NewCircuitBreaker(cfg)}
}

// IsStoreFailure reports whether err indicates an unhealthy store.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, ErrNonPositiveAmount),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

// GetBalance implements domain.BalanceRepository.
func (g *Guarded) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		balance, err = g.next.GetBalance(ctx, userID)
		return err
	})
	return balance, translateOpen(err)
}

// Debit implements domain.BalanceRepository.
func (g *Guarded) Debit(ctx context.Context, userID string, amount decimal.Decimal) (domain.TransactionResult, error) {
	var result domain.TransactionResult
	err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = g.next.Debit(ctx, userID, amount)
		return err
	})
	return result, translateOpen(err)
}

// Breaker exposes the circuit for health reporting.
func (g *Guarded) Breaker() *governance.CircuitBreaker { return g.breaker }

func translateOpen(err error) error {
	if errors.Is(err, governance.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
