package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/polisai/polis-pay/pkg/domain"
)

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	ledger   map[string][]Entry
	now      func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]decimal.Decimal),
		ledger:   make(map[string][]Entry),
		now:      time.Now,
	}
}

// GetBalance returns the stored balance.
func (s *MemoryStore) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	return balance, nil
}

// Debit subtracts amount if the balance covers it. The check and the
// subtraction happen under one lock.
func (s *MemoryStore) Debit(_ context.Context, userID string, amount decimal.Decimal) (domain.TransactionResult, error) {
	if err := requirePositive(amount); err != nil {
		return domain.TransactionResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balance, ok := s.balances[userID]
	if !ok {
		return domain.TransactionResult{}, domain.ErrAccountNotFound
	}
	if balance.LessThan(amount) {
		return domain.TransactionResult{}, domain.ErrInsufficientFunds
	}

	next := balance.Sub(amount)
	s.balances[userID] = next
	id := s.appendLocked(userID, amount.Neg(), next)
	return domain.TransactionResult{TransactionID: id, NewBalance: next}, nil
}

// Credit adds amount, creating the account if needed.
func (s *MemoryStore) Credit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := requirePositive(amount); err != nil {
		return decimal.Zero, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.balances[userID].Add(amount)
	s.balances[userID] = next
	s.appendLocked(userID, amount, next)
	return next, nil
}

// History returns the ledger for userID, oldest first.
func (s *MemoryStore) History(_ context.Context, userID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	return append([]Entry(nil), s.ledger[userID]...), nil
}

func (s *MemoryStore) appendLocked(userID string, amount, balance decimal.Decimal) string {
	id := uuid.NewString()
	s.ledger[userID] = append(s.ledger[userID], Entry{
		TransactionID: id,
		UserID:        userID,
		Amount:        amount,
		BalanceAfter:  balance,
		CreatedAt:     s.now().UTC(),
	})
	return id
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}
