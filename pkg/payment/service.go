// Package payment implements the balance-enforcing debit operation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/polisai/polis-pay/pkg/domain"
)

// ServiceConfig wires the service collaborators.
type ServiceConfig struct {
	Repository domain.BalanceRepository
	Logger     *slog.Logger
}

// Service debits an account only after confirming the balance covers the amount.
// It never retries.
type Service struct {
	repo   domain.BalanceRepository
	logger *slog.Logger
}

// ErrNoRepository is returned when a Service is built without a repository.
var ErrNoRepository = errors.New("payment service requires a balance repository")

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, ErrNoRepository
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: cfg.Repository, logger: logger}, nil
}

// ProcessPayment reads the balance and, if it covers amount, debits it.
// Failures are returned as classified *domain.Error values.
func (s *Service) ProcessPayment(ctx context.Context, userID string, amount decimal.Decimal) (domain.TransactionResult, error) {
	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return domain.TransactionResult{}, classifyRepositoryError("get balance", err)
	}

	if balance.LessThan(amount) {
		s.logger.InfoContext(ctx, "payment rejected",
			"user_id", userID,
			"amount", amount.String(),
			"reason", domain.ErrInsufficientFunds.Error(),
		)
		return domain.TransactionResult{}, domain.BusinessFailure(domain.ErrInsufficientFunds)
	}

	result, err := s.repo.Debit(ctx, userID, amount)
	if err != nil {
		// A concurrent debit may have drained the account since the read.
		return domain.TransactionResult{}, classifyRepositoryError("debit", err)
	}

	s.logger.DebugContext(ctx, "account debited",
		"user_id", userID,
		"transaction_id", result.TransactionID,
	)
	return result, nil
}

// Handle adapts the service to the pipeline terminal contract.
func (s *Service) Handle(ctx context.Context, _ domain.AuthContext, req domain.PaymentRequest) (domain.TransactionResult, error) {
	return s.ProcessPayment(ctx, req.UserID(), req.Amount())
}

func classifyRepositoryError(op string, err error) *domain.Error {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return domain.BusinessFailure(domain.ErrInsufficientFunds)
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.BusinessFailure(domain.ErrAccountNotFound)
	default:
		return domain.Unexpected(fmt.Errorf("%s: %w", op, err))
	}
}
