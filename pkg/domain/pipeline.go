package domain

import (
	"context"
	"net/textproto"
	"strings"

	"github.com/shopspring/decimal"
)

// Invocation is the raw, untyped inbound event. The body is an opaque bag of
// bytes until the validation stage turns it into a PaymentRequest.
type Invocation struct {
	RequestID string
	Headers   map[string][]string
	Body      []byte
}

// Header returns the first value of the named header, matching case-insensitively.
func (inv Invocation) Header(name string) string {
	if len(inv.Headers) == 0 {
		return ""
	}
	if values, ok := inv.Headers[name]; ok && len(values) > 0 {
		return values[0]
	}
	if values, ok := inv.Headers[textproto.CanonicalMIMEHeaderKey(name)]; ok && len(values) > 0 {
		return values[0]
	}
	for key, values := range inv.Headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// Outcome is the single result of a pipeline run: either a success value or a
// classified failure, never both.
type Outcome struct {
	Result *TransactionResult
	Err    *Error
}

// Success constructs a successful outcome.
func Success(result TransactionResult) Outcome {
	return Outcome{Result: &result}
}

// Failure constructs a failed outcome.
func Failure(err *Error) Outcome {
	if err == nil {
		err = &Error{Kind: KindUnexpected, Message: "failure without error"}
	}
	return Outcome{Err: err}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Result != nil
}

// Label is a short, stable outcome name for logs and metrics.
func (o Outcome) Label() string {
	if o.OK() {
		return "success"
	}
	return string(o.Err.Kind)
}

// Response is the transport-agnostic envelope returned to the caller.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// ResponseBody is the decoded form of Response.Body.
type ResponseBody struct {
	Message string             `json:"message"`
	Data    *TransactionResult `json:"data,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// BalanceRepository is the durable owner of balance state.
//
// Debit must be an atomic conditional mutation: it subtracts amount only when
// the current balance covers it and otherwise reports ErrInsufficientFunds
// without changing anything.
type BalanceRepository interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (TransactionResult, error)
}

// AccountStore extends the repository with the administrative operations used
// by tooling and tests.
type AccountStore interface {
	BalanceRepository
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Close() error
}
