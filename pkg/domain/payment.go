package domain

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// PaymentRequest is the canonical, validated debit request. It can only be built
// through NewPaymentRequest and is immutable afterwards.
type PaymentRequest struct {
	userID string
	amount decimal.Decimal
}

// NewPaymentRequest enforces the request invariants: a non-empty user id and a
// strictly positive amount.
func NewPaymentRequest(userID string, amount decimal.Decimal) (PaymentRequest, error) {
	var fields []string
	if strings.TrimSpace(userID) == "" {
		fields = append(fields, "userId")
	}
	if !amount.IsPositive() {
		fields = append(fields, "amount")
	}
	if len(fields) > 0 {
		return PaymentRequest{}, ValidationFailure(fields, "invalid fields: %s", FieldList(fields))
	}
	return PaymentRequest{userID: userID, amount: amount}, nil
}

// UserID returns the account to debit.
func (r PaymentRequest) UserID() string { return r.userID }

// Amount returns the amount to debit.
func (r PaymentRequest) Amount() decimal.Decimal { return r.amount }

// AuthContext is the caller identity attached by the auth stage.
type AuthContext struct {
	Subject string
	Method  string // jwt, api_key
	Issuer  string
	Scopes  []string
}

// HasScope reports whether the caller was granted scope.
func (a AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TransactionResult is produced only by a successful debit.
type TransactionResult struct {
	TransactionID string
	NewBalance    decimal.Decimal
}

type transactionResultJSON struct {
	TransactionID string      `json:"transactionId"`
	NewBalance    json.Number `json:"newBalance"`
}

// MarshalJSON renders the balance as a JSON number rather than a quoted string.
func (r TransactionResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionResultJSON{
		TransactionID: r.TransactionID,
		NewBalance:    json.Number(r.NewBalance.String()),
	})
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (r *TransactionResult) UnmarshalJSON(data []byte) error {
	var wire transactionResultJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	balance, err := decimal.NewFromString(wire.NewBalance.String())
	if err != nil {
		return err
	}
	r.TransactionID = wire.TransactionID
	r.NewBalance = balance
	return nil
}
