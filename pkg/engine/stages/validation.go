package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine/runtime"
)

// PaymentSchema is the JSON schema a payment payload must satisfy.
const PaymentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userId", "amount"],
  "properties": {
    "userId": {"type": "string", "minLength": 1, "maxLength": 128},
    "amount": {"type": "number", "exclusiveMinimum": 0}
  }
}`

// Amount bounds. An amount may carry at most MaxAmountScale fractional digits
// and MaxAmountIntegerDigits digits before the decimal point, so that balance
// arithmetic stays small and every store can hold the result.
const (
	MaxAmountScale         = 18
	MaxAmountIntegerDigits = 18
)

// Validation turns the raw body into a domain.PaymentRequest.
type Validation struct {
	schema *gojsonschema.Schema
}

// NewValidation compiles PaymentSchema.
func NewValidation() (*Validation, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(PaymentSchema))
	if err != nil {
		return nil, fmt.Errorf("compile payment schema: %w", err)
	}
	return &Validation{schema: schema}, nil
}

// Name implements runtime.Stage.
func (v *Validation) Name() string { return NameValidation }

// Execute implements runtime.Stage.
func (v *Validation) Execute(_ context.Context, state runtime.State) (runtime.State, error) {
	if state.Auth == nil {
		return state, domain.Unexpected(errors.New("validation reached without auth context"))
	}

	payload, verr := normalizePayload(state.Invocation.Body)
	if verr != nil {
		return state, verr
	}

	if verr := checkAmountBounds(payload); verr != nil {
		return state, verr
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return state, domain.ValidationFailure([]string{"body"}, "request body is not valid JSON")
	}
	if !result.Valid() {
		return state, schemaFailure(result.Errors())
	}

	var wire struct {
		UserID string      `json:"userId"`
		Amount json.Number `json:"amount"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return state, domain.ValidationFailure([]string{"body"}, "request body is not valid JSON")
	}

	amount, verr := parseAmount(wire.Amount.String())
	if verr != nil {
		return state, verr
	}

	req, err := domain.NewPaymentRequest(wire.UserID, amount)
	if err != nil {
		return state, err
	}
	return state.WithRequest(req), nil
}

// normalizePayload returns the JSON object bytes, unwrapping a body that is
// itself a JSON string holding the object text.
func normalizePayload(body []byte) ([]byte, *domain.Error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, domain.ValidationFailure([]string{"body"}, "request body is required")
	}
	if !json.Valid(trimmed) {
		return nil, domain.ValidationFailure([]string{"body"}, "request body is not valid JSON")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}

	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, domain.ValidationFailure([]string{"body"}, "request body is not valid JSON")
	}
	return normalizePayload([]byte(inner))
}

// checkAmountBounds rejects a numeric amount whose scale or magnitude is out of
// range before the schema sees it. Other shapes are left to the schema.
func checkAmountBounds(payload []byte) *domain.Error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(fields["amount"])
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return nil
	}
	_, verr := parseAmount(string(raw))
	return verr
}

func parseAmount(text string) (decimal.Decimal, *domain.Error) {
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, domain.ValidationFailure([]string{"amount"}, "amount: not a decimal number")
	}
	if amount.IsZero() {
		return amount, nil
	}

	// Trailing zeros of the coefficient do not count towards the scale.
	coefficient := strings.TrimLeft(amount.Coefficient().String(), "-")
	significant := strings.TrimRight(coefficient, "0")
	exp := int64(amount.Exponent()) + int64(len(coefficient)-len(significant))

	if exp < -MaxAmountScale {
		return decimal.Decimal{}, domain.ValidationFailure([]string{"amount"},
			"amount: at most %d decimal places are allowed", MaxAmountScale)
	}
	if int64(len(significant))+exp > MaxAmountIntegerDigits {
		return decimal.Decimal{}, domain.ValidationFailure([]string{"amount"},
			"amount: at most %d integer digits are allowed", MaxAmountIntegerDigits)
	}
	return amount, nil
}

func schemaFailure(errs []gojsonschema.ResultError) *domain.Error {
	fieldSet := make(map[string]struct{}, len(errs))
	problems := make([]string, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		problem := fmt.Sprintf("%s: %s", field, e.Description())
		if e.Type() == "required" {
			if prop, ok := e.Details()["property"].(string); ok {
				field = prop
			}
			problem = field + ": is required"
		}
		if field == "(root)" {
			field = "body"
			problem = "body: " + e.Description()
		}
		fieldSet[field] = struct{}{}
		problems = append(problems, problem)
	}

	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	sort.Strings(problems)

	return domain.ValidationFailure(fields, "invalid request: %s", strings.Join(problems, "; "))
}
