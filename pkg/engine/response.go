package engine

import (
	"encoding/json"
	"net/http"

	"github.com/polisai/polis-pay/pkg/domain"
)

// Envelope messages.
const (
	MessageSuccess = "Payment successful"
	MessageFailure = "Error processing purchase"
)

// StatusCode maps an outcome to its HTTP-style status code.
func StatusCode(outcome domain.Outcome) int {
	if outcome.OK() {
		return http.StatusOK
	}
	switch outcome.Err.Kind {
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindValidation, domain.KindBusiness:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Render builds the response envelope for outcome.
func Render(outcome domain.Outcome) domain.Response {
	body := domain.ResponseBody{Message: MessageSuccess}
	if outcome.OK() {
		body.Data = outcome.Result
	} else {
		body.Message = MessageFailure
		body.Error = outcome.Err.PublicMessage()
	}

	status := StatusCode(outcome)
	encoded, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		encoded = []byte(`{"message":"` + MessageFailure + `","error":"internal error"}`)
	}

	return domain.Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(encoded),
	}
}
