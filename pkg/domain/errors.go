package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrAccountNotFound     = errors.New("account not found")
	ErrConfigInvalid       = errors.New("invalid configuration")
)

// ErrorKind classifies a pipeline failure. The kind alone decides the status
// code surfaced to the caller.
type ErrorKind string

const (
	// KindAuth marks an unauthenticated or unauthorized caller.
	KindAuth ErrorKind = "AuthError"
	// KindValidation marks a malformed payload or missing fields.
	KindValidation ErrorKind = "ValidationError"
	// KindBusiness marks a business-rule violation such as insufficient funds.
	KindBusiness ErrorKind = "InsufficientFunds"
	// KindUnexpected marks any other failure, including repository faults.
	KindUnexpected ErrorKind = "UnexpectedError"
)

// Error is a classified failure. Every stage and the terminal operation convert
// their failures into an *Error before they reach the pipeline boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	// Fields names the offending payload fields for validation failures.
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessage returns the message that is safe to show the caller.
// Unexpected errors never leak their detail.
func (e *Error) PublicMessage() string {
	if e.Kind == KindUnexpected {
		return "internal error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// AuthFailure builds an AuthError.
func AuthFailure(err error, message string) *Error {
	return &Error{Kind: KindAuth, Message: message, Err: err}
}

// ValidationFailure builds a ValidationError naming the offending fields.
func ValidationFailure(fields []string, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{
		Kind:    KindValidation,
		Message: msg,
		Fields:  append([]string(nil), fields...),
		Err:     ErrInvalidPayload,
	}
}

// BusinessFailure builds a business-rule failure.
func BusinessFailure(err error) *Error {
	return &Error{Kind: KindBusiness, Message: err.Error(), Err: err}
}

// Unexpected wraps an unclassified failure.
func Unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Err: err}
}

// Classify returns err as an *Error, treating anything unclassified as unexpected.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	return Unexpected(err)
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var classified *Error
	return errors.As(err, &classified) && classified.Kind == kind
}

// FieldList joins field names for messages, e.g. "amount, userId".
func FieldList(fields []string) string {
	return strings.Join(fields, ", ")
}
