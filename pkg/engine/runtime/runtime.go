// Package runtime defines the core contracts shared by the pipeline executor and
// its stages, keeping business logic decoupled from execution mechanics.
package runtime

import (
	"context"

	"github.com/polisai/polis-pay/pkg/domain"
)

// State is the in-flight request state handed from stage to stage. Stages
// return an augmented copy instead of mutating the one they received.
type State struct {
	Invocation domain.Invocation
	Auth       *domain.AuthContext
	Request    *domain.PaymentRequest
	Attributes map[string]any
}

// NewState seeds the state for a raw invocation.
func NewState(inv domain.Invocation) State {
	return State{Invocation: inv, Attributes: map[string]any{}}
}

// WithAuth returns a copy of s carrying the caller identity.
func (s State) WithAuth(auth domain.AuthContext) State {
	s.Auth = &auth
	s.Attributes = cloneAttributes(s.Attributes)
	return s
}

// WithRequest returns a copy of s carrying the validated request.
func (s State) WithRequest(req domain.PaymentRequest) State {
	s.Request = &req
	s.Attributes = cloneAttributes(s.Attributes)
	return s
}

// WithAttribute returns a copy of s with one extra attribute.
func (s State) WithAttribute(key string, value any) State {
	s.Attributes = cloneAttributes(s.Attributes)
	s.Attributes[key] = value
	return s
}

func cloneAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Stage is a guard or transform over the in-flight state. Returning an error
// halts the pipeline; the error should already be a classified *domain.Error.
type Stage interface {
	Name() string
	Execute(ctx context.Context, state State) (State, error)
}

// Finisher is implemented by stages that need to observe the final outcome.
// The executor calls Finish exactly once for every stage that started.
type Finisher interface {
	Finish(ctx context.Context, state State, outcome domain.Outcome)
}

// Terminal is the operation run after every stage succeeded.
type Terminal interface {
	Handle(ctx context.Context, auth domain.AuthContext, req domain.PaymentRequest) (domain.TransactionResult, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, state State) (State, error)
}

// Name implements Stage.
func (f StageFunc) Name() string { return f.StageName }

// Execute implements Stage.
func (f StageFunc) Execute(ctx context.Context, state State) (State, error) {
	return f.Fn(ctx, state)
}

// TerminalFunc adapts a function to the Terminal interface.
type TerminalFunc func(ctx context.Context, auth domain.AuthContext, req domain.PaymentRequest) (domain.TransactionResult, error)

// Handle implements Terminal.
func (f TerminalFunc) Handle(ctx context.Context, auth domain.AuthContext, req domain.PaymentRequest) (domain.TransactionResult, error) {
	return f(ctx, auth, req)
}
