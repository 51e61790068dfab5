package policy

import (
	"context"
	"sync/atomic"
)

// Action defines the outcome of a policy evaluation.
type Action string

const (
	// ActionAllow permits the request to proceed.
	ActionAllow Action = "allow"
	// ActionDeny terminates the request as unauthorized.
	ActionDeny Action = "deny"
)

// ActionDebit is the action evaluated before an account is debited.
const ActionDebit = "payments.debit"

// Decision captures the result of an authorization evaluation.
type Decision struct {
	Action   Action
	Reason   string
	Metadata map[string]string
}

// Allowed reports whether the decision lets the request continue.
func (d Decision) Allowed() bool { return d.Action == ActionAllow }

// Input is the caller context handed to the policy as `input`.
type Input struct {
	Subject      string
	Method       string
	Issuer       string
	Scopes       []string
	Action       string
	DisableCache bool
}

// Authorizer evaluates a policy decision for a given input.
type Authorizer interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// AllowAll is an Authorizer that permits every authenticated caller.
type AllowAll struct{}

// Evaluate implements Authorizer.
func (AllowAll) Evaluate(context.Context, Input) (Decision, error) {
	return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
}

// Swappable is an Authorizer whose underlying engine can be replaced while
// requests are in flight.
type Swappable struct {
	current atomic.Pointer[Engine]
}

// NewSwappable wraps engine.
func NewSwappable(engine *Engine) *Swappable {
	s := &Swappable{}
	s.current.Store(engine)
	return s
}

// Evaluate implements Authorizer using the most recently stored engine.
func (s *Swappable) Evaluate(ctx context.Context, input Input) (Decision, error) {
	return s.current.Load().Evaluate(ctx, input)
}

// Swap installs engine and returns the previous one.
func (s *Swappable) Swap(engine *Engine) *Engine {
	return s.current.Swap(engine)
}
