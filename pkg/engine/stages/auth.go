package stages

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-pay/pkg/domain"
	"github.com/polisai/polis-pay/pkg/engine/runtime"
	"github.com/polisai/polis-pay/pkg/policy"
	"github.com/polisai/polis-pay/pkg/telemetry"
)

// Authenticator resolves the caller identity from an invocation.
type Authenticator interface {
	Authenticate(ctx context.Context, inv domain.Invocation) (domain.AuthContext, error)
}

// AuthConfig wires the auth stage.
type AuthConfig struct {
	Authenticator Authenticator
	// Authorizer is consulted after authentication. Nil allows every caller.
	Authorizer policy.Authorizer
	// Action is the policy action evaluated; defaults to policy.ActionDebit.
	Action string
}

// Auth authenticates the caller and attaches an AuthContext. The body is
// never inspected.
type Auth struct {
	authenticator Authenticator
	authorizer    policy.Authorizer
	action        string
}

// NewAuth builds the auth stage.
func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.Authenticator == nil {
		return nil, errors.New("auth stage requires an authenticator")
	}
	authorizer := cfg.Authorizer
	if authorizer == nil {
		authorizer = policy.AllowAll{}
	}
	action := cfg.Action
	if action == "" {
		action = policy.ActionDebit
	}
	return &Auth{authenticator: cfg.Authenticator, authorizer: authorizer, action: action}, nil
}

// Name implements runtime.Stage.
func (a *Auth) Name() string { return NameAuth }

// Execute implements runtime.Stage.
func (a *Auth) Execute(ctx context.Context, state runtime.State) (runtime.State, error) {
	authCtx, err := a.authenticator.Authenticate(ctx, state.Invocation)
	switch {
	case errors.Is(err, domain.ErrMissingCredentials):
		return state, domain.AuthFailure(err, "missing credentials")
	case errors.Is(err, domain.ErrInvalidCredentials):
		return state, domain.AuthFailure(err, "invalid credentials")
	case err != nil:
		return state, domain.Unexpected(fmt.Errorf("authenticate: %w", err))
	}

	decision, err := a.authorizer.Evaluate(ctx, policy.Input{
		Subject: authCtx.Subject,
		Method:  authCtx.Method,
		Issuer:  authCtx.Issuer,
		Scopes:  authCtx.Scopes,
		Action:  a.action,
	})
	if err != nil {
		return state, domain.Unexpected(fmt.Errorf("authorize: %w", err))
	}
	telemetry.RecordPolicyDecision(trace.SpanFromContext(ctx), decision)

	if !decision.Allowed() {
		cause := domain.ErrAuthorizationDenied
		if decision.Reason != "" {
			cause = fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, decision.Reason)
		}
		return state, domain.AuthFailure(cause, "not authorized")
	}

	return state.WithAuth(authCtx), nil
}
