package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/polisai/polis-pay/pkg/domain"
)

// Credential methods reported in domain.AuthContext.Method.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Header names inspected for credentials.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
)

// Credentials are the raw secrets found on an invocation.
type Credentials struct {
	Bearer string
	APIKey string
	// Malformed is set when an Authorization header is present but is not a
	// bearer credential.
	Malformed bool
}

// Empty reports whether no credential at all was supplied.
func (c Credentials) Empty() bool {
	return c.Bearer == "" && c.APIKey == "" && !c.Malformed
}

// ExtractCredentials reads credentials from the invocation headers.
func ExtractCredentials(inv domain.Invocation) Credentials {
	var creds Credentials
	if raw := strings.TrimSpace(inv.Header(HeaderAuthorization)); raw != "" {
		parts := strings.Fields(raw)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			creds.Bearer = parts[1]
		} else {
			creds.Malformed = true
		}
	}
	creds.APIKey = strings.TrimSpace(inv.Header(HeaderAPIKey))
	return creds
}

// Verifier authenticates one kind of credential.
type Verifier interface {
	// Method names the credential kind.
	Method() string
	// Applies reports whether creds carries this verifier's credential.
	Applies(creds Credentials) bool
	// Verify authenticates creds. Failures wrap domain.ErrInvalidCredentials.
	Verify(ctx context.Context, creds Credentials) (domain.AuthContext, error)
}

// Chain tries verifiers in order and uses the first one that applies.
type Chain struct {
	verifiers []Verifier
}

// NewChain constructs a verifier chain.
func NewChain(verifiers ...Verifier) Chain {
	out := make([]Verifier, 0, len(verifiers))
	for _, v := range verifiers {
		if v != nil {
			out = append(out, v)
		}
	}
	return Chain{verifiers: out}
}

// Len returns the number of configured verifiers.
func (c Chain) Len() int { return len(c.verifiers) }

// Authenticate verifies the credentials on inv.
func (c Chain) Authenticate(ctx context.Context, inv domain.Invocation) (domain.AuthContext, error) {
	creds := ExtractCredentials(inv)
	if creds.Empty() {
		return domain.AuthContext{}, domain.ErrMissingCredentials
	}

	for _, v := range c.verifiers {
		if !v.Applies(creds) {
			continue
		}
		authCtx, err := v.Verify(ctx, creds)
		if err != nil {
			return domain.AuthContext{}, err
		}
		authCtx.Method = v.Method()
		return authCtx, nil
	}

	if creds.Malformed {
		return domain.AuthContext{}, fmt.Errorf("%w: authorization header is not a bearer token", domain.ErrInvalidCredentials)
	}
	return domain.AuthContext{}, fmt.Errorf("%w: no verifier accepts the supplied credential", domain.ErrInvalidCredentials)
}
