package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polisai/polis-pay/pkg/domain"
)

// JWTConfig configures HMAC bearer token verification.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims are the token claims understood by the verifier. Scope is the OAuth
// style space separated list.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier authenticates bearer tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

var (
	// ErrNoSecret is returned when a JWT verifier is configured without a key.
	ErrNoSecret = errors.New("jwt secret is required")
	// ErrNoTTL is returned by SignToken for a token without a lifetime.
	ErrNoTTL = errors.New("token lifetime is required")
)

// NewJWTVerifier builds a verifier for cfg.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTVerifier{
		secret: append([]byte(nil), cfg.Secret...),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Method implements Verifier.
func (v *JWTVerifier) Method() string { return MethodJWT }

// Applies implements Verifier.
func (v *JWTVerifier) Applies(creds Credentials) bool { return creds.Bearer != "" }

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, creds Credentials) (domain.AuthContext, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(creds.Bearer, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.AuthContext{}, fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, tokenErrorReason(err))
	}
	if !token.Valid {
		return domain.AuthContext{}, fmt.Errorf("%w: token is not valid", domain.ErrInvalidCredentials)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.AuthContext{}, fmt.Errorf("%w: token has no subject", domain.ErrInvalidCredentials)
	}

	return domain.AuthContext{
		Subject: subject,
		Method:  MethodJWT,
		Issuer:  claims.Issuer,
		Scopes:  strings.Fields(claims.Scope),
	}, nil
}

func tokenErrorReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token has no expiry"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not valid yet"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature invalid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token issuer rejected"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "token audience rejected"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token malformed"
	default:
		return "token rejected"
	}
}

// TokenRequest describes a token minted by SignToken.
type TokenRequest struct {
	Subject  string
	Scopes   []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// SignToken mints an HS256 token expiring TTL from now. A negative TTL yields
// an already expired token. It backs the token CLI command and tests.
func SignToken(secret []byte, req TokenRequest) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	if req.TTL == 0 {
		return "", ErrNoTTL
	}
	now := time.Now()
	claims := Claims{
		Scope: strings.Join(req.Scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    req.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
		},
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
