package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-pay/pkg/domain"
)

var testSecret = []byte("test-secret-test-secret-test-secret")

func invocation(headers map[string]string) domain.Invocation {
	h := make(map[string][]string, len(headers))
	for k, v := range headers {
		h[k] = []string{v}
	}
	return domain.Invocation{Headers: h}
}

func newChain(t *testing.T) (Chain, string) {
	t.Helper()
	jwtVerifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "polis-pay", Audience: "payments"})
	require.NoError(t, err)

	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	keyVerifier, err := NewAPIKeyVerifier([]APIKey{{Subject: "billing-svc", Hash: hash, Scopes: []string{"payments:write"}}})
	require.NoError(t, err)

	return NewChain(jwtVerifier, keyVerifier), key
}

func TestChainJWT(t *testing.T) {
	chain, _ := newChain(t)
	token, err := SignToken(testSecret, TokenRequest{
		Subject: "user-1", Scopes: []string{"payments:write", "payments:read"},
		Issuer: "polis-pay", Audience: "payments", TTL: time.Minute,
	})
	require.NoError(t, err)

	got, err := chain.Authenticate(context.Background(), invocation(map[string]string{"authorization": "Bearer " + token}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, MethodJWT, got.Method)
	assert.Equal(t, "polis-pay", got.Issuer)
	assert.True(t, got.HasScope("payments:write"))
}

func TestChainAPIKey(t *testing.T) {
	chain, key := newChain(t)

	got, err := chain.Authenticate(context.Background(), invocation(map[string]string{"X-API-Key": key}))
	require.NoError(t, err)
	assert.Equal(t, "billing-svc", got.Subject)
	assert.Equal(t, MethodAPIKey, got.Method)
}

func TestChainRejections(t *testing.T) {
	chain, _ := newChain(t)

	expired, err := SignToken(testSecret, TokenRequest{Subject: "u", Issuer: "polis-pay", Audience: "payments", TTL: -time.Minute})
	require.NoError(t, err)
	wrongKey, err := SignToken([]byte("another-secret"), TokenRequest{Subject: "u", Issuer: "polis-pay", Audience: "payments", TTL: time.Minute})
	require.NoError(t, err)
	wrongIssuer, err := SignToken(testSecret, TokenRequest{Subject: "u", Issuer: "elsewhere", Audience: "payments", TTL: time.Minute})
	require.NoError(t, err)
	noSubject, err := SignToken(testSecret, TokenRequest{Issuer: "polis-pay", Audience: "payments", TTL: time.Minute})
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Scope: "payments:write",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  "u",
			Issuer:   "polis-pay",
			Audience: jwt.ClaimStrings{"payments"},
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		want    error
	}{
		{"no headers", nil, domain.ErrMissingCredentials},
		{"basic auth", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, domain.ErrInvalidCredentials},
		{"garbage token", map[string]string{"Authorization": "Bearer not-a-jwt"}, domain.ErrInvalidCredentials},
		{"expired", map[string]string{"Authorization": "Bearer " + expired}, domain.ErrInvalidCredentials},
		{"wrong signing key", map[string]string{"Authorization": "Bearer " + wrongKey}, domain.ErrInvalidCredentials},
		{"wrong issuer", map[string]string{"Authorization": "Bearer " + wrongIssuer}, domain.ErrInvalidCredentials},
		{"no subject", map[string]string{"Authorization": "Bearer " + noSubject}, domain.ErrInvalidCredentials},
		{"no expiry", map[string]string{"Authorization": "Bearer " + noExpiry}, domain.ErrInvalidCredentials},
		{"alg none", map[string]string{"Authorization": "Bearer " + none}, domain.ErrInvalidCredentials},
		{"unknown api key", map[string]string{"X-API-Key": "pp_live_nope"}, domain.ErrInvalidCredentials},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := chain.Authenticate(context.Background(), invocation(tc.headers))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSignTokenRequiresTTL(t *testing.T) {
	_, err := SignToken(testSecret, TokenRequest{Subject: "u"})
	require.ErrorIs(t, err, ErrNoTTL)

	_, err = SignToken(nil, TokenRequest{Subject: "u", TTL: time.Minute})
	require.ErrorIs(t, err, ErrNoSecret)
}

func TestJWTVerifierReportsMissingExpiry(t *testing.T) {
	verifier, err := NewJWTVerifier(JWTConfig{Secret: testSecret})
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u"}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), Credentials{Bearer: token})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "token has no expiry")
}

func TestChainWithoutVerifierForCredential(t *testing.T) {
	keyVerifier, err := NewAPIKeyVerifier(nil)
	require.NoError(t, err)
	chain := NewChain(keyVerifier, nil)
	assert.Equal(t, 1, chain.Len())

	_, err = chain.Authenticate(context.Background(), invocation(map[string]string{"Authorization": "Bearer abc"}))
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Contains(t, key, APIKeyPrefix)
	assert.Equal(t, HashAPIKey(key), hash)
	assert.Len(t, hash, 64)

	other, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestConstructorValidation(t *testing.T) {
	_, err := NewJWTVerifier(JWTConfig{})
	require.ErrorIs(t, err, ErrNoSecret)

	_, err = NewAPIKeyVerifier([]APIKey{{Subject: "x", Hash: "short"}})
	require.Error(t, err)

	_, err = NewAPIKeyVerifier([]APIKey{{Hash: HashAPIKey("k")}})
	require.Error(t, err)
}
