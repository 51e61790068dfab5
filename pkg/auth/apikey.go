package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/polisai/polis-pay/pkg/domain"
)

// APIKeyPrefix is prepended to generated keys.
const APIKeyPrefix = "pp_live_"

// APIKey is a configured key, identified only by its hash.
type APIKey struct {
	Subject string
	Hash    string
	Scopes  []string
}

// APIKeyVerifier authenticates static API keys.
type APIKeyVerifier struct {
	keys []APIKey
}

// NewAPIKeyVerifier builds a verifier over keys. Hashes are hex SHA-256 digests.
func NewAPIKeyVerifier(keys []APIKey) (*APIKeyVerifier, error) {
	out := make([]APIKey, 0, len(keys))
	for i, key := range keys {
		hash := strings.ToLower(strings.TrimSpace(key.Hash))
		if _, err := hex.DecodeString(hash); err != nil || len(hash) != sha256.Size*2 {
			return nil, fmt.Errorf("api key %d: hash must be a hex sha256 digest", i)
		}
		if strings.TrimSpace(key.Subject) == "" {
			return nil, fmt.Errorf("api key %d: subject is required", i)
		}
		out = append(out, APIKey{Subject: key.Subject, Hash: hash, Scopes: append([]string(nil), key.Scopes...)})
	}
	return &APIKeyVerifier{keys: out}, nil
}

// Method implements Verifier.
func (v *APIKeyVerifier) Method() string { return MethodAPIKey }

// Applies implements Verifier.
func (v *APIKeyVerifier) Applies(creds Credentials) bool { return creds.APIKey != "" }

// Verify implements Verifier. Every configured key is compared so timing does
// not reveal which one matched.
func (v *APIKeyVerifier) Verify(_ context.Context, creds Credentials) (domain.AuthContext, error) {
	presented := []byte(HashAPIKey(creds.APIKey))

	var match *APIKey
	for i := range v.keys {
		if subtle.ConstantTimeCompare(presented, []byte(v.keys[i].Hash)) == 1 {
			match = &v.keys[i]
		}
	}
	if match == nil {
		return domain.AuthContext{}, fmt.Errorf("%w: unknown api key", domain.ErrInvalidCredentials)
	}

	return domain.AuthContext{
		Subject: match.Subject,
		Method:  MethodAPIKey,
		Scopes:  append([]string(nil), match.Scopes...),
	}, nil
}

// HashAPIKey returns the hex SHA-256 digest stored for key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a random API key and the hash to configure for it.
func GenerateAPIKey() (key, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate api key: %w", err)
	}
	key = APIKeyPrefix + hex.EncodeToString(raw)
	return key, HashAPIKey(key), nil
}
