// Package auth implements the gateway's opaque bearer-token check: a single
// shared secret, hashed at rest, compared against what a client presents.
// There is no authorization policy language here, only pass/fail (spec
// §4's "Auth failure | bad bearer | 401").
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// HashToken produces an argon2id hash of a raw token, suitable for storage
// in MCP_GATEWAY_AUTH_TOKEN_HASH. Grounded on the teacher's hash-key subcommand,
// upgraded from SHA-256 to argon2id since this hash is compared on every
// authenticated request rather than looked up by exact match.
func HashToken(raw string) (string, error) {
	hash, err := argon2id.CreateHash(raw, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("auth: hash token: %w", err)
	}
	return hash, nil
}

// GenerateToken returns a 32-byte URL-safe random token (spec §6: "if
// absent, a 32-byte URL-safe token is generated and logged once at
// startup").
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Verifier checks a presented bearer token against a precomputed hash.
type Verifier struct {
	hash string
}

// NewVerifier wraps an argon2id hash produced by HashToken.
func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: hash}
}

// Verify reports whether token matches the configured hash. A malformed
// stored hash or comparison error is treated as a failed match rather than
// propagated, since the caller (BearerAuthMiddleware) only needs pass/fail.
func (v *Verifier) Verify(token string) bool {
	if token == "" || v.hash == "" {
		return false
	}
	match, err := argon2id.ComparePasswordAndHash(token, v.hash)
	if err != nil {
		return false
	}
	return match
}
