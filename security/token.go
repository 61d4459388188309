package security

import (
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// GenerateToken returns a fresh opaque credential: 32 bytes from crypto/rand,
// base64url-encoded without padding (43 characters). It is used for
// authorization codes, access tokens, refresh tokens, client secrets and
// CSRF tokens.
func GenerateToken() string {
	return oauth2.GenerateVerifier()
}

// ConstantTimeEqual compares two strings without leaking where they differ.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
