package storage

import (
	"slices"
	"strings"
	"time"
)

// Client is a registered OAuth client application.
type Client struct {
	ID string

	// SecretHash is the bcrypt hash of the client secret. The plaintext
	// secret is only ever returned once, at registration.
	SecretHash []byte

	Name string

	// RedirectURIs are matched exactly; no prefix or pattern matching.
	RedirectURIs []string

	// Scopes is the set of scopes the client may request.
	Scopes []string

	// AllowedOrigin is the browser origin allowed to call the token endpoint
	// cross-origin on behalf of this client. Empty disables CORS.
	AllowedOrigin string

	Active    bool
	CreatedAt time.Time
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AuthorizationCode is a consented grant awaiting exchange.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string
	Scopes      []string

	// CodeChallenge is empty when the grant does not require PKCE.
	CodeChallenge       string
	CodeChallengeMethod string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// AccessToken is an issued opaque access token.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RefreshToken is an issued opaque refresh token. AccessToken references the
// access token it was issued alongside; that row may be gone by the time the
// refresh token is used.
type RefreshToken struct {
	Token       string
	AccessToken string
	ClientID    string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// User is an end user as seen by the authorization server.
type User struct {
	ID            string
	DisplayName   string
	AvatarURL     string
	Email         string
	EmailVerified bool
}

// IsValidAt reports whether t lies strictly before the expiry.
func IsValidAt(expiresAt, t time.Time) bool {
	return expiresAt.After(t)
}

// JoinScopes renders scopes in the space-delimited form used on the wire and
// in relational columns.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// SplitScopes parses a space-delimited scope string. Empty segments are dropped.
func SplitScopes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
