package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authserver/storage"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString returns n random URL-safe characters.
func GenerateRandomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n]
}

// GeneratePKCEPair returns a verifier and its S256 challenge.
func GeneratePKCEPair() (verifier, challenge string) {
	verifier = GenerateRandomString(64)
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}

// TestRedirectURI is the redirect URI registered on TestClient.
const TestRedirectURI = "https://app.example/cb"

// TestClient returns an active client with two redirect URIs and the scopes
// openid, profile and email. secretHash may be nil.
func TestClient(id string, secretHash []byte) *storage.Client {
	return &storage.Client{
		ID:            id,
		SecretHash:    secretHash,
		Name:          "Test App",
		RedirectURIs:  []string{TestRedirectURI, "https://app.example/other"},
		Scopes:        []string{"openid", "profile", "email"},
		AllowedOrigin: "https://app.example",
		Active:        true,
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// TestUser returns a user with every profile field set.
func TestUser(id string) *storage.User {
	return &storage.User{
		ID:            id,
		DisplayName:   "Ada Lovelace",
		AvatarURL:     "https://cdn.example/ada.png",
		Email:         "ada@example.com",
		EmailVerified: true,
	}
}
