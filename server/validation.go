package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/storage"
)

// PKCE constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// compareDummySecret spends the same bcrypt work as a real comparison so
// unknown clients cannot be told apart by response time.
func compareDummySecret(secret string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-client-secret"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
}

// ValidateClient returns the active client with the given ID. When a secret
// is supplied it must match the stored hash. Unknown clients, inactive
// clients and wrong secrets all yield ErrInvalidClient.
func (s *Server) ValidateClient(ctx context.Context, clientID, clientSecret string) (client *storage.Client, err error) {
	ctx, span := s.startSpan(ctx, "validate_client")
	defer func() { endSpan(span, err) }()

	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", ErrInvalidRequest)
	}

	client, err = s.clients.FindActiveClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			if clientSecret != "" {
				compareDummySecret(clientSecret)
			}
			s.Logger.Debug("Client not found or inactive", "client_id", clientID)
			return nil, ErrInvalidClient
		}
		return nil, fmt.Errorf("failed to look up client: %w", err)
	}

	if clientSecret == "" {
		return client, nil
	}

	if len(client.SecretHash) == 0 {
		compareDummySecret(clientSecret)
		s.Logger.Debug("Secret presented for client without secret", "client_id", clientID)
		return nil, ErrInvalidClient
	}
	if err := bcrypt.CompareHashAndPassword(client.SecretHash, []byte(clientSecret)); err != nil {
		s.Logger.Debug("Client secret mismatch", "client_id", clientID)
		return nil, ErrInvalidClient
	}

	return client, nil
}

// ValidateRedirectURI reports whether redirectURI exactly matches one of the
// client's registered URIs. There is no prefix or pattern matching.
func (s *Server) ValidateRedirectURI(client *storage.Client, redirectURI string) bool {
	return client != nil && client.HasRedirectURI(redirectURI)
}

// ValidateScopes reports whether every requested scope was granted to the
// client. An empty request passes.
func (s *Server) ValidateScopes(client *storage.Client, requested []string) bool {
	if client == nil {
		return false
	}
	for _, scope := range requested {
		if !slices.Contains(client.Scopes, scope) {
			return false
		}
	}
	return true
}

// ParseScope splits a space-delimited scope parameter, dropping duplicates
// while keeping order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// validatePKCEParams checks the challenge parameters of an authorization
// request and returns the effective method.
func (s *Server) validatePKCEParams(codeChallenge, codeChallengeMethod string) (string, error) {
	if codeChallenge == "" {
		if codeChallengeMethod != "" {
			return "", fmt.Errorf("code_challenge_method without code_challenge")
		}
		if s.Config.RequirePKCE {
			return "", fmt.Errorf("code_challenge is required")
		}
		return "", nil
	}

	// RFC 7636 section 4.3: the method defaults to plain
	method := codeChallengeMethod
	if method == "" {
		method = PKCEMethodPlain
	}

	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if s.Config.DisallowPKCEPlain {
			return "", fmt.Errorf("'plain' code_challenge_method is not allowed")
		}
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if len(codeChallenge) < MinCodeVerifierLength || len(codeChallenge) > MaxCodeVerifierLength {
		return "", fmt.Errorf("code_challenge must be %d to %d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}

	return method, nil
}

// verifyPKCE recomputes the challenge from verifier and compares it in
// constant time.
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case PKCEMethodPlain:
		computed = verifier
	default:
		return false
	}

	return security.ConstantTimeEqual(computed, challenge)
}
