package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/storage"
)

// ClientRegistration is an administrative request to register a client.
type ClientRegistration struct {
	Name          string
	RedirectURIs  []string
	Scopes        []string
	AllowedOrigin string
}

// RegisterClient validates the registration, stores a new active client and
// returns it together with its plaintext secret. Only a bcrypt hash of the
// secret is kept.
func (s *Server) RegisterClient(ctx context.Context, reg ClientRegistration) (client *storage.Client, secret string, err error) {
	ctx, span := s.startSpan(ctx, "register_client")
	defer func() { endSpan(span, err) }()

	if err := s.validateRegistration(&reg); err != nil {
		s.Auditor.LogEvent(security.Event{
			Type: security.EventClientRegistrationRejected,
			Details: map[string]any{
				"reason":   err.Error(),
				"category": GetRedirectURIErrorCategory(err),
			},
		})
		s.Logger.Warn("Client registration rejected", "error", err)
		return nil, "", err
	}

	secret = security.GenerateToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
	}

	client = &storage.Client{
		ID:            uuid.NewString(),
		SecretHash:    hash,
		Name:          reg.Name,
		RedirectURIs:  slices.Clone(reg.RedirectURIs),
		Scopes:        slices.Clone(reg.Scopes),
		AllowedOrigin: reg.AllowedOrigin,
		Active:        true,
		CreatedAt:     s.now(),
	}
	if err := s.clients.SaveClient(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to save client: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordClientRegistration(ctx)
	}
	s.Auditor.LogClientRegistered(client.ID, "")
	s.Logger.Info("Registered client", "client_id", client.ID, "name", client.Name)

	return client, secret, nil
}

func (s *Server) validateRegistration(reg *ClientRegistration) error {
	reg.Name = strings.TrimSpace(reg.Name)
	if reg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}

	if err := s.ValidateRedirectURIsForRegistration(reg.RedirectURIs); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	for _, scope := range reg.Scopes {
		if scope == "" || strings.ContainsAny(scope, " \t\n\"\\") {
			return fmt.Errorf("%w: invalid scope %q", ErrInvalidRequest, scope)
		}
	}

	if reg.AllowedOrigin != "" {
		if err := validateOrigin(reg.AllowedOrigin); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return nil
}

// DeactivateClient marks a client inactive. Its codes and tokens stop
// validating because every flow requires an active client.
func (s *Server) DeactivateClient(ctx context.Context, clientID string) (err error) {
	ctx, span := s.startSpan(ctx, "deactivate_client")
	defer func() { endSpan(span, err) }()

	if err := s.clients.DeactivateClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return ErrInvalidClient
		}
		return fmt.Errorf("failed to deactivate client: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordClientDeactivation(ctx)
	}
	s.Auditor.LogClientDeactivated(clientID)
	s.Logger.Info("Deactivated client", "client_id", clientID)
	return nil
}

// ListClients returns all registered clients, active or not.
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	clients, err := s.clients.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return clients, nil
}

// ValidateRegistrationToken reports whether token is the configured
// registration access token. An unset token never matches.
func (s *Server) ValidateRegistrationToken(token string) bool {
	if s.Config.RegistrationAccessToken == "" || token == "" {
		return false
	}
	return security.ConstantTimeEqual(token, s.Config.RegistrationAccessToken)
}
