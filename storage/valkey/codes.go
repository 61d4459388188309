package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/storage"
)

// SaveAuthorizationCode stores a code with a TTL matching its expiry
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.startOperation(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	if err := s.setJSON(ctx, s.codeKey(code.Code), toAuthorizationCodeJSON(code), s.ttlUntil(code.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// FindValidAuthorizationCode returns a code bound to clientID and redirectURI
// that is still valid at now
func (s *Store) FindValidAuthorizationCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (c *storage.AuthorizationCode, err error) {
	ctx, done := s.startOperation(ctx, "find_valid_authorization_code")
	defer func() { done(err) }()

	var j authorizationCodeJSON
	if err := s.getJSON(ctx, s.codeKey(code), &j, storage.ErrAuthorizationCodeNotFound); err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	c = fromAuthorizationCodeJSON(&j)
	if c.ClientID != clientID || c.RedirectURI != redirectURI || !storage.IsValidAt(c.ExpiresAt, now) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	return c, nil
}

// ConsumeAuthorizationCode atomically deletes and returns a code valid at now
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (c *storage.AuthorizationCode, err error) {
	ctx, done := s.startOperation(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	var j authorizationCodeJSON
	if err := s.evalConsume(ctx, luaConsumeCode, s.codeKey(code), &j, storage.ErrAuthorizationCodeNotFound, millis(now)); err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return fromAuthorizationCodeJSON(&j), nil
}

// DeleteAuthorizationCode removes a code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.startOperation(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	if err := s.del(ctx, s.codeKey(code)); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}
