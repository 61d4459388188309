package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/storage"
)

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken stores an access token with a TTL matching its expiry
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.startOperation(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	if err := s.setJSON(ctx, s.accessTokenKey(token.Token), toAccessTokenJSON(token), s.ttlUntil(token.ExpiresAt)); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token", "token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// FindValidAccessToken returns an access token valid at now
func (s *Store) FindValidAccessToken(ctx context.Context, token string, now time.Time) (t *storage.AccessToken, err error) {
	ctx, done := s.startOperation(ctx, "find_valid_access_token")
	defer func() { done(err) }()

	t, err = s.getAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !storage.IsValidAt(t.ExpiresAt, now) {
		return nil, storage.ErrTokenNotFound
	}
	return t, nil
}

// GetAccessToken returns an access token regardless of expiry
func (s *Store) GetAccessToken(ctx context.Context, token string) (t *storage.AccessToken, err error) {
	ctx, done := s.startOperation(ctx, "get_access_token")
	defer func() { done(err) }()

	return s.getAccessToken(ctx, token)
}

func (s *Store) getAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	var j accessTokenJSON
	if err := s.getJSON(ctx, s.accessTokenKey(token), &j, storage.ErrTokenNotFound); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	return fromAccessTokenJSON(&j), nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) (err error) {
	ctx, done := s.startOperation(ctx, "delete_access_token")
	defer func() { done(err) }()

	if err := s.del(ctx, s.accessTokenKey(token)); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken stores a refresh token and keeps its sibling access token
// alive for at least as long
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, done := s.startOperation(ctx, "save_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	data, err := json.Marshal(toRefreshTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal refresh token: %w", err)
	}

	ttl := s.ttlUntil(token.ExpiresAt)
	err = s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveRefreshToken).
			Numkeys(2).
			Key(s.refreshTokenKey(token.Token), s.accessTokenKey(token.AccessToken)).
			Arg(string(data), strconv.FormatInt(ttl.Milliseconds(), 10)).
			Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token", "token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// FindValidRefreshToken returns a refresh token owned by clientID and valid at now
func (s *Store) FindValidRefreshToken(ctx context.Context, token, clientID string, now time.Time) (t *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "find_valid_refresh_token")
	defer func() { done(err) }()

	t, err = s.getRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if t.ClientID != clientID || !storage.IsValidAt(t.ExpiresAt, now) {
		return nil, storage.ErrTokenNotFound
	}
	return t, nil
}

// GetRefreshToken returns a refresh token regardless of expiry
func (s *Store) GetRefreshToken(ctx context.Context, token string) (t *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "get_refresh_token")
	defer func() { done(err) }()

	return s.getRefreshToken(ctx, token)
}

func (s *Store) getRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	var j refreshTokenJSON
	if err := s.getJSON(ctx, s.refreshTokenKey(token), &j, storage.ErrTokenNotFound); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return fromRefreshTokenJSON(&j), nil
}

// ConsumeRefreshToken atomically deletes and returns a refresh token owned by
// clientID and valid at now
func (s *Store) ConsumeRefreshToken(ctx context.Context, token, clientID string, now time.Time) (t *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "consume_refresh_token")
	defer func() { done(err) }()

	var j refreshTokenJSON
	if err := s.evalConsume(ctx, luaConsumeRefreshToken, s.refreshTokenKey(token), &j, storage.ErrTokenNotFound, millis(now), clientID); err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed refresh token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return fromRefreshTokenJSON(&j), nil
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (err error) {
	ctx, done := s.startOperation(ctx, "delete_refresh_token")
	defer func() { done(err) }()

	if err := s.del(ctx, s.refreshTokenKey(token)); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}
