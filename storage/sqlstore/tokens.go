package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/storage"
)

// SaveAccessToken stores an access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, done := s.startOperation(ctx, "save_access_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	query := "INSERT INTO oauth_access_tokens (" + accessTokenColumns + ") VALUES (" + placeholders(6) + ")"
	if _, err = s.exec(ctx, query, accessTokenArgs(token)...); err != nil {
		return fmt.Errorf("save access token: %w", err)
	}
	return nil
}

// FindValidAccessToken returns an unexpired access token
func (s *Store) FindValidAccessToken(ctx context.Context, token string, now time.Time) (t *storage.AccessToken, err error) {
	ctx, done := s.startOperation(ctx, "find_valid_access_token")
	defer func() { done(err) }()

	row := s.queryRow(ctx, "SELECT "+accessTokenColumns+" FROM oauth_access_tokens WHERE token = ? AND expires_at > ?", token, toMillis(now))
	return wrapAccessToken(scanAccessToken(row))
}

// GetAccessToken returns an access token regardless of expiry
func (s *Store) GetAccessToken(ctx context.Context, token string) (t *storage.AccessToken, err error) {
	ctx, done := s.startOperation(ctx, "get_access_token")
	defer func() { done(err) }()

	row := s.queryRow(ctx, "SELECT "+accessTokenColumns+" FROM oauth_access_tokens WHERE token = ?", token)
	return wrapAccessToken(scanAccessToken(row))
}

func wrapAccessToken(t *storage.AccessToken, err error) (*storage.AccessToken, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find access token: %w", err)
	}
	return t, nil
}

// DeleteAccessToken removes an access token
func (s *Store) DeleteAccessToken(ctx context.Context, token string) (err error) {
	ctx, done := s.startOperation(ctx, "delete_access_token")
	defer func() { done(err) }()

	if _, err = s.exec(ctx, "DELETE FROM oauth_access_tokens WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete access token: %w", err)
	}
	return nil
}

// SaveRefreshToken stores a refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, done := s.startOperation(ctx, "save_refresh_token")
	defer func() { done(err) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	query := "INSERT INTO oauth_refresh_tokens (" + refreshTokenColumns + ") VALUES (" + placeholders(6) + ")"
	if _, err = s.exec(ctx, query, refreshTokenArgs(token)...); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// FindValidRefreshToken returns an unexpired refresh token owned by clientID
func (s *Store) FindValidRefreshToken(ctx context.Context, token, clientID string, now time.Time) (t *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "find_valid_refresh_token")
	defer func() { done(err) }()

	row := s.queryRow(ctx,
		"SELECT "+refreshTokenColumns+" FROM oauth_refresh_tokens WHERE token = ? AND client_id = ? AND expires_at > ?",
		token, clientID, toMillis(now))
	return wrapRefreshToken(scanRefreshToken(row))
}

// GetRefreshToken returns a refresh token regardless of expiry
func (s *Store) GetRefreshToken(ctx context.Context, token string) (t *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "get_refresh_token")
	defer func() { done(err) }()

	row := s.queryRow(ctx, "SELECT "+refreshTokenColumns+" FROM oauth_refresh_tokens WHERE token = ?", token)
	return wrapRefreshToken(scanRefreshToken(row))
}

// ConsumeRefreshToken atomically deletes and returns a still-valid refresh token
func (s *Store) ConsumeRefreshToken(ctx context.Context, token, clientID string, now time.Time) (t *storage.RefreshToken, err error) {
	ctx, done := s.startOperation(ctx, "consume_refresh_token")
	defer func() { done(err) }()

	t, err = wrapRefreshToken(consumeRow(ctx, s, consumeQuery{
		table:   "oauth_refresh_tokens",
		columns: refreshTokenColumns,
		keyCol:  "token",
		key:     token,
		where:   "token = ? AND client_id = ? AND expires_at > ?",
		args:    []any{token, clientID, toMillis(now)},
	}, scanRefreshToken))
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Consumed refresh token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return t, nil
}

func wrapRefreshToken(t *storage.RefreshToken, err error) (*storage.RefreshToken, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return t, nil
}

// DeleteRefreshToken removes a refresh token
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (err error) {
	ctx, done := s.startOperation(ctx, "delete_refresh_token")
	defer func() { done(err) }()

	if _, err = s.exec(ctx, "DELETE FROM oauth_refresh_tokens WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}
