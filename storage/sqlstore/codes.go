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

// tokenIDLogLength is the number of characters logged from a code or token
const tokenIDLogLength = 8

// SaveAuthorizationCode stores an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, done := s.startOperation(ctx, "save_authorization_code")
	defer func() { done(err) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	query := "INSERT INTO oauth_authorization_codes (" + codeColumns + ") VALUES (" + placeholders(9) + ")"
	if _, err = s.exec(ctx, query, codeArgs(code)...); err != nil {
		return fmt.Errorf("save authorization code: %w", err)
	}
	return nil
}

// FindValidAuthorizationCode returns an unexpired code bound to clientID and redirectURI
func (s *Store) FindValidAuthorizationCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (c *storage.AuthorizationCode, err error) {
	ctx, done := s.startOperation(ctx, "find_valid_authorization_code")
	defer func() { done(err) }()

	row := s.queryRow(ctx,
		"SELECT "+codeColumns+" FROM oauth_authorization_codes WHERE code = ? AND client_id = ? AND redirect_uri = ? AND expires_at > ?",
		code, clientID, redirectURI, toMillis(now))
	c, err = scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find authorization code: %w", err)
	}
	return c, nil
}

// ConsumeAuthorizationCode atomically deletes and returns a still-valid code
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (c *storage.AuthorizationCode, err error) {
	ctx, done := s.startOperation(ctx, "consume_authorization_code")
	defer func() { done(err) }()

	c, err = consumeRow(ctx, s, consumeQuery{
		table:   "oauth_authorization_codes",
		columns: codeColumns,
		keyCol:  "code",
		key:     code,
		where:   "code = ? AND expires_at > ?",
		args:    []any{code, toMillis(now)},
	}, scanCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return c, nil
}

// DeleteAuthorizationCode removes a code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (err error) {
	ctx, done := s.startOperation(ctx, "delete_authorization_code")
	defer func() { done(err) }()

	if _, err = s.exec(ctx, "DELETE FROM oauth_authorization_codes WHERE code = ?", code); err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	return nil
}
