package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-authserver/storage"
)

// GetUser returns a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (u *storage.User, err error) {
	ctx, done := s.startOperation(ctx, "get_user")
	defer func() { done(err) }()

	u, err = scanUser(s.queryRow(ctx, "SELECT "+userColumns+" FROM oauth_users WHERE id = ?", userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SaveUser inserts or replaces a user
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.startOperation(ctx, "save_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	query := "INSERT INTO oauth_users (" + userColumns + ") VALUES (" + placeholders(5) + ") " +
		s.upsertClause("id", "display_name", "avatar_url", "email", "email_verified")
	if _, err = s.exec(ctx, query, userArgs(user)...); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}
