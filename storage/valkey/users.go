package valkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth-authserver/storage"
)

type userJSON struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// GetUser returns a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (u *storage.User, err error) {
	ctx, done := s.startOperation(ctx, "get_user")
	defer func() { done(err) }()

	var j userJSON
	if err := s.getJSON(ctx, s.userKey(userID), &j, storage.ErrUserNotFound); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &storage.User{
		ID:            j.ID,
		DisplayName:   j.DisplayName,
		AvatarURL:     j.AvatarURL,
		Email:         j.Email,
		EmailVerified: j.EmailVerified,
	}, nil
}

// SaveUser inserts or replaces a user. Users do not expire.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, done := s.startOperation(ctx, "save_user")
	defer func() { done(err) }()

	if user == nil || user.ID == "" {
		return fmt.Errorf("invalid user")
	}

	j := &userJSON{
		ID:            user.ID,
		DisplayName:   user.DisplayName,
		AvatarURL:     user.AvatarURL,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
	}
	if err := s.setJSON(ctx, s.userKey(user.ID), j, 0); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}
