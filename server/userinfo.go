package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/giantswarm/oauth-authserver/storage"
)

// Scopes that gate user claims
const (
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// Claim names returned by GetUserInfo
const (
	ClaimSubject       = "sub"
	ClaimName          = "name"
	ClaimPicture       = "picture"
	ClaimEmail         = "email"
	ClaimEmailVerified = "email_verified"
)

// Claims is a userinfo response. A key is present only if its scope was granted.
type Claims map[string]any

// GetUserInfo projects a user onto the claims allowed by scopes: sub always,
// name and picture with "profile", email and email_verified with "email".
func (s *Server) GetUserInfo(ctx context.Context, userID string, scopes []string) (claims Claims, err error) {
	ctx, span := s.startSpan(ctx, "get_user_info")
	defer func() { endSpan(span, err) }()

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	claims = Claims{ClaimSubject: user.ID}
	if slices.Contains(scopes, ScopeProfile) {
		claims[ClaimName] = user.DisplayName
		claims[ClaimPicture] = user.AvatarURL
	}
	if slices.Contains(scopes, ScopeEmail) {
		claims[ClaimEmail] = user.Email
		claims[ClaimEmailVerified] = user.EmailVerified
	}
	return claims, nil
}
