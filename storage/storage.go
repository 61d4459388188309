package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClientNotFound is returned when no active client matches the given ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound is returned when a code is unknown, expired,
	// bound to another client or redirect URI, or already consumed.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrTokenNotFound is returned when an access or refresh token is unknown,
	// expired, or already rotated away.
	ErrTokenNotFound = errors.New("token not found")

	// ErrUserNotFound is returned when no user matches the given ID.
	ErrUserNotFound = errors.New("user not found")
)

// ClientStore persists registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// FindActiveClient returns the client with the given ID if it exists and
	// is active. Unknown and deactivated clients both yield ErrClientNotFound.
	FindActiveClient(ctx context.Context, clientID string) (*Client, error)

	// SaveClient inserts or replaces a client.
	SaveClient(ctx context.Context, client *Client) error

	// DeactivateClient marks a client inactive. Rows are never hard-deleted.
	DeactivateClient(ctx context.Context, clientID string) error

	// ListClients returns all clients, active or not, ordered by creation time.
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore persists single-use authorization codes.
type CodeStore interface {
	// SaveAuthorizationCode stores a freshly issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// FindValidAuthorizationCode returns the code row matching code, clientID
	// and redirectURI exactly whose expiry lies after now.
	FindValidAuthorizationCode(ctx context.Context, code, clientID, redirectURI string, now time.Time) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode deletes the code and returns the deleted row,
	// but only if it was still valid at now. The check and the delete are a
	// single atomic step: of any number of concurrent callers, at most one
	// receives the row and the rest get ErrAuthorizationCodeNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code unconditionally. Deleting a
	// missing code is not an error.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// AccessTokenStore persists opaque access tokens.
type AccessTokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// FindValidAccessToken returns the token row if its expiry lies after now.
	FindValidAccessToken(ctx context.Context, token string, now time.Time) (*AccessToken, error)

	// GetAccessToken returns the token row regardless of expiry.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes a token. Deleting a missing token is not an error.
	DeleteAccessToken(ctx context.Context, token string) error
}

// RefreshTokenStore persists opaque refresh tokens.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// FindValidRefreshToken returns the token row if it belongs to clientID
	// and its expiry lies after now.
	FindValidRefreshToken(ctx context.Context, token, clientID string, now time.Time) (*RefreshToken, error)

	// GetRefreshToken returns the token row regardless of expiry.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically deletes and returns the refresh token if
	// it belongs to clientID and is still valid at now. Concurrent callers
	// racing on the same token see at most one success.
	ConsumeRefreshToken(ctx context.Context, token, clientID string, now time.Time) (*RefreshToken, error)

	// DeleteRefreshToken removes a token. Deleting a missing token is not an error.
	DeleteRefreshToken(ctx context.Context, token string) error
}

// TokenStore combines access and refresh token persistence.
type TokenStore interface {
	AccessTokenStore
	RefreshTokenStore
}

// UserStore looks up end users tokens are issued for.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
}

// UserWriter is implemented by stores that can also persist users. It is used
// for seeding development users and by tests.
type UserWriter interface {
	SaveUser(ctx context.Context, user *User) error
}

// Sweeper is implemented by stores whose expired rows must be deleted
// explicitly. Validation never depends on the sweep having run.
type Sweeper interface {
	// DeleteExpired removes codes and tokens whose expiry is at or before now
	// and reports how many rows were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrAuthorizationCodeNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrUserNotFound)
}

// OperationResult labels a failed storage operation for metrics: expected
// misses are "not_found", everything else "error".
func OperationResult(err error) string {
	if IsNotFound(err) {
		return "not_found"
	}
	return "error"
}
