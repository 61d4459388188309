package server

import (
	"errors"
	"fmt"
)

// OAuth 2.0 error codes from RFC 6749.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
)

// Validation outcomes. Callers map them to protocol errors without revealing
// which individual check failed; every other error returned by the engine is
// a store failure.
var (
	// ErrInvalidRequest is returned for malformed input that never reaches the store.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidClient is returned for unknown or inactive clients and bad secrets.
	ErrInvalidClient = errors.New("invalid client")

	// ErrInvalidGrant is returned for codes and refresh tokens that are unknown,
	// expired, consumed, bound elsewhere, or fail PKCE.
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrInvalidToken is returned for unknown or expired access tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidScope is returned when a client asks for scopes it was not granted.
	ErrInvalidScope = errors.New("invalid scope")

	// ErrUserNotFound is returned when the user behind a token no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// AuthorizationError is returned by Authorize. Redirectable errors may be sent
// to the validated redirect URI; the others must be shown to the user agent
// directly since the redirect target is not trusted.
type AuthorizationError struct {
	Code         string
	Description  string
	Redirectable bool
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func redirectableError(code, description string) *AuthorizationError {
	return &AuthorizationError{Code: code, Description: description, Redirectable: true}
}

func directError(code, description string) *AuthorizationError {
	return &AuthorizationError{Code: code, Description: description}
}

// ErrorCode maps an engine error to an RFC 6749 error code.
func ErrorCode(err error) string {
	var authErr *AuthorizationError
	switch {
	case errors.As(err, &authErr):
		return authErr.Code
	case errors.Is(err, ErrInvalidRequest):
		return ErrorCodeInvalidRequest
	case errors.Is(err, ErrInvalidClient):
		return ErrorCodeInvalidClient
	case errors.Is(err, ErrInvalidGrant):
		return ErrorCodeInvalidGrant
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUserNotFound):
		return ErrorCodeInvalidToken
	case errors.Is(err, ErrInvalidScope):
		return ErrorCodeInvalidScope
	default:
		return ErrorCodeServerError
	}
}
