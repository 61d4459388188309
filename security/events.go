package security

// Event type constants for security audit logging.
const (
	// Authorization code lifecycle

	// EventAuthorizationCodeIssued is logged when a code is issued at the authorization endpoint
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeExchanged is logged when a code is redeemed for tokens
	EventAuthorizationCodeExchanged = "authorization_code_exchanged"

	// EventAuthorizationCodeReplay is logged when a code was valid at lookup but
	// another request consumed it first
	EventAuthorizationCodeReplay = "authorization_code_replay"

	// Token lifecycle

	// EventTokenIssued is logged when a new access/refresh token pair is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventRefreshTokenRejected is logged when a refresh attempt fails. A
	// replayed refresh token after rotation lands here.
	EventRefreshTokenRejected = "refresh_token_rejected" //nolint:gosec // event name, not a credential

	// Clients

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientDeactivated is logged when a client is deactivated
	EventClientDeactivated = "client_deactivated"

	// EventClientRegistrationRejected is logged when a registration request is refused
	EventClientRegistrationRejected = "client_registration_rejected"

	// Violations

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventPKCEValidationFailed is logged when a code_verifier does not match its challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when an unregistered redirect URI is presented
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a client requests scopes it was not granted
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventInvalidState is logged when a state parameter fails to decode or its
	// CSRF token does not match
	EventInvalidState = "invalid_state"
)
