package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/storage"
)

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "bearer"

// Grant is the outcome of a successful authorization code validation.
type Grant struct {
	ClientID string
	UserID   string
	Scopes   []string

	code *storage.AuthorizationCode
}

// TokenInfo describes a valid access token.
type TokenInfo struct {
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
}

// AuthorizationRequest holds the parameters of an authorization endpoint call.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// ============================================================
// Authorization Codes
// ============================================================

// CreateAuthorizationCode issues a single-use code for the grant and stores it
// with the configured expiry.
func (s *Server) CreateAuthorizationCode(ctx context.Context, clientID, userID, redirectURI string, scopes []string, codeChallenge, codeChallengeMethod string) (code string, err error) {
	ctx, span := s.startSpan(ctx, "create_authorization_code")
	defer func() { endSpan(span, err) }()
	instrumentation.AddOAuthFlowAttributes(span, clientID, userID, storage.JoinScopes(scopes))
	instrumentation.AddPKCEAttributes(span, codeChallengeMethod)

	now := s.now()
	authCode := &storage.AuthorizationCode{
		Code:                security.GenerateToken(),
		ClientID:            clientID,
		UserID:              userID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.authorizationCodeTTL()),
	}
	if err := s.codes.SaveAuthorizationCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, clientID, pkceLabel(codeChallengeMethod))
	}
	s.Auditor.LogCodeIssued(userID, clientID, codeChallengeMethod)
	s.Logger.Debug("Issued authorization code",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(authCode.Code, tokenIDLogLength))

	return authCode.Code, nil
}

// ValidateAuthorizationCode checks a code against the client, the redirect URI
// and the PKCE verifier, then consumes it. Every validation failure is
// ErrInvalidGrant. Of concurrent callers presenting the same code at most one
// succeeds. A PKCE failure leaves the code in place.
func (s *Server) ValidateAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (grant *Grant, err error) {
	ctx, span := s.startSpan(ctx, "validate_authorization_code")
	defer func() { endSpan(span, err) }()
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")

	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrInvalidRequest)
	}

	now := s.now()
	authCode, err := s.codes.FindValidAuthorizationCode(ctx, code, clientID, redirectURI, now)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			s.rejectCode(ctx, clientID, "not_found")
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to look up authorization code: %w", err)
	}

	// no challenge means the grant does not require proof of possession
	if authCode.CodeChallenge != "" {
		instrumentation.AddPKCEAttributes(span, authCode.CodeChallengeMethod)
		if !verifyPKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier) {
			if s.metrics != nil {
				s.metrics.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
			}
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventPKCEValidationFailed,
				UserID:   authCode.UserID,
				ClientID: clientID,
				Details:  map[string]any{"method": authCode.CodeChallengeMethod, "verifier_present": codeVerifier != ""},
			})
			s.rejectCode(ctx, clientID, "pkce_failed")
			return nil, ErrInvalidGrant
		}
	}

	consumed, err := s.codes.ConsumeAuthorizationCode(ctx, code, now)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			// another request redeemed it between lookup and consume
			if s.metrics != nil {
				s.metrics.RecordCodeReplayDetected(ctx)
			}
			s.Auditor.LogEvent(security.Event{
				Type:     security.EventAuthorizationCodeReplay,
				UserID:   authCode.UserID,
				ClientID: clientID,
			})
			s.rejectCode(ctx, clientID, "already_consumed")
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, clientID, pkceLabel(consumed.CodeChallengeMethod))
	}
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationCodeExchanged,
		UserID:   consumed.UserID,
		ClientID: clientID,
	})

	return &Grant{
		ClientID: consumed.ClientID,
		UserID:   consumed.UserID,
		Scopes:   consumed.Scopes,
		code:     consumed,
	}, nil
}

func (s *Server) rejectCode(ctx context.Context, clientID, reason string) {
	if s.metrics != nil {
		s.metrics.RecordCodeRejected(ctx, reason)
	}
	s.Logger.Debug("Authorization code rejected", "client_id", clientID, "reason", reason)
}

func pkceLabel(method string) string {
	if method == "" {
		return "none"
	}
	return method
}

// ============================================================
// Tokens
// ============================================================

// CreateAccessToken issues an access token and a linked refresh token.
func (s *Server) CreateAccessToken(ctx context.Context, clientID, userID string, scopes []string) (token *oauth2.Token, err error) {
	ctx, span := s.startSpan(ctx, "create_access_token")
	defer func() { endSpan(span, err) }()
	instrumentation.AddOAuthFlowAttributes(span, clientID, userID, storage.JoinScopes(scopes))

	now := s.now()
	accessTTL := s.Config.accessTokenTTL()

	access := &storage.AccessToken{
		Token:     security.GenerateToken(),
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(accessTTL),
	}
	if err := s.tokens.SaveAccessToken(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	refresh := &storage.RefreshToken{
		Token:       security.GenerateToken(),
		AccessToken: access.Token,
		ClientID:    clientID,
		UserID:      userID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.Config.refreshTokenTTL()),
	}
	if err := s.tokens.SaveRefreshToken(ctx, refresh); err != nil {
		if delErr := s.tokens.DeleteAccessToken(ctx, access.Token); delErr != nil {
			s.Logger.Warn("Failed to remove orphaned access token", "error", delErr)
		}
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTokenIssued(ctx, clientID)
	}
	s.Auditor.LogTokenIssued(userID, clientID, storage.JoinScopes(scopes))
	instrumentation.SetSpanAttributes(span, attribute.Int64(instrumentation.AttrExpiresIn, s.Config.AccessTokenTTL))

	token = &oauth2.Token{
		AccessToken:  access.Token,
		TokenType:    TokenTypeBearer,
		RefreshToken: refresh.Token,
		Expiry:       access.ExpiresAt,
		ExpiresIn:    int64(accessTTL.Seconds()),
	}
	return token.WithExtra(map[string]any{"scope": storage.JoinScopes(scopes)}), nil
}

// ValidateAccessToken returns the grant behind an access token that is still
// valid. Validation never extends the token's lifetime.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (info *TokenInfo, err error) {
	ctx, span := s.startSpan(ctx, "validate_access_token")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return nil, ErrInvalidToken
	}

	access, err := s.tokens.FindValidAccessToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	instrumentation.AddOAuthFlowAttributes(span, access.ClientID, access.UserID, storage.JoinScopes(access.Scopes))
	return &TokenInfo{
		ClientID:  access.ClientID,
		UserID:    access.UserID,
		Scopes:    access.Scopes,
		ExpiresAt: access.ExpiresAt,
	}, nil
}

// RefreshAccessToken rotates a refresh token: the old pair is deleted and a
// new pair with the original scopes is issued. A refresh token is usable
// exactly once. If its sibling access token is gone the scopes cannot be
// recovered and the refresh fails.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID string) (token *oauth2.Token, err error) {
	ctx, span := s.startSpan(ctx, "refresh_access_token")
	defer func() { endSpan(span, err) }()
	instrumentation.AddOAuthFlowAttributes(span, clientID, "", "")

	if refreshToken == "" {
		return nil, fmt.Errorf("%w: missing refresh_token", ErrInvalidRequest)
	}

	now := s.now()
	old, err := s.tokens.FindValidRefreshToken(ctx, refreshToken, clientID, now)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.rejectRefresh(ctx, "", clientID, "not_found")
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	access, err := s.tokens.GetAccessToken(ctx, old.AccessToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.rejectRefresh(ctx, old.UserID, clientID, "access_token_missing")
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to look up access token: %w", err)
	}

	if _, err := s.tokens.ConsumeRefreshToken(ctx, refreshToken, clientID, now); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.rejectRefresh(ctx, old.UserID, clientID, "already_rotated")
			return nil, ErrInvalidGrant
		}
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if err := s.tokens.DeleteAccessToken(ctx, access.Token); err != nil {
		s.Logger.Warn("Failed to remove rotated access token",
			"client_id", clientID,
			"token_prefix", util.SafeTruncate(access.Token, tokenIDLogLength),
			"error", err)
	}

	token, err = s.CreateAccessToken(ctx, clientID, old.UserID, access.Scopes)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, clientID)
	}
	s.Auditor.LogTokenRefreshed(old.UserID, clientID)
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrTokenRotated, true))
	return token, nil
}

func (s *Server) rejectRefresh(ctx context.Context, userID, clientID, reason string) {
	if s.metrics != nil {
		s.metrics.RecordRefreshRejected(ctx, reason)
	}
	s.Auditor.LogEvent(security.Event{
		Type:     security.EventRefreshTokenRejected,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"reason": reason},
	})
	s.Logger.Debug("Refresh token rejected", "client_id", clientID, "reason", reason)
}

// ============================================================
// Endpoint Helpers
// ============================================================

// ExchangeAuthorizationCode implements the authorization_code grant. If token
// issuance fails after the code was consumed the code is restored, so the
// client may retry within the code's lifetime.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, clientID, clientSecret, code, redirectURI, codeVerifier string) (*oauth2.Token, error) {
	if _, err := s.ValidateClient(ctx, clientID, clientSecret); err != nil {
		return nil, err
	}

	grant, err := s.ValidateAuthorizationCode(ctx, code, clientID, redirectURI, codeVerifier)
	if err != nil {
		return nil, err
	}

	token, err := s.CreateAccessToken(ctx, clientID, grant.UserID, grant.Scopes)
	if err != nil {
		if restoreErr := s.codes.SaveAuthorizationCode(ctx, grant.code); restoreErr != nil {
			s.Logger.Error("Failed to restore authorization code after issuance failure",
				"client_id", clientID,
				"error", restoreErr)
		}
		return nil, err
	}
	return token, nil
}

// ExchangeRefreshToken implements the refresh_token grant.
func (s *Server) ExchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*oauth2.Token, error) {
	if _, err := s.ValidateClient(ctx, clientID, clientSecret); err != nil {
		return nil, err
	}
	return s.RefreshAccessToken(ctx, refreshToken, clientID)
}

// Authorize validates an authorization request for an authenticated user,
// issues a code and returns the URL to redirect the user agent to. Failures
// are *AuthorizationError.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, userID string) (redirectURL string, err error) {
	ctx, span := s.startSpan(ctx, "authorize")
	defer func() { endSpan(span, err) }()
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, userID, req.Scope)
	span.SetAttributes(attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	if req.ClientID == "" {
		return "", directError(ErrorCodeInvalidRequest, "client_id is required")
	}

	client, err := s.ValidateClient(ctx, req.ClientID, "")
	if err != nil {
		if errors.Is(err, ErrInvalidClient) {
			s.Auditor.LogAuthFailure(userID, req.ClientID, "", "unknown_client")
			return "", directError(ErrorCodeUnauthorizedClient, "unknown client")
		}
		return "", err
	}

	if !s.ValidateRedirectURI(client, req.RedirectURI) {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventInvalidRedirect,
			UserID:   userID,
			ClientID: req.ClientID,
			Details:  map[string]any{"redirect_uri": util.SafeTruncate(req.RedirectURI, 128)},
		})
		return "", directError(ErrorCodeInvalidRequest, "redirect_uri is not registered for this client")
	}

	// the redirect URI is trusted from here on
	if req.ResponseType != "code" {
		return "", redirectableError(ErrorCodeUnsupportedResponseType, "only response_type=code is supported")
	}

	scopes := ParseScope(req.Scope)
	if !s.ValidateScopes(client, scopes) {
		s.Auditor.LogEvent(security.Event{
			Type:     security.EventScopeEscalationAttempt,
			UserID:   userID,
			ClientID: req.ClientID,
			Details:  map[string]any{"requested": req.Scope},
		})
		return "", redirectableError(ErrorCodeInvalidScope, "requested scope exceeds the client's grant")
	}

	method, err := s.validatePKCEParams(req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return "", redirectableError(ErrorCodeInvalidRequest, err.Error())
	}

	code, err := s.CreateAuthorizationCode(ctx, client.ID, userID, req.RedirectURI, scopes, req.CodeChallenge, method)
	if err != nil {
		return "", err
	}

	params := url.Values{"code": {code}}
	if req.State != "" {
		params.Set("state", req.State)
	}
	return AppendQuery(req.RedirectURI, params)
}

// AppendQuery adds params to rawURL, keeping any query it already has.
func AppendQuery(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RedirectWithError builds the redirect URL carrying an authorization error.
func RedirectWithError(redirectURI string, authErr *AuthorizationError, state string) (string, error) {
	params := url.Values{"error": {authErr.Code}}
	if authErr.Description != "" {
		params.Set("error_description", strings.TrimSpace(authErr.Description))
	}
	if state != "" {
		params.Set("state", state)
	}
	return AppendQuery(redirectURI, params)
}
