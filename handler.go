package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-authserver/instrumentation"
	"github.com/giantswarm/oauth-authserver/internal/util"
	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/server"
	"github.com/giantswarm/oauth-authserver/state"
	"github.com/giantswarm/oauth-authserver/storage"
)

// Endpoint paths registered by RegisterRoutes
const (
	PathAuthorize     = "/oauth/authorize"
	PathLoginCallback = "/oauth/callback"
	PathToken         = "/oauth/token"
	PathUserInfo      = "/oauth/userinfo"
	PathRegister      = "/oauth/register"
	PathMetadata      = "/.well-known/oauth-authorization-server"
)

// corsMaxAge is how long browsers may cache a token endpoint preflight, in seconds
const corsMaxAge = "600"

// Grant types accepted by the token endpoint
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Registration error codes (RFC 7591 section 3.2.2)
const (
	ErrorCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrorCodeInvalidRedirectURI    = "invalid_redirect_uri"
)

// Handler is a thin HTTP adapter for the authorization engine.
// It handles HTTP requests and delegates to the engine for business logic.
type Handler struct {
	server        *server.Server
	codec         *state.Codec
	authenticator Authenticator
	config        *HandlerConfig
	logger        *slog.Logger
	tracer        trace.Tracer // nil unless instrumentation is enabled
	validate      *validator.Validate

	rateLimiter             *security.RateLimiter
	registrationRateLimiter *security.RateLimiter
}

// NewHandler creates a new HTTP handler. config may be nil.
func NewHandler(srv *server.Server, codec *state.Codec, authenticator Authenticator, config *HandlerConfig, logger *slog.Logger) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("state codec is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config == nil {
		config = &HandlerConfig{}
	}
	config.applyDefaults(logger)

	h := &Handler{
		server:        srv,
		codec:         codec,
		authenticator: authenticator,
		config:        config,
		logger:        logger,
		validate:      newValidator(),
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	if config.RateLimit.Rate > 0 {
		h.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
	}
	if config.RateLimit.RegistrationRate > 0 {
		h.registrationRateLimiter = security.NewRateLimiter(config.RateLimit.RegistrationRate, config.RateLimit.RegistrationBurst, logger)
	}

	return h, nil
}

// newValidator reports field errors by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Close stops the background cleanup of the rate limiters
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
	if h.registrationRateLimiter != nil {
		h.registrationRateLimiter.Stop()
	}
}

// RegisterRoutes mounts every endpoint on mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(PathAuthorize, h.instrument("authorize", h.ServeAuthorization))
	mux.Handle(PathLoginCallback, h.instrument("login_callback", h.ServeLoginCallback))
	mux.Handle(PathToken, h.instrument("token", h.ServeToken))
	mux.Handle(PathUserInfo, h.instrument("userinfo", h.ServeUserInfo))
	mux.Handle(PathRegister, h.instrument("register", h.ServeClientRegistration))
	mux.Handle(PathMetadata, h.instrument("metadata", h.ServeAuthorizationServerMetadata))
}

// Routes returns a handler serving every endpoint with request IDs attached
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// ============================================================
// Authorization Endpoint
// ============================================================

// ServeAuthorization handles the authorization endpoint. Users without a
// session are sent to the login page first and return here afterwards.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	q := r.URL.Query()
	req := &server.AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, req.ClientID))

	userID, ok := h.authenticator.Authenticate(r)
	if !ok {
		h.redirectToLogin(ctx, w, r, req)
		return
	}

	redirectURL, err := h.server.Authorize(ctx, req, userID)
	if err != nil {
		h.writeAuthorizationError(ctx, w, r, req, err)
		instrumentation.SetSpanError(span, server.ErrorCode(err))
		return
	}

	h.logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"request_id", security.GetRequestID(ctx))
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// redirectToLogin sends the user agent to the login page. Requests naming an
// unknown client or redirect URI are refused here, before the login page.
func (h *Handler) redirectToLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest) {
	if req.ClientID == "" {
		h.writeError(w, ErrInvalidRequest("client_id is required"))
		return
	}
	client, err := h.server.ValidateClient(ctx, req.ClientID, "")
	if err != nil {
		if errors.Is(err, server.ErrInvalidClient) {
			h.writeError(w, NewError(ErrorCodeUnauthorizedClient, "Unknown client", http.StatusBadRequest))
			return
		}
		h.logger.Error("Failed to look up client", "client_id", req.ClientID, "error", err)
		h.writeError(w, ErrServerError("An internal error occurred"))
		return
	}
	if !h.server.ValidateRedirectURI(client, req.RedirectURI) {
		h.writeError(w, ErrInvalidRequest("redirect_uri is not registered for this client"))
		return
	}

	if h.config.LoginURL == "" {
		h.writeError(w, NewError(ErrorCodeAccessDenied, "User authentication is not available", http.StatusForbidden))
		return
	}

	csrfToken := state.NewCSRFToken()
	encoded, err := h.codec.Encode(csrfToken, req.ClientID, r.URL.RequestURI())
	if err != nil {
		h.logger.Error("Failed to encode state", "error", err)
		h.writeError(w, ErrServerError("An internal error occurred"))
		return
	}
	loginURL, err := h.config.loginRedirect(encoded)
	if err != nil {
		h.logger.Error("Invalid login URL", "error", err)
		h.writeError(w, ErrServerError("An internal error occurred"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		MaxAge:   int(h.codec.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Debug("Redirecting to login", "client_id", req.ClientID, "request_id", security.GetRequestID(ctx))
	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (h *Handler) writeAuthorizationError(ctx context.Context, w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, err error) {
	var authErr *server.AuthorizationError
	if !errors.As(err, &authErr) {
		h.logger.Error("Authorization failed", "client_id", req.ClientID, "error", err)
		h.writeError(w, ErrServerError("An internal error occurred"))
		return
	}

	h.logger.Info("Authorization request rejected",
		"client_id", req.ClientID,
		"error_code", authErr.Code,
		"redirectable", authErr.Redirectable,
		"request_id", security.GetRequestID(ctx))

	if authErr.Redirectable {
		target, rerr := server.RedirectWithError(req.RedirectURI, authErr, req.State)
		if rerr == nil {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}
	h.writeError(w, NewError(authErr.Code, authErr.Description, http.StatusBadRequest))
}

// ServeLoginCallback completes the login round trip: it verifies the state
// against the CSRF cookie and sends the user back to the authorization request
// they started from.
func (h *Handler) ServeLoginCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)

	st, err := h.codec.Decode(r.URL.Query().Get("state"))
	if err != nil {
		h.rejectState(ctx, clientIP, "", err.Error())
		instrumentation.SetSpanError(span, "invalid state")
		h.writeError(w, ErrInvalidRequest("Invalid or expired state"))
		return
	}

	cookie, err := r.Cookie(h.config.CSRFCookieName)
	if err != nil || !security.ConstantTimeEqual(cookie.Value, st.CSRFToken) {
		h.rejectState(ctx, clientIP, st.ClientID, "csrf_mismatch")
		instrumentation.SetSpanError(span, "csrf mismatch")
		h.writeError(w, ErrInvalidRequest("Invalid or expired state"))
		return
	}
	h.clearCSRFCookie(w)

	if !isLocalPath(st.ReturnTo) {
		h.rejectState(ctx, clientIP, st.ClientID, "non_local_return_to")
		h.writeError(w, ErrInvalidRequest("Invalid return location"))
		return
	}

	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, st.ReturnTo, http.StatusFound)
}

func (h *Handler) rejectState(ctx context.Context, clientIP, clientID, reason string) {
	if m := h.metrics(); m != nil {
		m.RecordStateDecodeFailure(ctx)
	}
	h.server.Auditor.LogEvent(security.Event{
		Type:      security.EventInvalidState,
		ClientID:  clientID,
		IPAddress: clientIP,
		RequestID: security.GetRequestID(ctx),
		Details:   map[string]any{"reason": reason},
	})
	h.logger.Warn("Login callback rejected", "ip", clientIP, "reason", reason)
}

func (h *Handler) clearCSRFCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// isLocalPath reports whether p is an absolute path on this host. Scheme
// relative ("//host") and backslash forms are rejected.
func isLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// ============================================================
// Token Endpoint
// ============================================================

// ServeToken handles the token endpoint for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.serveTokenPreflight(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	if h.checkRateLimit(ctx, w, h.rateLimiter, PathToken, clientIP) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	clientID, clientSecret, usedBasicAuth := h.clientCredentials(r)
	if clientID == "" {
		h.writeError(w, ErrInvalidRequest("client_id is required"))
		return
	}
	h.setCORSHeaders(ctx, w, r, clientID)

	grantType := r.PostForm.Get("grant_type")
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, clientID),
		attribute.String(instrumentation.AttrGrantType, grantType),
	)

	var (
		token *oauth2.Token
		err   error
	)
	switch grantType {
	case GrantTypeAuthorizationCode:
		token, err = h.server.ExchangeAuthorizationCode(ctx, clientID, clientSecret,
			r.PostForm.Get("code"), r.PostForm.Get("redirect_uri"), r.PostForm.Get("code_verifier"))
	case GrantTypeRefreshToken:
		token, err = h.server.ExchangeRefreshToken(ctx, clientID, clientSecret, r.PostForm.Get("refresh_token"))
	default:
		h.writeError(w, ErrUnsupportedGrantType(fmt.Sprintf("Grant type %q is not supported", grantType)))
		return
	}

	if err != nil {
		oauthErr := errorFromEngine(err)
		instrumentation.RecordError(span, err)
		switch oauthErr.Code {
		case ErrorCodeServerError:
			h.logger.Error("Token request failed", "client_id", clientID, "grant_type", grantType, "error", err)
		case ErrorCodeInvalidClient:
			h.logAuthFailure(clientID, clientIP, "client_authentication_failed")
			if usedBasicAuth {
				w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
			}
		default:
			h.logger.Info("Token request rejected", "client_id", clientID, "grant_type", grantType, "error_code", oauthErr.Code)
		}
		h.writeError(w, oauthErr)
		return
	}

	h.logger.Info("Token issued", "client_id", clientID, "grant_type", grantType, "ip", clientIP)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token)
}

// clientCredentials reads client_secret_basic, falling back to client_secret_post
func (h *Handler) clientCredentials(r *http.Request) (clientID, clientSecret string, basic bool) {
	if id, secret, ok := r.BasicAuth(); ok {
		// RFC 6749 section 2.3.1: credentials are form-urlencoded before Basic encoding
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		return id, secret, true
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret"), false
}

// serveTokenPreflight answers CORS preflight requests for the token endpoint.
// A preflight carries no body, so the client is named by the client_id query
// parameter. Requests whose origin is not the client's allowed origin get no
// CORS headers and the browser blocks the actual request.
func (h *Handler) serveTokenPreflight(w http.ResponseWriter, r *http.Request) {
	if h.setCORSHeaders(r.Context(), w, r, r.URL.Query().Get("client_id")) {
		w.Header().Set("Access-Control-Allow-Methods", http.MethodPost)
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", corsMaxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

// setCORSHeaders echoes the Origin only when it equals the client's
// registered AllowedOrigin, and reports whether it did.
func (h *Handler) setCORSHeaders(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || clientID == "" {
		return false
	}

	client, err := h.server.ValidateClient(ctx, clientID, "")
	if err != nil || client.AllowedOrigin == "" || client.AllowedOrigin != origin {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin, "client_id", clientID)
		return false
	}

	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	scope, _ := token.Extra("scope").(string)
	response := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// ============================================================
// UserInfo Endpoint
// ============================================================

// ServeUserInfo returns the claims of the user behind a bearer token,
// limited to what the token's scopes allow.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	if h.checkRateLimit(ctx, w, h.rateLimiter, PathUserInfo, clientIP) {
		return
	}

	accessToken, ok := extractBearerToken(r)
	if !ok {
		h.writeUnauthorized(w, "", "")
		return
	}

	info, err := h.server.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		h.writeUserInfoError(w, err)
		return
	}
	instrumentation.AddOAuthFlowAttributes(span, info.ClientID, info.UserID, storage.JoinScopes(info.Scopes))

	claims, err := h.server.GetUserInfo(ctx, info.UserID, info.Scopes)
	if err != nil {
		h.writeUserInfoError(w, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(claims)
}

func (h *Handler) writeUserInfoError(w http.ResponseWriter, err error) {
	oauthErr := errorFromEngine(err)
	if oauthErr.Code == ErrorCodeInvalidToken {
		h.writeUnauthorized(w, oauthErr.Code, oauthErr.Description)
		return
	}
	h.logger.Error("UserInfo request failed", "error", err)
	h.writeError(w, oauthErr)
}

// extractBearerToken returns the token of an "Authorization: Bearer" header
func extractBearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ============================================================
// Client Registration Endpoint
// ============================================================

// ServeClientRegistration registers a client. The caller must present the
// configured registration access token as a bearer token.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	span := trace.SpanFromContext(ctx)

	clientIP := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
	if h.checkRateLimit(ctx, w, h.registrationRateLimiter, PathRegister, clientIP) {
		return
	}

	token, _ := extractBearerToken(r)
	if !h.server.ValidateRegistrationToken(token) {
		h.logAuthFailure("", clientIP, "invalid_registration_token")
		h.writeUnauthorized(w, ErrorCodeInvalidToken, "Registration requires a valid registration access token")
		return
	}

	var req ClientRegistrationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.config.MaxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("Request body must be a client registration JSON object"))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.writeError(w, NewError(ErrorCodeInvalidClientMetadata, validationMessage(err), http.StatusBadRequest))
		return
	}

	client, secret, err := h.server.RegisterClient(ctx, server.ClientRegistration{
		Name:          req.ClientName,
		RedirectURIs:  req.RedirectURIs,
		Scopes:        req.Scopes,
		AllowedOrigin: req.AllowedOrigin,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		var uriErr *server.RedirectURISecurityError
		switch {
		case errors.As(err, &uriErr):
			h.writeError(w, NewError(ErrorCodeInvalidRedirectURI, uriErr.ClientMessage, http.StatusBadRequest))
		case errors.Is(err, server.ErrInvalidRequest):
			h.writeError(w, NewError(ErrorCodeInvalidClientMetadata, err.Error(), http.StatusBadRequest))
		default:
			h.logger.Error("Client registration failed", "error", err)
			h.writeError(w, ErrServerError("An internal error occurred"))
		}
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ID))
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ClientRegistrationResponse{
		ClientID:         client.ID,
		ClientSecret:     secret,
		ClientIDIssuedAt: client.CreatedAt.Unix(),
		ClientName:       client.Name,
		RedirectURIs:     client.RedirectURIs,
		Scope:            storage.JoinScopes(client.Scopes),
		AllowedOrigin:    client.AllowedOrigin,
	})
}

// validationMessage describes the first failing field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
	return "invalid client metadata"
}

// ============================================================
// Discovery
// ============================================================

// ServeAuthorizationServerMetadata serves RFC 8414 metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuer := util.NormalizeURL(h.server.Config.Issuer)
	methods := []string{server.PKCEMethodS256}
	if !h.server.Config.DisallowPKCEPlain {
		methods = append(methods, server.PKCEMethodPlain)
	}

	metadata := AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + PathAuthorize,
		TokenEndpoint:                     issuer + PathToken,
		UserInfoEndpoint:                  issuer + PathUserInfo,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:     methods,
	}
	if h.server.Config.RegistrationAccessToken != "" {
		metadata.RegistrationEndpoint = issuer + PathRegister
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_ = json.NewEncoder(w).Encode(metadata)
}

// ============================================================
// Helpers
// ============================================================

// checkRateLimit reports whether the request was rejected
func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, limiter *security.RateLimiter, endpoint, clientIP string) bool {
	if limiter == nil || limiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	if m := h.metrics(); m != nil {
		m.RecordRateLimitExceeded(ctx, "ip")
	}

	w.Header().Set("Retry-After", "1")
	h.writeError(w, ErrRateLimitExceeded("Too many requests, please try again later"))
	return true
}

// logAuthFailure logs authentication failures with optional auditing.
func (h *Handler) logAuthFailure(clientID, clientIP, reason string) {
	h.logger.Warn("Authentication failed", "client_id", clientID, "ip", clientIP, "reason", reason)
	h.server.Auditor.LogAuthFailure("", clientID, clientIP, reason)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	})
}

// writeUnauthorized writes a 401 with an RFC 6750 challenge. Without an error
// code the challenge is bare, as for requests that carried no token.
func (h *Handler) writeUnauthorized(w http.ResponseWriter, code, description string) {
	w.Header().Set("WWW-Authenticate", formatWWWAuthenticate(code, description))
	if code == "" {
		code, description = ErrorCodeInvalidRequest, "Missing bearer token"
	}
	h.writeError(w, NewError(code, description, http.StatusUnauthorized))
}

// formatWWWAuthenticate formats a Bearer challenge per RFC 6750 section 3
func formatWWWAuthenticate(errCode, errorDesc string) string {
	if errCode == "" {
		return "Bearer"
	}
	params := []string{fmt.Sprintf(`error="%s"`, errCode)}
	if errorDesc != "" {
		escaped := strings.ReplaceAll(errorDesc, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		params = append(params, fmt.Sprintf(`error_description="%s"`, escaped))
	}
	return "Bearer " + strings.Join(params, ", ")
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

func (h *Handler) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return ctx, nil
	}
	return h.tracer.Start(ctx, name)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request count and duration per endpoint
func (h *Handler) instrument(endpoint string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, span := h.startSpan(r.Context(), "oauth.http."+endpoint)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(ctx))
		if span != nil {
			instrumentation.AddHTTPAttributes(span, r.Method, endpoint, rec.status)
			span.End()
		}
		h.recordHTTPMetrics(ctx, endpoint, r.Method, rec.status, startTime)
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	m := h.metrics()
	if m == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000
	m.RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
