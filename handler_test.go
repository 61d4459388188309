package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-authserver/internal/testutil"
	"github.com/giantswarm/oauth-authserver/security"
	"github.com/giantswarm/oauth-authserver/server"
	"github.com/giantswarm/oauth-authserver/state"
	"github.com/giantswarm/oauth-authserver/storage/memory"
)

const (
	testIssuer            = "https://auth.example.com"
	testClientID          = "client-1"
	testClientSecret      = "client-secret-1"
	testUserID            = "42"
	testRegistrationToken = "registration-token"
	testLoginURL          = "https://login.example/sign-in"
)

func setupTestHandler(t *testing.T, config *HandlerConfig) (*Handler, *memory.Store) {
	t.Helper()

	store := memory.New()
	srv, err := server.New(store, store, store, store, &server.Config{
		Issuer:                  testIssuer,
		RegistrationAccessToken: testRegistrationToken,
	}, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	srv.SetAuditor(security.NewAuditor(nil, true))

	hash, err := bcrypt.GenerateFromPassword([]byte(testClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	ctx := context.Background()
	if err := store.SaveClient(ctx, testutil.TestClient(testClientID, hash)); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := store.SaveUser(ctx, testutil.TestUser(testUserID)); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	codec, err := state.NewCodec([]byte("0123456789abcdef0123456789abcdef"), nil)
	if err != nil {
		t.Fatalf("state.NewCodec() error = %v", err)
	}

	if config == nil {
		config = &HandlerConfig{}
	}
	if config.LoginURL == "" {
		config.LoginURL = testLoginURL
	}

	handler, err := NewHandler(srv, codec, HeaderAuthenticator{}, config, nil)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	t.Cleanup(handler.Close)
	return handler, store
}

func authorizeURL(params map[string]string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {testClientID},
		"redirect_uri":  {testutil.TestRedirectURI},
		"scope":         {"openid profile"},
		"state":         {"xyz"},
	}
	for k, v := range params {
		if v == "" {
			q.Del(k)
			continue
		}
		q.Set(k, v)
	}
	return PathAuthorize + "?" + q.Encode()
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func tokenRequest(form url.Values, basicAuth bool) *http.Request {
	if basicAuth {
		form.Del("client_id")
	}
	r := httptest.NewRequest(http.MethodPost, PathToken, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicAuth {
		r.SetBasicAuth(url.QueryEscape(testClientID), url.QueryEscape(testClientSecret))
	}
	return r
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func issueCode(t *testing.T, routes http.Handler, verifierChallenge string) string {
	t.Helper()
	params := map[string]string{}
	if verifierChallenge != "" {
		params["code_challenge"] = verifierChallenge
		params["code_challenge_method"] = server.PKCEMethodS256
	}
	r := httptest.NewRequest(http.MethodGet, authorizeURL(params), nil)
	r.Header.Set(DefaultUserHeader, testUserID)
	w := serve(routes, r)
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body %s", w.Code, w.Body.String())
	}
	loc, _ := url.Parse(w.Header().Get("Location"))
	return loc.Query().Get("code")
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	store := memory.New()
	srv, err := server.New(store, store, store, store, nil, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	codec, err := state.NewCodec(nil, nil)
	if err != nil {
		t.Fatalf("state.NewCodec() error = %v", err)
	}

	if _, err := NewHandler(nil, codec, HeaderAuthenticator{}, nil, nil); err == nil {
		t.Error("missing server should fail")
	}
	if _, err := NewHandler(srv, nil, HeaderAuthenticator{}, nil, nil); err == nil {
		t.Error("missing codec should fail")
	}
	if _, err := NewHandler(srv, codec, nil, nil, nil); err == nil {
		t.Error("missing authenticator should fail")
	}

	h, err := NewHandler(srv, codec, HeaderAuthenticator{}, nil, nil)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if h.config.CSRFCookieName != DefaultCSRFCookieName {
		t.Error("config defaults not applied")
	}
}

func TestHandler_FullFlow(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	// 1. no session: sent to the login page with a signed state
	start := authorizeURL(nil)
	w := serve(routes, httptest.NewRequest(http.MethodGet, start, nil))
	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want 302; body %s", w.Code, w.Body.String())
	}
	login, _ := url.Parse(w.Header().Get("Location"))
	if !strings.HasPrefix(login.String(), testLoginURL) {
		t.Fatalf("redirected to %q, want login page", login)
	}
	if w.Header().Get(security.RequestIDHeader) == "" {
		t.Error("response should carry a request ID")
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DefaultCSRFCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v, want one HttpOnly CSRF cookie", cookies)
	}

	// 2. login page sends the user back through the callback
	r := httptest.NewRequest(http.MethodGet, PathLoginCallback+"?state="+url.QueryEscape(login.Query().Get("state")), nil)
	r.AddCookie(cookies[0])
	w = serve(routes, r)
	if w.Code != http.StatusFound {
		t.Fatalf("callback status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != start {
		t.Fatalf("callback redirect = %q, want %q", got, start)
	}

	// 3. signed in: code issued to the client's redirect URI
	verifier, challenge := testutil.GeneratePKCEPair()
	code := issueCode(t, routes, challenge)
	if code == "" {
		t.Fatal("no code issued")
	}

	// 4. code exchange
	w = serve(routes, tokenRequest(url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testutil.TestRedirectURI},
		"code_verifier": {verifier},
	}, true))
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("token response must not be cached")
	}
	tokens := decodeJSON[TokenResponse](t, w)
	if tokens.TokenType != "bearer" || tokens.ExpiresIn != 3600 || tokens.Scope != "openid profile" || tokens.RefreshToken == "" {
		t.Errorf("token response = %+v", tokens)
	}

	// 5. userinfo
	r = httptest.NewRequest(http.MethodGet, PathUserInfo, nil)
	r.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w = serve(routes, r)
	if w.Code != http.StatusOK {
		t.Fatalf("userinfo status = %d, body %s", w.Code, w.Body.String())
	}
	claims := decodeJSON[map[string]any](t, w)
	if claims["sub"] != testUserID || claims["name"] != "Ada Lovelace" {
		t.Errorf("claims = %v", claims)
	}
	if _, ok := claims["email"]; ok {
		t.Error("email claim returned without email scope")
	}

	// 6. refresh rotates the pair
	refreshForm := url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}
	w = serve(routes, tokenRequest(refreshForm, false))
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", w.Code, w.Body.String())
	}
	rotated := decodeJSON[TokenResponse](t, w)
	if rotated.AccessToken == tokens.AccessToken || rotated.Scope != "openid profile" {
		t.Errorf("rotated = %+v", rotated)
	}

	w = serve(routes, tokenRequest(refreshForm, false))
	if w.Code != http.StatusBadRequest || decodeJSON[ErrorResponse](t, w).Error != ErrorCodeInvalidGrant {
		t.Errorf("replayed refresh status = %d, want 400 invalid_grant", w.Code)
	}

	// 7. the code is single use
	w = serve(routes, tokenRequest(url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testutil.TestRedirectURI},
		"code_verifier": {verifier},
	}, true))
	if w.Code != http.StatusBadRequest {
		t.Errorf("second exchange status = %d, want 400", w.Code)
	}
}

func TestHandler_ServeAuthorization_Errors(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	tests := []struct {
		name         string
		params       map[string]string
		signedIn     bool
		wantStatus   int
		wantRedirect string
	}{
		{name: "unknown client before login", params: map[string]string{"client_id": "nope"}, wantStatus: http.StatusBadRequest},
		{name: "bad redirect before login", params: map[string]string{"redirect_uri": "https://evil.example/cb"}, wantStatus: http.StatusBadRequest},
		{name: "missing client", params: map[string]string{"client_id": ""}, signedIn: true, wantStatus: http.StatusBadRequest},
		{name: "bad redirect signed in", params: map[string]string{"redirect_uri": "https://evil.example/cb"}, signedIn: true, wantStatus: http.StatusBadRequest},
		{name: "scope escalation", params: map[string]string{"scope": "openid admin"}, signedIn: true, wantStatus: http.StatusFound, wantRedirect: ErrorCodeInvalidScope},
		{name: "implicit flow", params: map[string]string{"response_type": "token"}, signedIn: true, wantStatus: http.StatusFound, wantRedirect: ErrorCodeUnsupportedResponseType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, authorizeURL(tt.params), nil)
			if tt.signedIn {
				r.Header.Set(DefaultUserHeader, testUserID)
			}
			w := serve(routes, r)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantRedirect == "" {
				if loc := w.Header().Get("Location"); loc != "" {
					t.Errorf("unexpected redirect to %q", loc)
				}
				return
			}
			loc, _ := url.Parse(w.Header().Get("Location"))
			if !strings.HasPrefix(loc.String(), testutil.TestRedirectURI) {
				t.Errorf("redirected to %q, want client redirect URI", loc)
			}
			if loc.Query().Get("error") != tt.wantRedirect || loc.Query().Get("state") != "xyz" {
				t.Errorf("redirect query = %v", loc.Query())
			}
		})
	}
}

func TestHandler_ServeAuthorization_NoLoginConfigured(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	handler.config.LoginURL = ""

	w := serve(handler.Routes(), httptest.NewRequest(http.MethodGet, authorizeURL(nil), nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestHandler_ServeLoginCallback_Rejections(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	csrf := state.NewCSRFToken()
	valid, err := handler.codec.Encode(csrf, testClientID, "/oauth/authorize?client_id=client-1")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	external, err := handler.codec.Encode(csrf, testClientID, "//evil.example/phish")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tests := []struct {
		name   string
		state  string
		cookie string
	}{
		{"missing state", "", csrf},
		{"tampered state", valid[:len(valid)-2] + "AA", csrf},
		{"missing cookie", valid, ""},
		{"cookie mismatch", valid, state.NewCSRFToken()},
		{"external return_to", external, csrf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, PathLoginCallback+"?state="+url.QueryEscape(tt.state), nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: tt.cookie})
			}
			w := serve(routes, r)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != "" {
				t.Errorf("unexpected redirect to %q", loc)
			}
		})
	}
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/oauth/authorize?client_id=x", true},
		{"/", true},
		{"", false},
		{"oauth/authorize", false},
		{"//evil.example", false},
		{"/\\evil.example", false},
		{"https://evil.example/", false},
	}
	for _, tt := range tests {
		if got := isLocalPath(tt.path); got != tt.want {
			t.Errorf("isLocalPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHandler_ServeToken_Errors(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	t.Run("method", func(t *testing.T) {
		w := serve(routes, httptest.NewRequest(http.MethodGet, PathToken, nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})

	tests := []struct {
		name       string
		form       url.Values
		basicAuth  bool
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing client",
			form:       url.Values{"grant_type": {GrantTypeAuthorizationCode}, "code": {"x"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "unsupported grant",
			form:       url.Values{"grant_type": {"password"}, "client_id": {testClientID}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeUnsupportedGrantType,
		},
		{
			name:       "wrong secret",
			form:       url.Values{"grant_type": {GrantTypeRefreshToken}, "client_id": {testClientID}, "client_secret": {"nope"}, "refresh_token": {"x"}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   ErrorCodeInvalidClient,
		},
		{
			name:       "unknown code",
			form:       url.Values{"grant_type": {GrantTypeAuthorizationCode}, "code": {"unknown"}, "redirect_uri": {testutil.TestRedirectURI}},
			basicAuth:  true,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidGrant,
		},
		{
			name:       "missing code",
			form:       url.Values{"grant_type": {GrantTypeAuthorizationCode}},
			basicAuth:  true,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(routes, tokenRequest(tt.form, tt.basicAuth))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeJSON[ErrorResponse](t, w).Error; got != tt.wantCode {
				t.Errorf("error = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestHandler_ServeToken_BasicAuthChallenge(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	r := tokenRequest(url.Values{"grant_type": {GrantTypeRefreshToken}, "refresh_token": {"x"}}, false)
	r.SetBasicAuth(testClientID, "wrong")
	w := serve(handler.Routes(), r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Basic") {
		t.Errorf("WWW-Authenticate = %q, want Basic challenge", w.Header().Get("WWW-Authenticate"))
	}
}

func TestHandler_ServeToken_CORS(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.example", "https://app.example"},
		{"https://evil.example", ""},
		{"", ""},
	}

	for _, tt := range tests {
		r := tokenRequest(url.Values{"grant_type": {GrantTypeRefreshToken}, "client_id": {testClientID}, "refresh_token": {"x"}}, false)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		w := serve(routes, r)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestHandler_ServeToken_Preflight(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	tests := []struct {
		name       string
		clientID   string
		origin     string
		wantOrigin string
	}{
		{name: "allowed origin", clientID: testClientID, origin: "https://app.example", wantOrigin: "https://app.example"},
		{name: "other origin", clientID: testClientID, origin: "https://evil.example"},
		{name: "unknown client", clientID: "missing", origin: "https://app.example"},
		{name: "no client_id", origin: "https://app.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := PathToken
			if tt.clientID != "" {
				target += "?" + url.Values{"client_id": {tt.clientID}}.Encode()
			}
			r := httptest.NewRequest(http.MethodOptions, target, nil)
			r.Header.Set("Origin", tt.origin)
			r.Header.Set("Access-Control-Request-Method", http.MethodPost)
			r.Header.Set("Access-Control-Request-Headers", "authorization, content-type")

			w := serve(routes, r)
			if w.Code != http.StatusNoContent {
				t.Fatalf("status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			wantMethods, wantHeaders := "", ""
			if tt.wantOrigin != "" {
				wantMethods, wantHeaders = http.MethodPost, "Authorization, Content-Type"
			}
			if got := w.Header().Get("Access-Control-Allow-Methods"); got != wantMethods {
				t.Errorf("Access-Control-Allow-Methods = %q, want %q", got, wantMethods)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); got != wantHeaders {
				t.Errorf("Access-Control-Allow-Headers = %q, want %q", got, wantHeaders)
			}
		})
	}
}

func TestHandler_ServeToken_RateLimit(t *testing.T) {
	handler, _ := setupTestHandler(t, &HandlerConfig{RateLimit: RateLimitConfig{Rate: 1, Burst: 1}})
	routes := handler.Routes()

	form := url.Values{"grant_type": {"password"}, "client_id": {testClientID}}
	if w := serve(routes, tokenRequest(form, false)); w.Code == http.StatusTooManyRequests {
		t.Fatal("first request should not be limited")
	}
	w := serve(routes, tokenRequest(url.Values{"grant_type": {"password"}, "client_id": {testClientID}}, false))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After should be set")
	}
}

func TestHandler_ServeUserInfo_Errors(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	routes := handler.Routes()

	t.Run("no token", func(t *testing.T) {
		w := serve(routes, httptest.NewRequest(http.MethodGet, PathUserInfo, nil))
		if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Errorf("status = %d, WWW-Authenticate = %q", w.Code, w.Header().Get("WWW-Authenticate"))
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, PathUserInfo, nil)
		r.Header.Set("Authorization", "Bearer not-a-token")
		w := serve(routes, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if !strings.Contains(w.Header().Get("WWW-Authenticate"), `error="invalid_token"`) {
			t.Errorf("WWW-Authenticate = %q", w.Header().Get("WWW-Authenticate"))
		}
	})

	t.Run("user deleted", func(t *testing.T) {
		token, err := handler.server.CreateAccessToken(context.Background(), testClientID, "ghost", []string{"openid"})
		if err != nil {
			t.Fatalf("CreateAccessToken() error = %v", err)
		}
		r := httptest.NewRequest(http.MethodGet, PathUserInfo, nil)
		r.Header.Set("Authorization", "bearer "+token.AccessToken)
		w := serve(routes, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestHandler_ServeClientRegistration(t *testing.T) {
	handler, store := setupTestHandler(t, nil)
	routes := handler.Routes()

	register := func(token string, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, PathRegister, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		return serve(routes, r)
	}

	validBody := `{"client_name":"Notes","redirect_uris":["https://notes.example/cb"],"scopes":["openid"],"allowed_origin":"https://notes.example"}`

	t.Run("success", func(t *testing.T) {
		w := register(testRegistrationToken, validBody)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
		}
		resp := decodeJSON[ClientRegistrationResponse](t, w)
		if resp.ClientID == "" || resp.ClientSecret == "" || resp.Scope != "openid" {
			t.Errorf("response = %+v", resp)
		}
		if _, err := store.FindActiveClient(context.Background(), resp.ClientID); err != nil {
			t.Errorf("registered client not stored: %v", err)
		}
	})

	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"no token", "", validBody, http.StatusUnauthorized, ErrorCodeInvalidToken},
		{"wrong token", "guess", validBody, http.StatusUnauthorized, ErrorCodeInvalidToken},
		{"not json", testRegistrationToken, "client_name=x", http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"unknown field", testRegistrationToken, `{"client_name":"x","redirect_uris":["https://a.example/cb"],"grant_types":["implicit"]}`, http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"missing name", testRegistrationToken, `{"redirect_uris":["https://a.example/cb"]}`, http.StatusBadRequest, ErrorCodeInvalidClientMetadata},
		{"no redirect uris", testRegistrationToken, `{"client_name":"x","redirect_uris":[]}`, http.StatusBadRequest, ErrorCodeInvalidClientMetadata},
		{"http redirect", testRegistrationToken, `{"client_name":"x","redirect_uris":["http://a.example/cb"]}`, http.StatusBadRequest, ErrorCodeInvalidRedirectURI},
		{"bad origin", testRegistrationToken, `{"client_name":"x","redirect_uris":["https://a.example/cb"],"allowed_origin":"*"}`, http.StatusBadRequest, ErrorCodeInvalidClientMetadata},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := register(tt.token, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decodeJSON[ErrorResponse](t, w).Error; got != tt.wantCode {
				t.Errorf("error = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestHandler_ServeAuthorizationServerMetadata(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	w := serve(handler.Routes(), httptest.NewRequest(http.MethodGet, PathMetadata, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	meta := decodeJSON[AuthorizationServerMetadata](t, w)
	if meta.Issuer != testIssuer {
		t.Errorf("Issuer = %q, want %q", meta.Issuer, testIssuer)
	}
	if meta.TokenEndpoint != testIssuer+PathToken || meta.RegistrationEndpoint != testIssuer+PathRegister {
		t.Errorf("endpoints = %+v", meta)
	}
	if len(meta.CodeChallengeMethodsSupported) != 2 {
		t.Errorf("CodeChallengeMethodsSupported = %v, want S256 and plain", meta.CodeChallengeMethodsSupported)
	}
}

func TestFormatWWWAuthenticate(t *testing.T) {
	tests := []struct {
		code, desc string
		want       string
	}{
		{"", "", "Bearer"},
		{"invalid_token", "", `Bearer error="invalid_token"`},
		{"invalid_token", `bad "token"`, `Bearer error="invalid_token", error_description="bad \"token\""`},
	}
	for _, tt := range tests {
		if got := formatWWWAuthenticate(tt.code, tt.desc); got != tt.want {
			t.Errorf("formatWWWAuthenticate(%q, %q) = %q, want %q", tt.code, tt.desc, got, tt.want)
		}
	}
}
