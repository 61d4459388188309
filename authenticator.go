package oauth

import (
	"net/http"
	"strings"
)

// DefaultUserHeader is the header HeaderAuthenticator reads by default
const DefaultUserHeader = "X-Forwarded-User"

// Authenticator identifies the end user behind an authorization request.
// User authentication itself happens outside this server: the login page at
// HandlerConfig.LoginURL signs the user in and sends them back through the
// callback endpoint.
type Authenticator interface {
	// Authenticate returns the ID of the signed-in user, or false when the
	// user has to log in first.
	Authenticate(r *http.Request) (userID string, ok bool)
}

// AuthenticatorFunc adapts an ordinary function to the Authenticator interface
type AuthenticatorFunc func(r *http.Request) (string, bool)

// Authenticate calls f(r)
func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, bool) {
	return f(r)
}

// HeaderAuthenticator trusts a user ID header set by an authenticating
// reverse proxy (oauth2-proxy, an ingress auth hook, ...). Only use it when
// that proxy strips the header from client requests.
type HeaderAuthenticator struct {
	// Header holds the user ID. Default: DefaultUserHeader
	Header string
}

// Authenticate returns the trimmed header value
func (a HeaderAuthenticator) Authenticate(r *http.Request) (string, bool) {
	header := a.Header
	if header == "" {
		header = DefaultUserHeader
	}
	userID := strings.TrimSpace(r.Header.Get(header))
	return userID, userID != ""
}
