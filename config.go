package oauth

import (
	"log/slog"
	"net/url"
	"strings"
)

const (
	// DefaultCSRFCookieName is the cookie carrying the login round trip CSRF token
	DefaultCSRFCookieName = "authserver_csrf"

	// DefaultMaxRequestBodySize bounds JSON and form request bodies (1 MiB)
	DefaultMaxRequestBodySize = 1 << 20
)

// HandlerConfig holds the HTTP front end configuration
type HandlerConfig struct {
	// LoginURL is where unauthenticated users are sent from the authorization
	// endpoint. The encoded state is appended as the "state" query parameter;
	// the login page sends the user back to the callback endpoint with it.
	LoginURL string

	// CSRFCookieName names the HttpOnly cookie holding the login CSRF token.
	// Default: DefaultCSRFCookieName
	CSRFCookieName string

	// SecureCookies sets the Secure attribute on cookies. Enable whenever the
	// server is reached over https.
	SecureCookies bool

	// RateLimit holds per-IP rate limiting settings
	RateLimit RateLimitConfig

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server. Default: 1
	TrustedProxyCount int

	// MaxRequestBodySize bounds request bodies in bytes.
	// Default: DefaultMaxRequestBodySize
	MaxRequestBodySize int64
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP on the token and userinfo
	// endpoints. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// RegistrationRate is requests per second allowed per IP on the client
	// registration endpoint. Zero disables limiting.
	RegistrationRate int

	// RegistrationBurst is the maximum registration burst per IP.
	RegistrationBurst int
}

func (c *HandlerConfig) applyDefaults(logger *slog.Logger) {
	if c.CSRFCookieName == "" {
		c.CSRFCookieName = DefaultCSRFCookieName
	}
	if c.TrustedProxyCount <= 0 {
		c.TrustedProxyCount = 1
	}
	if c.MaxRequestBodySize <= 0 {
		c.MaxRequestBodySize = DefaultMaxRequestBodySize
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.Rate
	}
	if c.RateLimit.RegistrationRate > 0 && c.RateLimit.RegistrationBurst <= 0 {
		c.RateLimit.RegistrationBurst = c.RateLimit.RegistrationRate
	}

	if c.LoginURL == "" {
		logger.Warn("No login URL configured, unauthenticated authorization requests will be rejected")
	}
	if !c.SecureCookies && strings.HasPrefix(c.LoginURL, "https://") {
		logger.Warn("Login is served over https but cookies are not marked Secure",
			"recommendation", "enable SecureCookies")
	}
	if c.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP",
			"trusted_proxy_count", c.TrustedProxyCount,
			"risk", "spoofed X-Forwarded-For bypasses rate limits unless a proxy overwrites it")
	}
}

// loginRedirect returns LoginURL with the state appended.
func (c *HandlerConfig) loginRedirect(encodedState string) (string, error) {
	u, err := url.Parse(c.LoginURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("state", encodedState)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
