package server

import (
	"log/slog"
	"time"
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 2592000 (30 days)

	// RequirePKCE makes code_challenge mandatory at the authorization endpoint.
	// Default: false. Codes issued without a challenge are exchanged without
	// a verifier.
	RequirePKCE bool

	// DisallowPKCEPlain rejects the 'plain' code_challenge_method.
	// Default: false ('plain' and 'S256' are both accepted)
	DisallowPKCEPlain bool

	// RegistrationAccessToken is the bearer token required by the client
	// registration endpoint. Empty disables HTTP registration.
	RegistrationAccessToken string

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// for native app redirect URIs (e.g., myapp://, com.example.app://)
	// Default: ["^[a-z][a-z0-9+.-]*$"] (RFC 3986 compliant schemes)
	AllowedCustomSchemes []string

	// AllowPrivateIPRedirectURIs allows registering redirect URIs on RFC 1918
	// addresses, for internal deployments. Link-local addresses are always rejected.
	AllowPrivateIPRedirectURIs bool

	// AllowInsecureHTTP permits an http:// issuer on a non-loopback host.
	AllowInsecureHTTP bool

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time
}

// applyDefaults fills zero values
func applyDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 2592000 // 30 days
	}
	if len(config.AllowedCustomSchemes) == 0 {
		config.AllowedCustomSchemes = DefaultRFC3986SchemePattern
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	logSecurityWarnings(config, logger)
	return config
}

// logSecurityWarnings logs warnings for weaker configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Info("PKCE is optional",
			"impact", "codes issued without code_challenge are redeemable without a verifier",
			"recommendation", "Set RequirePKCE=true if all clients support PKCE")
	}
	if !config.DisallowPKCEPlain {
		logger.Info("Plain PKCE method is accepted",
			"recommendation", "Set DisallowPKCEPlain=true to require S256")
	}
	if config.RegistrationAccessToken == "" {
		logger.Warn("RegistrationAccessToken not configured",
			"impact", "client registration over HTTP is disabled")
	}
	if config.AllowPrivateIPRedirectURIs {
		logger.Warn("Private IP redirect URIs are allowed",
			"risk", "SSRF against internal services")
	}
}

func (c *Config) authorizationCodeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}
