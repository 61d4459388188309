package server

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/giantswarm/oauth-authserver/internal/util"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that are never allowed for redirect URIs
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about", "blob"}

	// DefaultRFC3986SchemePattern is the default regex pattern for custom URI schemes (RFC 3986)
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}
)

// RedirectURISecurityError is a registration-time redirect URI rejection.
// Error returns a message safe for clients; Reason is for logs only.
type RedirectURISecurityError struct {
	// Category is the error category for logging/metrics
	Category string
	// URI is the offending redirect URI, sanitized for logging
	URI string
	// Reason is the detailed internal reason
	Reason string
	// ClientMessage is the message safe to return to clients
	ClientMessage string
}

func (e *RedirectURISecurityError) Error() string {
	return e.ClientMessage
}

// Redirect URI security error categories for metrics and logging.
const (
	RedirectURIErrorCategoryBlockedScheme   = "blocked_scheme"
	RedirectURIErrorCategoryPrivateIP       = "private_ip"
	RedirectURIErrorCategoryLinkLocal       = "link_local"
	RedirectURIErrorCategoryHTTPNotAllowed  = "http_not_allowed"
	RedirectURIErrorCategoryInvalidFormat   = "invalid_format"
	RedirectURIErrorCategoryFragment        = "fragment_not_allowed"
	RedirectURIErrorCategoryUnspecifiedAddr = "unspecified_address"
)

// ValidateRedirectURIForRegistration checks a redirect URI a client wants to
// register: absolute, no fragment, https unless loopback, no dangerous
// scheme, custom schemes only if they match AllowedCustomSchemes, and no
// private, link-local or unspecified IP hosts.
func (s *Server) ValidateRedirectURIForRegistration(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        fmt.Sprintf("not an absolute URI: %v", err),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	// OAuth 2.0 Security BCP section 4.1.3
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryFragment,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        "URI contains a fragment",
			ClientMessage: "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if slices.Contains(DangerousSchemes, scheme) {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        fmt.Sprintf("scheme '%s' is in the dangerous list", scheme),
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is blocked for security reasons", scheme),
		}
	}

	if scheme == SchemeHTTP || scheme == SchemeHTTPS {
		return s.validateHTTPRedirectURI(parsed)
	}

	if err := validateCustomScheme(scheme, s.Config.AllowedCustomSchemes); err != nil {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           sanitizeURIForLogging(redirectURI),
			Reason:        err.Error(),
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is not allowed", scheme),
		}
	}
	return nil
}

func (s *Server) validateHTTPRedirectURI(parsed *url.URL) error {
	hostname := parsed.Hostname()
	if hostname == "" {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           sanitizeURIForLogging(parsed.String()),
			Reason:        "missing host",
			ClientMessage: "redirect_uri: host is required",
		}
	}

	class := util.ClassifyHost(hostname)
	switch class {
	case util.HostLoopback:
		// RFC 8252 section 7.3: native apps may use http on loopback
		return nil
	case util.HostUnspecified:
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryUnspecifiedAddr,
			URI:           sanitizeURIForLogging(parsed.String()),
			Reason:        fmt.Sprintf("host %s is unspecified", hostname),
			ClientMessage: "redirect_uri: unspecified addresses (0.0.0.0, ::) are not allowed",
		}
	case util.HostLinkLocal:
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryLinkLocal,
			URI:           sanitizeURIForLogging(parsed.String()),
			Reason:        fmt.Sprintf("host %s is link-local", hostname),
			ClientMessage: "redirect_uri: link-local addresses are not allowed",
		}
	case util.HostPrivate:
		if !s.Config.AllowPrivateIPRedirectURIs {
			return &RedirectURISecurityError{
				Category:      RedirectURIErrorCategoryPrivateIP,
				URI:           sanitizeURIForLogging(parsed.String()),
				Reason:        fmt.Sprintf("host %s is in a private range", hostname),
				ClientMessage: "redirect_uri: private IP addresses are not allowed",
			}
		}
	}

	if strings.ToLower(parsed.Scheme) == SchemeHTTP {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryHTTPNotAllowed,
			URI:           sanitizeURIForLogging(parsed.String()),
			Reason:        fmt.Sprintf("http on %s host", class),
			ClientMessage: "redirect_uri: HTTPS is required (HTTP only allowed for loopback)",
		}
	}
	return nil
}

// validateCustomScheme checks a native app scheme against the allowed patterns
func validateCustomScheme(scheme string, patterns []string) error {
	if len(patterns) == 0 {
		patterns = DefaultRFC3986SchemePattern
	}
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern %q: %w", pattern, err)
		}
		if re.MatchString(scheme) {
			return nil
		}
	}
	return fmt.Errorf("scheme '%s' does not match any allowed pattern", scheme)
}

// ValidateRedirectURIsForRegistration validates every URI, returning the first failure.
func (s *Server) ValidateRedirectURIsForRegistration(redirectURIs []string) error {
	if len(redirectURIs) == 0 {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			Reason:        "no redirect URIs",
			ClientMessage: "redirect_uri: at least one redirect URI is required",
		}
	}
	for _, uri := range redirectURIs {
		if err := s.ValidateRedirectURIForRegistration(uri); err != nil {
			return err
		}
	}
	return nil
}

// sanitizeURIForLogging drops query, fragment and userinfo
func sanitizeURIForLogging(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return util.SafeTruncate(uri, 100)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed.String()
}

// GetRedirectURIErrorCategory returns the category of a RedirectURISecurityError, or "".
func GetRedirectURIErrorCategory(err error) string {
	var secErr *RedirectURISecurityError
	if errors.As(err, &secErr) {
		return secErr.Category
	}
	return ""
}
