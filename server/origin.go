package server

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/giantswarm/oauth-authserver/internal/util"
)

// validateOrigin checks a client's AllowedOrigin. It must be a bare
// scheme://host[:port] origin: no wildcard, path, query or trailing slash,
// and https unless the host is loopback.
func validateOrigin(origin string) error {
	if origin == "*" {
		return fmt.Errorf("allowed_origin: wildcard is not allowed")
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("allowed_origin: invalid origin format '%s' (must be scheme://host)", origin)
	}
	if strings.HasSuffix(origin, "/") {
		return fmt.Errorf("allowed_origin: '%s' must not have a trailing slash", origin)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("allowed_origin: '%s' must not carry a path, query or credentials", origin)
	}

	switch u.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		if util.IsLoopbackHostname(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("allowed_origin: HTTP origin '%s' is only allowed for loopback hosts", origin)
	default:
		return fmt.Errorf("allowed_origin: unsupported scheme '%s'", u.Scheme)
	}
}
