package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the client address of r. With trustProxy set, the
// address is taken from X-Forwarded-For, skipping trustedProxyCount entries
// from the right (default 1), then from X-Real-IP. Otherwise, and when
// neither header holds a valid IP, RemoteAddr is used.
//
// Only enable trustProxy behind a reverse proxy that overwrites these
// headers; otherwise clients can spoof their address.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIPFromXFF picks the entry just left of the trusted proxies in
// "client, proxy1, ..., proxyN".
func clientIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	ips := strings.Split(xff, ",")
	idx := max(len(ips)-trustedProxyCount-1, 0)

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
