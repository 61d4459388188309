package util

import "net"

// HostClass classifies a redirect URI host.
type HostClass int

const (
	// HostPublic is a DNS name or publicly routable address.
	HostPublic HostClass = iota
	// HostLoopback is localhost, 127.0.0.0/8 or ::1. Native apps may use
	// plain http on these (RFC 8252 section 7.3).
	HostLoopback
	// HostPrivate is an RFC 1918 or fc00::/7 address.
	HostPrivate
	// HostLinkLocal covers 169.254.0.0/16 and fe80::/10, including cloud
	// metadata endpoints.
	HostLinkLocal
	// HostUnspecified is 0.0.0.0 or ::.
	HostUnspecified
)

// String returns a human-readable name for the classification.
func (c HostClass) String() string {
	switch c {
	case HostPublic:
		return "public"
	case HostLoopback:
		return "loopback"
	case HostPrivate:
		return "private"
	case HostLinkLocal:
		return "link_local"
	case HostUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyHost classifies a hostname as returned by url.URL.Hostname().
// Names other than "localhost" are not resolved and count as public.
func ClassifyHost(hostname string) HostClass {
	if hostname == "localhost" {
		return HostLoopback
	}

	h := hostname
	if len(h) > 2 && h[0] == '[' && h[len(h)-1] == ']' {
		h = h[1 : len(h)-1]
	}

	ip := net.ParseIP(h)
	switch {
	case ip == nil:
		return HostPublic
	case ip.IsUnspecified():
		return HostUnspecified
	case ip.IsLoopback():
		return HostLoopback
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return HostLinkLocal
	case ip.IsPrivate():
		return HostPrivate
	default:
		return HostPublic
	}
}

// IsLoopbackHostname reports whether hostname names the local machine.
func IsLoopbackHostname(hostname string) bool {
	return ClassifyHost(hostname) == HostLoopback
}
