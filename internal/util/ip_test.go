package util

import "testing"

func TestClassifyHost(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected HostClass
	}{
		{"IPv4 unspecified", "0.0.0.0", HostUnspecified},
		{"IPv6 unspecified", "::", HostUnspecified},
		{"localhost", "localhost", HostLoopback},
		{"IPv4 loopback", "127.0.0.1", HostLoopback},
		{"IPv4 loopback range", "127.255.255.255", HostLoopback},
		{"IPv6 loopback bracketed", "[::1]", HostLoopback},
		{"cloud metadata", "169.254.169.254", HostLinkLocal},
		{"IPv6 link-local", "fe80::1", HostLinkLocal},
		{"IPv4 private", "10.0.0.1", HostPrivate},
		{"IPv6 ULA", "fd00::1", HostPrivate},
		{"IPv4 public", "8.8.8.8", HostPublic},
		{"DNS name", "app.example", HostPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyHost(tt.host); got != tt.expected {
				t.Errorf("ClassifyHost(%q) = %v, want %v", tt.host, got, tt.expected)
			}
		})
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		hostname string
		expected bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"[::1]", true},
		{"10.0.0.1", false},
		{"example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsLoopbackHostname(tt.hostname); got != tt.expected {
			t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.hostname, got, tt.expected)
		}
	}
}

func TestHostClass_String(t *testing.T) {
	if got := HostLinkLocal.String(); got != "link_local" {
		t.Errorf("String() = %q, want %q", got, "link_local")
	}
	if got := HostClass(99).String(); got != "unknown" {
		t.Errorf("String() = %q, want %q", got, "unknown")
	}
}
