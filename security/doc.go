// Package security provides the security primitives of the authorization
// server: opaque token generation, constant-time comparison, security audit
// logging, per-client-IP rate limiting, response security headers, client IP
// extraction behind proxies, and request ID propagation.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (normally the client IP)
// and bounds memory with LRU eviction once MaxEntries identifiers are
// tracked. Idle buckets are dropped by a background cleanup loop.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
//		return
//	}
//
// # Audit Logging
//
// Auditor writes one structured "security_audit" record per event. User IDs
// are logged as a truncated SHA-256 hash; codes and tokens are never logged.
package security
