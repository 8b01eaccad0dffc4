// Package security holds the cross-cutting protections of the authorization
// server: audit logging with hashed identities, per-IP rate limiting, client
// IP extraction behind proxies, request IDs and response security headers.
//
// # Rate Limiting
//
// RateLimiter keeps one token bucket per identifier (usually the client IP)
// and evicts the least recently used bucket once MaxEntries is reached, so a
// wide spray of source addresses cannot grow memory without bound. Idle
// buckets are dropped by a background sweep.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	mux.Handle("/oauth2/token", limiter.Middleware(tokenHandler, security.MiddlewareConfig{}))
//
// # Audit Logging
//
// Auditor writes one "security_audit" record per event. Subjects are hashed
// before logging. Client IDs and IP addresses are logged as-is.
package security
