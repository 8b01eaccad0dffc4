package oauth

import "log/slog"

const defaultCORSMaxAge = 3600

// Config holds the HTTP layer configuration. Token lifetimes and the issuer
// live in ServerConfig.
type Config struct {
	// CORS configures cross-origin access for browser-based MCP clients.
	CORS CORSConfig

	// RateLimit configures per-IP limiting of the token, registration and
	// login endpoints.
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// AllowedOrigins defaults to ["*"].
	AllowedOrigins []string

	// MaxAge is the preflight cache duration in seconds. Default: 3600.
	MaxAge int
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst per IP. Defaults to 2*Rate.
	Burst int

	// MaxEntries bounds the number of tracked IPs.
	MaxEntries int
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.CORS.MaxAge <= 0 {
		c.CORS.MaxAge = defaultCORSMaxAge
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 2 * c.RateLimit.Rate
	}
}

func (c *Config) logSecurityWarnings() {
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			c.Logger.Warn("⚠️  CORS: Wildcard origin (*) allows ALL origins",
				"risk", "Any website can call the token and registration endpoints",
				"recommendation", "Use specific origins in production")
			break
		}
	}
	if c.RateLimit.Rate == 0 {
		c.Logger.Warn("⚠️  SECURITY NOTICE: Rate limiting disabled",
			"risk", "Credential stuffing on /login and registration floods",
			"recommendation", "Set RateLimit.Rate")
	}
}
