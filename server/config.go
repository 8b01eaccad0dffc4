package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultScope is granted when an authorization request names none.
	DefaultScope = "mcp:tools"

	// DefaultResourceName is advertised in protected resource metadata.
	DefaultResourceName = "MCP Tutorial Server"

	// DefaultAccessTokenTTL is the lifetime of signed access tokens.
	DefaultAccessTokenTTL = time.Hour

	// DefaultCodeTTL is how long an authorization code can be redeemed.
	DefaultCodeTTL = 10 * time.Minute

	// DefaultClientName is used when a registration omits client_name.
	DefaultClientName = "Unknown Client"
)

// Config holds authorization server configuration.
type Config struct {
	// Issuer is the server's base URL. It is the iss and aud of every access
	// token and the prefix of every advertised endpoint.
	Issuer string

	// AccessTokenTTL defaults to one hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds refresh token lifetime. Zero means refresh
	// tokens never expire and live until they are rotated.
	RefreshTokenTTL time.Duration

	// CodeTTL defaults to ten minutes.
	CodeTTL time.Duration

	// DefaultScope defaults to "mcp:tools".
	DefaultScope string

	// SupportedScopes is advertised in metadata. Defaults to [DefaultScope].
	SupportedScopes []string

	// ResourceName is the protected resource's display name.
	ResourceName string

	// AllowAnyRedirectURIWhenUnregistered accepts any redirect_uri for a
	// client that registered none. Unset means true, with a startup warning.
	AllowAnyRedirectURIWhenUnregistered *bool

	// AllowInsecureHTTP permits an http issuer on a non-loopback host.
	AllowInsecureHTTP bool

	// TrustProxy enables X-Forwarded-For / X-Real-IP handling for client IPs.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server.
	TrustedProxyCount int
}

// AllowsAnyRedirectURI reports the effective permissive redirect setting.
func (c *Config) AllowsAnyRedirectURI() bool {
	return c.AllowAnyRedirectURIWhenUnregistered == nil || *c.AllowAnyRedirectURIWhenUnregistered
}

func applySecureDefaults(config *Config, logger *slog.Logger) (*Config, error) {
	config.Issuer = strings.TrimRight(config.Issuer, "/")
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if err := validateIssuer(config, logger); err != nil {
		return nil, err
	}

	applyTimeDefaults(config)

	if config.DefaultScope == "" {
		config.DefaultScope = DefaultScope
	}
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = []string{config.DefaultScope}
	}
	if config.ResourceName == "" {
		config.ResourceName = DefaultResourceName
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)

	return config, nil
}

func applyTimeDefaults(config *Config) {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	if config.RefreshTokenTTL < 0 {
		config.RefreshTokenTTL = 0
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowsAnyRedirectURI() {
		logger.Warn("⚠️  SECURITY WARNING: Clients without registered redirect URIs may redirect anywhere",
			"risk", "Authorization codes can be sent to attacker-controlled URLs",
			"recommendation", "Set AllowAnyRedirectURIWhenUnregistered=false and require redirect_uris at registration")
	}
	if config.RefreshTokenTTL == 0 {
		logger.Warn("⚠️  SECURITY NOTICE: Refresh tokens do not expire",
			"risk", "A leaked refresh token stays usable until it is rotated",
			"recommendation", "Set RefreshTokenTTL")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
}

// validateIssuer requires https except on loopback hosts, unless
// AllowInsecureHTTP is set.
func validateIssuer(config *Config, logger *slog.Logger) error {
	issuerURL, err := url.Parse(config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case "https":
		return nil
	case "http":
	default:
		return fmt.Errorf("invalid issuer URL scheme: %q (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLoopbackHost(hostname) {
		logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
			"issuer", config.Issuer,
			"risk", "Credentials exposed on local network",
			"recommendation", "Use HTTPS outside local development")
		return nil
	}

	if !config.AllowInsecureHTTP {
		return fmt.Errorf("issuer must use HTTPS (got http://%s); set AllowInsecureHTTP to override", hostname)
	}

	logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", config.Issuer,
		"risk", "Tokens and credentials exposed to network sniffing",
		"action_required", "Switch to HTTPS")
	return nil
}

func isLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") || strings.HasSuffix(strings.ToLower(hostname), ".localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}
