package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/signing"
)

const (
	// DefaultDiscoveryTimeout bounds the first metadata and JWKS fetch.
	DefaultDiscoveryTimeout = 10 * time.Second

	// DefaultRetryInterval is how long a failed discovery is reported before
	// the next attempt.
	DefaultRetryInterval = 5 * time.Second
)

// ErrUnauthorized wraps every token rejection.
var ErrUnauthorized = errors.New("resource: unauthorized")

// Config configures a Verifier.
type Config struct {
	// Issuer is the authorization server's issuer URL (required).
	Issuer string

	// Audience must appear in the token's aud claim. Defaults to Issuer.
	Audience string

	// Leeway is the clock skew tolerated on exp. Default: 0.
	Leeway time.Duration

	// DiscoveryTimeout bounds discovery. Default: DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration

	// RetryInterval is the wait after a failed discovery before the next
	// attempt. Default: DefaultRetryInterval.
	RetryInterval time.Duration

	// HTTPClient is used for discovery (optional).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Verifier validates RS256 access tokens against a remote issuer's JWKS.
type Verifier struct {
	config Config

	// mu is held across discovery so concurrent first callers share one
	// attempt. Only a successful keyfunc is kept.
	mu        sync.Mutex
	kf        keyfunc.Keyfunc
	lastErr   error
	nextRetry time.Time
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewVerifier creates a verifier. No network traffic happens until the first
// token is checked.
func NewVerifier(config Config) (*Verifier, error) {
	config.Issuer = strings.TrimSuffix(config.Issuer, "/")
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.Audience == "" {
		config.Audience = config.Issuer
	}
	if config.DiscoveryTimeout <= 0 {
		config.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Verifier{config: config, now: time.Now, ctx: ctx, cancel: cancel}, nil
}

// Close stops the background JWKS refresh.
func (v *Verifier) Close() {
	v.cancel()
}

// keys returns the issuer's keyfunc, running discovery on first use and again
// after a failure once RetryInterval has passed.
func (v *Verifier) keys() (keyfunc.Keyfunc, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.kf != nil {
		return v.kf, nil
	}
	if v.lastErr != nil && v.now().Before(v.nextRetry) {
		return nil, v.lastErr
	}

	kf, err := v.discover()
	if err != nil {
		v.lastErr = err
		v.nextRetry = v.now().Add(v.config.RetryInterval)
		return nil, err
	}
	v.kf, v.lastErr = kf, nil
	return kf, nil
}

// discover fetches the issuer metadata and starts the JWKS refresher.
func (v *Verifier) discover() (keyfunc.Keyfunc, error) {
	ctx, cancel := context.WithTimeout(v.ctx, v.config.DiscoveryTimeout)
	defer cancel()

	jwksURI, err := v.jwksURI(ctx)
	if err != nil {
		v.config.Logger.Error("Issuer discovery failed", "issuer", v.config.Issuer, "error", err)
		return nil, fmt.Errorf("issuer discovery failed: %w", err)
	}

	// The refresher outlives discovery, so it runs on the verifier's context.
	kf, err := keyfunc.NewDefaultCtx(v.ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	v.config.Logger.Info("Resolved issuer keys", "issuer", v.config.Issuer, "jwks_uri", jwksURI)
	return kf, nil
}

// jwksURI resolves jwks_uri from the OpenID configuration, falling back to the
// RFC 8414 authorization server metadata document.
func (v *Verifier) jwksURI(ctx context.Context) (string, error) {
	var meta struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}

	provider, oidcErr := oidc.NewProvider(oidc.ClientContext(ctx, v.config.HTTPClient), v.config.Issuer)
	if oidcErr == nil {
		if err := provider.Claims(&meta); err != nil {
			return "", fmt.Errorf("invalid issuer metadata: %w", err)
		}
	} else {
		v.config.Logger.Debug("OpenID configuration unavailable, trying RFC 8414 metadata", "issuer", v.config.Issuer, "error", oidcErr)
		if err := v.fetchServerMetadata(ctx, &meta); err != nil {
			return "", errors.Join(oidcErr, err)
		}
		if strings.TrimSuffix(meta.Issuer, "/") != v.config.Issuer {
			return "", fmt.Errorf("metadata issuer %q does not match %q", meta.Issuer, v.config.Issuer)
		}
	}

	if meta.JWKSURI == "" {
		return "", fmt.Errorf("issuer metadata has no jwks_uri")
	}
	return meta.JWKSURI, nil
}

func (v *Verifier) fetchServerMetadata(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.Issuer+server.AuthorizationServerMetadataPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.config.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch authorization server metadata: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authorization server metadata: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode authorization server metadata: %w", err)
	}
	return nil
}

// ValidateAccessToken verifies signature, expiry, issuer and audience.
func (v *Verifier) ValidateAccessToken(_ context.Context, token string) (*signing.Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	kf, err := v.keys()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signing.Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithLeeway(v.config.Leeway),
	)

	claims := &signing.Claims{}
	if _, err := parser.ParseWithClaims(token, claims, kf.Keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !server.AudienceContains(claims.Audience, v.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	return claims, nil
}
