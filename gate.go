package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/signing"
)

const (
	defaultRealm = "mcp"

	descAuthenticationRequired = "Authentication required"
	descInvalidToken           = "The access token is invalid or expired"
)

// Paths the gate never guards: the authorization server itself plus
// operational endpoints.
var (
	publicPathPrefixes = []string{"/oauth2/", "/.well-known/", "/static/"}
	publicPaths        = map[string]bool{
		"/login":       true,
		"/error":       true,
		"/healthz":     true,
		"/metrics":     true,
		"/favicon.ico": true,
	}
)

// TokenVerifier validates an access token and returns its claims.
// *server.Server verifies with its own key; resource.Verifier fetches the
// issuer's JWKS.
type TokenVerifier interface {
	ValidateAccessToken(ctx context.Context, token string) (*signing.Claims, error)
}

var _ TokenVerifier = (*server.Server)(nil)

// Principal is the authenticated caller of a protected request.
type Principal struct {
	Subject     string
	ClientID    string
	Scopes      []string
	Authorities []string
}

// HasScope reports whether the token granted scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// NewPrincipal builds a principal from verified claims. Each scope s becomes
// the authority "SCOPE_s".
func NewPrincipal(claims *signing.Claims) *Principal {
	scopes := util.ParseScopes(claims.Scope)
	authorities := make([]string, 0, len(scopes))
	for _, s := range scopes {
		authorities = append(authorities, "SCOPE_"+s)
	}
	return &Principal{
		Subject:     claims.Subject,
		ClientID:    claims.ClientID,
		Scopes:      scopes,
		Authorities: authorities,
	}
}

type principalContextKey struct{}

// ContextWithPrincipal stores p in ctx.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal set by BearerGate.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// GateConfig configures BearerGate.
type GateConfig struct {
	// ResourceMetadataURL is advertised in every challenge (required).
	ResourceMetadataURL string

	// Realm defaults to "mcp".
	Realm string

	TrustProxy        bool
	TrustedProxyCount int

	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

// BearerGate returns middleware admitting only requests with a valid bearer
// token. Authorization server and operational paths pass untouched, as do
// requests whose context already carries a principal.
func BearerGate(verifier TokenVerifier, cfg GateConfig) func(http.Handler) http.Handler {
	if cfg.Realm == "" {
		cfg.Realm = defaultRealm
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &gate{verifier: verifier, config: cfg}
	if cfg.Instrumentation != nil {
		g.metrics = cfg.Instrumentation.Metrics()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := PrincipalFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			principal, ok := g.authenticate(w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

type gate struct {
	verifier TokenVerifier
	config   GateConfig
	metrics  *instrumentation.Metrics
}

func (g *gate) authenticate(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	ctx := r.Context()

	token, ok := bearerToken(r)
	if !ok {
		g.record(ctx, server.BearerResultMissing)
		g.challenge(w, ErrorCodeUnauthorized, descAuthenticationRequired, false)
		return nil, false
	}

	claims, err := g.verify(ctx, token)
	if err != nil {
		clientIP := security.GetClientIP(r, g.config.TrustProxy, g.config.TrustedProxyCount)
		g.config.Logger.Debug("Bearer token rejected", "ip", clientIP, "path", r.URL.Path, "error", err)
		g.config.Auditor.LogBearerRejected(ctx, clientIP, r.URL.Path, "invalid_token")
		g.record(ctx, server.BearerResultInvalid)
		g.challenge(w, ErrorCodeInvalidToken, descInvalidToken, true)
		return nil, false
	}

	g.record(ctx, server.BearerResultValid)
	return NewPrincipal(claims), true
}

// verify turns a panicking verifier into an ordinary rejection.
func (g *gate) verify(ctx context.Context, token string) (claims *signing.Claims, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.config.Logger.Error("Token verifier panicked", "panic", rec)
			claims, err = nil, fmt.Errorf("verifier panic")
		}
	}()
	return g.verifier.ValidateAccessToken(ctx, token)
}

func (g *gate) record(ctx context.Context, result string) {
	if g.metrics != nil {
		g.metrics.RecordBearerValidation(ctx, result)
	}
}

func (g *gate) challenge(w http.ResponseWriter, code, description string, withError bool) {
	params := []string{fmt.Sprintf("realm=%q", g.config.Realm)}
	if withError {
		params = append(params, fmt.Sprintf("error=%q", code), fmt.Sprintf("error_description=%q", description))
	}
	params = append(params, fmt.Sprintf("resource_metadata=%q", g.config.ResourceMetadataURL))

	w.Header().Set("WWW-Authenticate", "Bearer "+strings.Join(params, ", "))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, ErrorDescription: description})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func isPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, prefix := range publicPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
