package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/session"
	"github.com/giantswarm/mcp-authserver/users"
)

const (
	maxRegistrationBodyBytes = 64 << 10

	loginPath = "/login"
)

// Handler is a thin HTTP adapter for the authorization server.
type Handler struct {
	server   *Server
	sessions *session.Manager
	config   *Config
	logger   *slog.Logger
	tracer   trace.Tracer
	limiter  *security.RateLimiter
}

// NewHandler creates the HTTP handler. A nil config uses defaults.
func NewHandler(srv *Server, sessions *session.Manager, config *Config) *Handler {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	config.logSecurityWarnings()

	h := &Handler{
		server:   srv,
		sessions: sessions,
		config:   config,
		logger:   config.Logger,
		tracer:   tracenoop.NewTracerProvider().Tracer(""),
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	if config.RateLimit.Rate > 0 {
		h.limiter = security.NewRateLimiterWithConfig(config.RateLimit.Rate, config.RateLimit.Burst, config.RateLimit.MaxEntries, h.logger)
	}
	return h
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// RegisterRoutes mounts every authorization server endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(server.RegistrationPath, h.rateLimited(http.HandlerFunc(h.ServeClientRegistration)))
	mux.HandleFunc(server.AuthorizationPath, h.ServeAuthorization)
	mux.Handle(loginPath, h.rateLimited(http.HandlerFunc(h.ServeLogin)))
	mux.HandleFunc(server.CallbackPath, h.ServeCallback)
	mux.Handle(server.TokenPath, h.rateLimited(http.HandlerFunc(h.ServeToken)))
	mux.HandleFunc(server.JWKSPath, h.ServeJWKS)

	mux.HandleFunc(server.ProtectedResourceMetadataPath, h.ServeProtectedResourceMetadata)
	mux.HandleFunc(server.ProtectedResourceMetadataPath+"/mcp", h.ServeProtectedResourceMetadata)
	mux.HandleFunc(server.AuthorizationServerMetadataPath, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(server.AuthorizationServerMetadataPath+"/mcp", h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(server.OpenIDConfigurationPath, h.ServeAuthorizationServerMetadata)
}

func (h *Handler) rateLimited(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return h.limiter.Middleware(next, security.MiddlewareConfig{
		TrustProxy:        h.server.Config.TrustProxy,
		TrustedProxyCount: h.server.Config.TrustedProxyCount,
		Auditor:           h.server.Auditor,
		Instrumentation:   h.server.Instrumentation,
	})
}

// ServeClientRegistration handles RFC 7591 dynamic client registration.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "register", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		h.setCORSHeaders(w, r)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			h.methodNotAllowed(w, http.MethodPost)
			return
		}

		var req ClientRegistrationRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBodyBytes))
		if err := dec.Decode(&req); err != nil {
			h.writeError(w, ErrorCodeInvalidRequest, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		req.ClientIP = h.clientIP(r)

		client, err := h.server.RegisterClient(ctx, req)
		if err != nil {
			h.writeServerError(w, err)
			return
		}

		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		security.SetNoStore(w)
		h.writeJSON(w, http.StatusCreated, server.NewRegistrationResponse(client))
	})
}

// ServeAuthorization handles the authorization endpoint.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "authorize", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			h.methodNotAllowed(w, http.MethodGet)
			return
		}

		req := server.ParseAuthorizationRequest(r.URL.Query())
		client, err := h.server.ValidateAuthorizationRequest(ctx, req)
		if err != nil {
			oauthErr, ok := server.AsError(err)
			if !ok {
				h.logger.Error("Authorization request failed", "error", err)
				h.renderError(w, r, ErrServerError("The server could not complete the request"))
				return
			}
			if oauthErr.Code == ErrorCodeUnsupportedResponseType {
				var target string
				if h.server.RedirectTrusted(ctx, req.ClientID, req.RedirectURI) {
					target = req.ErrorRedirect(oauthErr)
				}
				if target == "" {
					target = loginPath + "?error=" + ErrorCodeUnsupportedResponseType
				}
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
			h.renderError(w, r, oauthErr)
			return
		}

		sess, ok := h.loadSession(w, r)
		if !ok {
			return
		}

		if sess.Authenticated() {
			sess.Pending = nil
			h.issueCodeAndRedirect(ctx, w, r, sess, req)
			return
		}

		sess.Pending = req
		if err := h.sessions.Save(ctx, w, sess); err != nil {
			h.logger.Error("Failed to save session", "error", err)
			h.renderError(w, r, ErrServerError("The server could not complete the request"))
			return
		}
		h.renderLogin(w, r, loginPage{ClientName: client.ClientName, Scope: req.Scope}, http.StatusOK)
	})
}

// ServeLogin renders the login form on GET and checks credentials on POST.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "login", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.serveLoginForm(ctx, w, r)
		case http.MethodPost:
			h.handleLogin(ctx, w, r)
		default:
			h.methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	})
}

func (h *Handler) serveLoginForm(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	page := loginPage{}
	if code := r.URL.Query().Get("error"); code != "" {
		page.Error = loginErrorMessages[code]
		if page.Error == "" {
			page.Error = "Sign in failed. Please try again."
		}
	}

	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	h.fillPendingClient(ctx, sess, &page)

	status := http.StatusOK
	if page.Error != "" && wantsJSON(r) {
		status = http.StatusBadRequest
	}
	h.renderLogin(w, r, page, status)
}

func (h *Handler) handleLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, r, loginPage{Error: "Invalid form submission"}, http.StatusBadRequest)
		return
	}
	email := r.PostForm.Get("username")
	password := r.PostForm.Get("password")

	sess, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	user, err := h.server.Authenticate(ctx, email, password, h.clientIP(r))
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			page := loginPage{Error: loginErrorMessages["invalid_credentials"], Email: email}
			h.fillPendingClient(ctx, sess, &page)
			h.renderLogin(w, r, page, http.StatusUnauthorized)
			return
		}
		h.renderError(w, r, ErrServerError("The server could not complete the request"))
		return
	}

	h.sessions.Renew(ctx, sess)
	sess.Subject = user.Email
	if err := h.sessions.Save(ctx, w, sess); err != nil {
		h.logger.Error("Failed to save session", "error", err)
		h.renderError(w, r, ErrServerError("The server could not complete the request"))
		return
	}

	h.logger.Info("User signed in", "ip", h.clientIP(r))
	http.Redirect(w, r, server.CallbackPath, http.StatusFound)
}

// ServeCallback resumes the pending authorization request after login.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "callback", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			h.methodNotAllowed(w, http.MethodGet)
			return
		}

		sess, ok := h.loadSession(w, r)
		if !ok {
			return
		}
		if !sess.Authenticated() {
			http.Redirect(w, r, loginPath, http.StatusFound)
			return
		}
		if sess.Pending == nil {
			http.Redirect(w, r, loginPath+"?error=no_oauth_session", http.StatusFound)
			return
		}

		req := sess.Pending
		sess.Pending = nil
		h.issueCodeAndRedirect(ctx, w, r, sess, req)
	})
}

func (h *Handler) issueCodeAndRedirect(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session, req *AuthorizationRequest) {
	target, err := h.server.IssueCode(ctx, req, sess.Subject)
	if err != nil {
		h.logger.Error("Failed to issue authorization code", "client_id", req.ClientID, "error", err)
		h.renderError(w, r, ErrServerError("The server could not complete the request"))
		return
	}
	if err := h.sessions.Save(ctx, w, sess); err != nil {
		h.logger.Warn("Failed to save session", "error", err)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// ServeToken handles the token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "token", func(ctx context.Context, w http.ResponseWriter, r *http.Request) {
		h.setCORSHeaders(w, r)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodPost:
		default:
			h.methodNotAllowed(w, http.MethodPost)
			return
		}

		security.SetNoStore(w)
		if err := r.ParseForm(); err != nil {
			h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
			return
		}

		resp, err := h.server.Token(ctx, &server.TokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			ClientID:     r.PostForm.Get("client_id"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientIP:     h.clientIP(r),
		})
		if err != nil {
			h.writeServerError(w, err)
			return
		}

		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		h.writeJSON(w, http.StatusOK, resp)
	})
}

// ServeJWKS publishes the token signing key.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "jwks", func(_ context.Context, w http.ResponseWriter, r *http.Request) {
		if !h.metadataPreamble(w, r) {
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		h.writeJSON(w, http.StatusOK, h.server.JWKS())
	})
}

// ServeAuthorizationServerMetadata serves the RFC 8414 discovery document.
// It also answers the OpenID configuration path used by OIDC discovery clients.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "authorization_server_metadata", func(_ context.Context, w http.ResponseWriter, r *http.Request) {
		if !h.metadataPreamble(w, r) {
			return
		}
		h.writeJSON(w, http.StatusOK, h.server.AuthorizationServerMetadata())
	})
}

// ServeProtectedResourceMetadata serves the RFC 9728 document.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	h.instrument(w, r, "protected_resource_metadata", func(_ context.Context, w http.ResponseWriter, r *http.Request) {
		if !h.metadataPreamble(w, r) {
			return
		}
		h.writeJSON(w, http.StatusOK, h.server.ProtectedResourceMetadata())
	})
}

// metadataPreamble handles CORS and methods for the public documents.
// It returns false when the response is already written.
func (h *Handler) metadataPreamble(w http.ResponseWriter, r *http.Request) bool {
	h.setCORSHeaders(w, r)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return false
	case http.MethodGet, http.MethodHead:
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		return true
	default:
		h.methodNotAllowed(w, http.MethodGet)
		return false
	}
}

func (h *Handler) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.sessions.Load(r)
	if err != nil {
		h.logger.Error("Failed to load session", "error", err)
		h.renderError(w, r, ErrServerError("The server could not complete the request"))
		return nil, false
	}
	return sess, true
}

func (h *Handler) fillPendingClient(ctx context.Context, sess *session.Session, page *loginPage) {
	if sess.Pending == nil {
		return
	}
	page.Scope = sess.Pending.Scope
	if client, err := h.server.GetClient(ctx, sess.Pending.ClientID); err == nil {
		page.ClientName = client.ClientName
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// setCORSHeaders sets CORS headers when the request carries an allowed Origin.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := ""
	for _, o := range h.config.CORS.AllowedOrigins {
		if o == "*" {
			allowed = "*"
			break
		}
		if o == origin {
			allowed = origin
			break
		}
	}
	if allowed == "" {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowed)
	if allowed != "*" {
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, WWW-Authenticate")
	w.Header().Set("Access-Control-Max-Age", strconv.Itoa(h.config.CORS.MaxAge))
}

// CORS wraps next with the handler's CORS policy, answering preflight
// requests itself. Used for the protected MCP endpoint.
func (h *Handler) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	h.writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// writeServerError renders an *OAuthError as is and anything else as a
// generic server_error.
func (h *Handler) writeServerError(w http.ResponseWriter, err error) {
	if oauthErr, ok := server.AsError(err); ok {
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}
	h.logger.Error("Request failed", "error", err)
	h.writeError(w, ErrorCodeServerError, "The server could not complete the request", http.StatusInternalServerError)
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	h.writeError(w, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request)

// instrument runs fn inside an HTTP span and records request metrics.
func (h *Handler) instrument(w http.ResponseWriter, r *http.Request, endpoint string, fn handlerFunc) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http."+endpoint)
	defer span.End()

	rec := &statusRecorder{ResponseWriter: w}
	fn(ctx, rec, r.WithContext(ctx))

	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
	if status >= http.StatusInternalServerError {
		instrumentation.SetSpanError(span, http.StatusText(status))
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	h.recordHTTPMetrics(ctx, endpoint, r.Method, status, startTime)
}

// recordHTTPMetrics records request count and duration.
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
