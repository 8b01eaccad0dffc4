package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/signing"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/users"
)

// TokenSigner signs and verifies access tokens. *signing.KeySigner
// implements it.
type TokenSigner interface {
	Sign(claims *signing.Claims) (string, error)
	Verify(token string) (*signing.Claims, error)
	PublicJWKS() jose.JSONWebKeySet
}

// Server implements the authorization server operations.
type Server struct {
	clients       storage.ClientStore
	codes         storage.CodeStore
	refreshTokens storage.RefreshTokenStore
	signer        TokenSigner
	users         users.Lookup

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics

	Logger *slog.Logger
	Config *Config

	now func() time.Time
}

// New creates a server over the given stores. A single storage.Store may be
// passed for all three.
func New(
	clients storage.ClientStore,
	codes storage.CodeStore,
	refreshTokens storage.RefreshTokenStore,
	signer TokenSigner,
	userLookup users.Lookup,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if refreshTokens == nil {
		return nil, fmt.Errorf("refresh token store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if userLookup == nil {
		return nil, fmt.Errorf("user lookup is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config, err := applySecureDefaults(config, logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		clients:       clients,
		codes:         codes,
		refreshTokens: refreshTokens,
		signer:        signer,
		users:         userLookup,
		tracer:        noop.NewTracerProvider().Tracer(""),
		Logger:        logger,
		Config:        config,
		now:           time.Now,
	}, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables spans and metrics for server operations.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst == nil {
		s.tracer = noop.NewTracerProvider().Tracer("")
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// SetClock replaces the time source used for code age and token issuance.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the server's current time.
func (s *Server) Now() time.Time {
	return s.now()
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "oauth.server."+name)
}
