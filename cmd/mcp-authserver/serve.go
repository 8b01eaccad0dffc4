package main

import (
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/resource"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/session"
	"github.com/giantswarm/mcp-authserver/signing"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/memory"
	"github.com/giantswarm/mcp-authserver/storage/valkey"
	"github.com/giantswarm/mcp-authserver/users"
)

const (
	mcpPath         = "/mcp"
	shutdownTimeout = 30 * time.Second
)

func newServeCommand() *cobra.Command {
	var addr, logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server and the protected MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address (overrides MCP_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (overrides LOG_LEVEL)")
	return cmd
}

// closers collects shutdown hooks run in reverse order.
type closers []func()

func (c *closers) add(f func()) { *c = append(*c, f) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func runServe(ctx context.Context, cfg *appConfig, logger *slog.Logger) error {
	var cleanup closers
	defer cleanup.run()

	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:         cfg.OTelEnabled,
		ServiceVersion:  version,
		MetricsExporter: metricsExporter(cfg.OTelEnabled),
	})
	if err != nil {
		return fmt.Errorf("failed to set up instrumentation: %w", err)
	}
	cleanup.add(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(sctx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	})

	auditor := security.NewAuditor(logger, true)
	auditor.SetInstrumentation(inst)

	store, err := openStore(cfg, logger, inst, &cleanup)
	if err != nil {
		return err
	}

	lookup, err := openUsers(ctx, cfg, logger, &cleanup)
	if err != nil {
		return err
	}

	signer, err := newSigner(cfg.SigningKeyFile)
	if err != nil {
		return err
	}

	allowAny := cfg.AllowAnyRedirect
	srv, err := oauth.NewServer(store, signer, lookup, &oauth.ServerConfig{
		Issuer:                              cfg.Issuer,
		AccessTokenTTL:                      cfg.AccessTokenTTL,
		RefreshTokenTTL:                     cfg.RefreshTokenTTL,
		CodeTTL:                             cfg.CodeTTL,
		ResourceName:                        cfg.ResourceName,
		AllowAnyRedirectURIWhenUnregistered: &allowAny,
		AllowInsecureHTTP:                   cfg.AllowInsecureHTTP,
		TrustProxy:                          cfg.TrustProxy,
		TrustedProxyCount:                   cfg.TrustedProxyCount,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}
	srv.SetAuditor(auditor)
	srv.SetInstrumentation(inst)

	sessionStore, err := openSessionStore(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}
	sessions := session.NewManager(sessionStore, session.Config{
		TTL:    session.DefaultTTL,
		Secure: isHTTPS(srv.Config.Issuer),
		Logger: logger,
	})

	handler := oauth.NewHandler(srv, sessions, &oauth.Config{
		CORS:      oauth.CORSConfig{AllowedOrigins: cfg.corsOrigins()},
		RateLimit: oauth.RateLimitConfig{Rate: cfg.RateLimit},
		Logger:    logger,
	})
	cleanup.add(handler.Close)

	verifier, err := newVerifier(cfg, srv, logger, &cleanup)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", healthHandler(store, logger))
	if cfg.OTelEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	gate := oauth.BearerGate(verifier, oauth.GateConfig{
		ResourceMetadataURL: srv.ProtectedResourceMetadataURL(),
		TrustProxy:          cfg.TrustProxy,
		TrustedProxyCount:   cfg.TrustedProxyCount,
		Logger:              logger,
		Auditor:             auditor,
		Instrumentation:     inst,
	})
	mcpHandler := mcpserver.NewStreamableHTTPServer(newMCPServer(lookup))
	mux.Handle(mcpPath, handler.CORS(gate(mcpHandler)))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting",
			"addr", cfg.Addr,
			"issuer", srv.Config.Issuer,
			"store", cfg.Store,
			"session_store", cfg.SessionStore,
			"users", cfg.Users,
			"verifier", cfg.Verifier)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(sctx)
	})

	return g.Wait()
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler reports 503 while a networked store is unreachable.
func healthHandler(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := store.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				logger.Warn("Health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"status":"unavailable"}`)
				return
			}
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}
}

func metricsExporter(enabled bool) string {
	if enabled {
		return instrumentation.ExporterPrometheus
	}
	return instrumentation.ExporterNone
}

func openStore(cfg *appConfig, logger *slog.Logger, inst *instrumentation.Instrumentation, cleanup *closers) (storage.Store, error) {
	switch cfg.Store {
	case backendValkey:
		store, err := valkey.New(valkey.Config{
			Address:  cfg.ValkeyAddr,
			Password: cfg.ValkeyPassword,
			DB:       cfg.ValkeyDB,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		cleanup.add(store.Close)
		return store, nil
	default:
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		cleanup.add(store.Stop)
		return store, nil
	}
}

func openUsers(ctx context.Context, cfg *appConfig, logger *slog.Logger, cleanup *closers) (users.Lookup, error) {
	switch cfg.Users {
	case usersFile:
		fs, err := users.NewFileStore(cfg.UsersFile, logger)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = fs.Close() })
		return fs, nil
	case usersMySQL:
		db, err := users.OpenSQLStore(ctx, users.SQLConfig{
			Addr:     cfg.MySQLAddr,
			User:     cfg.MySQLUser,
			Password: cfg.MySQLPassword,
			DBName:   cfg.MySQLDatabase,
			Table:    cfg.MySQLTable,
		})
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = db.Close() })
		return db, nil
	default:
		seed, err := users.SeedUsers()
		if err != nil {
			return nil, err
		}
		logger.Warn("⚠️  Using built-in demo users",
			"risk", "Well-known passwords",
			"recommendation", "Set MCP_USERS=file or MCP_USERS=mysql")
		return users.NewMemoryStore(seed...), nil
	}
}

func openSessionStore(ctx context.Context, cfg *appConfig, cleanup *closers) (session.Store, error) {
	if cfg.SessionStore != backendRedis {
		store := session.NewMemoryStore(time.Minute)
		cleanup.add(store.Stop)
		return store, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	cleanup.add(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return session.NewRedisStore(session.RedisConfig{Client: client})
}

// newSigner loads an RSA key from a PEM file, or generates one. A generated
// key invalidates every token on restart.
func newSigner(keyFile string) (*signing.KeySigner, error) {
	if keyFile == "" {
		return signing.NewKeySigner()
	}
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	kid, err := keyID(key)
	if err != nil {
		return nil, err
	}
	return signing.NewKeySigner(signing.WithKey(key, kid))
}

// keyID derives a stable kid from the RFC 7638 thumbprint of the public key.
func keyID(key *rsa.PrivateKey) (string, error) {
	jwk := jose.JSONWebKey{Key: &key.PublicKey}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

func newVerifier(cfg *appConfig, srv *oauth.Server, logger *slog.Logger, cleanup *closers) (oauth.TokenVerifier, error) {
	if cfg.Verifier != verifierRemote {
		return srv, nil
	}
	v, err := resource.NewVerifier(resource.Config{
		Issuer:   srv.Config.Issuer,
		Audience: srv.Config.Issuer,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	cleanup.add(v.Close)
	return v, nil
}

func isHTTPS(issuer string) bool {
	return strings.HasPrefix(issuer, "https://")
}
