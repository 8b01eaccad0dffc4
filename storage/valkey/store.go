package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "mcp:"

	// tokenIDLogLength is how much of a code or token may appear in debug logs
	tokenIDLogLength = 8

	// connectionVerifyTimeout bounds the PING issued by New
	connectionVerifyTimeout = 5 * time.Second

	// expiryGrace keeps keys alive past their logical expiry
	expiryGrace = time.Minute
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "mcp:")
	KeyPrefix string

	// TLS enables encrypted connections when set
	TLS *tls.Config

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// Store is a Valkey-backed storage.Store.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.Store             = (*Store)(nil)
)

// New connects to Valkey and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Ping checks that the server is reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

func (s *Store) refreshKey(token string) string {
	return s.prefix + "refresh:" + token
}

// ttlUntil returns the key lifetime for an entry expiring at expiresAt,
// including the grace period. Zero means no TTL.
func (s *Store) ttlUntil(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := expiresAt.Sub(s.now()) + expiryGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
