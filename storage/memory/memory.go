package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

// tokenIDLogLength is how much of a code or token may appear in debug logs.
const tokenIDLogLength = 8

// Store is an in-memory storage.Store.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	refreshTokens map[string]*storage.RefreshToken

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// read by metric callbacks without taking mu
	clientsCount       atomic.Int64
	codesCount         atomic.Int64
	refreshTokensCount atomic.Int64

	now             func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

var (
	_ storage.ClientStore       = (*Store)(nil)
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.RefreshTokenStore = (*Store)(nil)
	_ storage.Store             = (*Store)(nil)
)

// New creates a store that sweeps expired entries every minute.
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a store with a custom sweep interval.
// Non-positive intervals fall back to one minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation enables storage spans, operation metrics and size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.clientsCount.Store(int64(len(s.clients)))
	s.codesCount.Store(int64(len(s.codes)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	logger := s.logger
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		s.clientsCount.Load,
		s.codesCount.Load,
		s.refreshTokensCount.Load,
	)
	if err != nil {
		logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// Stop ends the background sweep. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// SaveClient stores a copy of client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client must have a client_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.clients[client.ClientID]; !existed {
		s.clientsCount.Add(1)
	}
	s.clients[client.ClientID] = cloneClient(client)
	s.logger.Debug("Saved client", "client_id", client.ClientID)

	return nil
}

// GetClient returns a copy of the client or storage.ErrClientNotFound.
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return cloneClient(stored), nil
}

// SaveAuthorizationCode stores a copy of code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_code", err, startTime) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.codes[code.Code]; !existed {
		s.codesCount.Add(1)
	}
	stored := *code
	s.codes[code.Code] = &stored
	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength),
		"client_id", code.ClientID)

	return nil
}

// ConsumeAuthorizationCode removes and returns a code in one step.
// Expiry is judged by the caller from CreatedAt.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (authCode *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "consume_code", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrCodeNotFound
	}
	delete(s.codes, code)
	s.codesCount.Add(-1)

	return stored, nil
}

// SaveRefreshToken stores a copy of token.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime) }()

	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.refreshTokens[token.Token]; !existed {
		s.refreshTokensCount.Add(1)
	}
	stored := *token
	s.refreshTokens[token.Token] = &stored

	return nil
}

// ConsumeRefreshToken removes and returns a refresh token in one step.
// An expired entry is removed as well and reported as storage.ErrTokenExpired.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (rt *storage.RefreshToken, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.refreshTokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	delete(s.refreshTokens, token)
	s.refreshTokensCount.Add(-1)

	if stored.Expired(s.now()) {
		s.logger.Debug("Refresh token expired",
			"token_prefix", util.SafeTruncate(token, tokenIDLogLength),
			"client_id", stored.ClientID)
		return nil, storage.ErrTokenExpired
	}

	return stored, nil
}

// Stats returns the current number of clients, codes and refresh tokens.
func (s *Store) Stats() (clients, codes, refreshTokens int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients), len(s.codes), len(s.refreshTokens)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0

	for key, code := range s.codes {
		if !code.ExpiresAt.IsZero() && now.After(code.ExpiresAt) {
			delete(s.codes, key)
			s.codesCount.Add(-1)
			cleaned++
		}
	}

	for key, token := range s.refreshTokens {
		if token.Expired(now) {
			delete(s.refreshTokens, key)
			s.refreshTokensCount.Add(-1)
			cleaned++
		}
	}

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.ResponseTypes = slices.Clone(c.ResponseTypes)
	return &out
}

func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, "memory"),
		))
}

func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
