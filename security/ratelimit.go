package security

import (
	"container/list"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/giantswarm/mcp-authserver/instrumentation"
)

const (
	// DefaultMaxEntries bounds the number of tracked identifiers.
	DefaultMaxEntries = 10000

	defaultCleanupInterval = 5 * time.Minute
	defaultMaxIdle         = 30 * time.Minute
)

type bucket struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-identifier token bucket limiter with LRU eviction.
type RateLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*list.Element
	lru        *list.List // front is most recently used
	rate       rate.Limit
	burst      int
	maxEntries int
	evictions  int64

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with the given
// burst per identifier and tracking at most DefaultMaxEntries identifiers.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, DefaultMaxEntries, logger)
}

// NewRateLimiterWithConfig is NewRateLimiter with a custom entry bound.
// maxEntries of 0 means unbounded; negative values use the default.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Invalid rate limiter maxEntries, using default", "maxEntries", maxEntries)
		maxEntries = DefaultMaxEntries
	}

	rl := &RateLimiter{
		buckets:     make(map[string]*list.Element),
		lru:         list.New(),
		rate:        rate.Limit(requestsPerSecond),
		burst:       burst,
		maxEntries:  maxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop(defaultCleanupInterval)

	return rl
}

// Allow reports whether a request for key may proceed and consumes a token.
func (rl *RateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[key]; ok {
		rl.lru.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastAccess = now
		return b.limiter.AllowN(now, 1)
	}

	if rl.maxEntries > 0 && len(rl.buckets) >= rl.maxEntries {
		rl.evictOldest()
	}

	b := &bucket{
		key:        key,
		limiter:    rate.NewLimiter(rl.rate, rl.burst),
		lastAccess: now,
	}
	rl.buckets[key] = rl.lru.PushFront(b)

	return b.limiter.AllowN(now, 1)
}

// must hold rl.mu
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*bucket)
	delete(rl.buckets, b.key)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.buckets))
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(defaultMaxIdle)
		case <-rl.stopCleanup:
			return
		}
	}
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0

	// idle buckets collect at the back
	for elem := rl.lru.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if !b.lastAccess.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.buckets, b.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.buckets))
	}
}

// Stop ends the background cleanup. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
}

// GetStats returns current limiter statistics.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		CurrentEntries: len(rl.buckets),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.evictions,
	}
}

// MiddlewareConfig controls how Middleware identifies callers and reports
// rejections. All fields are optional.
type MiddlewareConfig struct {
	// LimiterType labels metrics and audit events (default "ip")
	LimiterType string

	TrustProxy        bool
	TrustedProxyCount int

	Auditor         *Auditor
	Instrumentation *instrumentation.Instrumentation
}

// Middleware rejects requests over the per-IP limit with 429 and an OAuth
// style JSON body.
func (rl *RateLimiter) Middleware(next http.Handler, cfg MiddlewareConfig) http.Handler {
	limiterType := cfg.LimiterType
	if limiterType == "" {
		limiterType = "ip"
	}
	retryAfter := "1"
	if rl.rate > 0 && rl.rate < 1 {
		retryAfter = strconv.Itoa(int(1/float64(rl.rate)) + 1)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetClientIP(r, cfg.TrustProxy, cfg.TrustedProxyCount)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		rl.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
		cfg.Auditor.LogRateLimitExceeded(r.Context(), ip, limiterType)
		if cfg.Instrumentation != nil {
			cfg.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), limiterType)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "rate_limit_exceeded",
			"error_description": "Too many requests",
		})
	})
}
