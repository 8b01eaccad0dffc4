package security

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultMaxEntries)
	}
}

func TestNewRateLimiterWithConfig_NegativeMaxEntries(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, -5, slog.Default())
	defer rl.Stop()

	if rl.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultMaxEntries)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("a") {
		t.Error("request over burst should be rejected")
	}
	if !rl.Allow("b") {
		t.Error("other identifiers have their own bucket")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 2, slog.Default())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a is now most recent
	rl.Allow("c") // evicts b

	stats := rl.GetStats()
	if stats.CurrentEntries != 2 {
		t.Errorf("CurrentEntries = %d, want 2", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 1 {
		t.Errorf("TotalEvictions = %d, want 1", stats.TotalEvictions)
	}
	if _, ok := rl.buckets["b"]; ok {
		t.Error("least recently used bucket b should have been evicted")
	}
	if _, ok := rl.buckets["a"]; !ok {
		t.Error("bucket a should have been kept")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, slog.Default())
	defer rl.Stop()

	rl.Allow("old")
	rl.mu.Lock()
	rl.buckets["old"].Value.(*bucket).lastAccess = time.Now().Add(-time.Hour)
	rl.lru.MoveToBack(rl.buckets["old"])
	rl.mu.Unlock()
	rl.Allow("new")

	rl.Cleanup(30 * time.Minute)

	if got := rl.GetStats().CurrentEntries; got != 1 {
		t.Errorf("CurrentEntries = %d, want 1", got)
	}
}

func TestRateLimiter_Stop_Idempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1, slog.Default())
	defer rl.Stop()

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), MiddlewareConfig{})

	send := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/oauth2/token", nil)
		r.RemoteAddr = "192.0.2.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["error"] != "rate_limit_exceeded" {
		t.Errorf("error = %q, want rate_limit_exceeded", body["error"])
	}
}
