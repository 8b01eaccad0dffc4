package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/storage"
)

// testStore connects to VALKEY_TEST_ADDR (default localhost:6379) and skips
// the test when no server is reachable. Each test gets its own key prefix.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: fmt.Sprintf("mcptest:%s:", t.Name()),
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(s.prefix+"*").Count(100).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestNew_MissingAddress(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New() without address should return error")
	}
}

func TestStore_Keys(t *testing.T) {
	s := &Store{prefix: "p:"}

	if got := s.clientKey("c"); got != "p:client:c" {
		t.Errorf("clientKey() = %q", got)
	}
	if got := s.codeKey("x"); got != "p:code:x" {
		t.Errorf("codeKey() = %q", got)
	}
	if got := s.refreshKey("r"); got != "p:refresh:r" {
		t.Errorf("refreshKey() = %q", got)
	}
}

func TestStore_TTLUntil(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Store{now: func() time.Time { return now }}

	if got := s.ttlUntil(time.Time{}); got != 0 {
		t.Errorf("ttlUntil(zero) = %v, want 0", got)
	}
	if got := s.ttlUntil(now.Add(10 * time.Minute)); got != 11*time.Minute {
		t.Errorf("ttlUntil(+10m) = %v, want 11m", got)
	}
	if got := s.ttlUntil(now.Add(-time.Hour)); got != time.Second {
		t.Errorf("ttlUntil(past) = %v, want 1s", got)
	}
}

func TestStore_Client(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ClientID:      "client-1",
		ClientName:    "Test",
		RedirectURIs:  []string{"https://app/cb"},
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if !got.HasRedirectURI("https://app/cb") {
		t.Errorf("RedirectURIs = %v", got.RedirectURIs)
	}

	_, err = store.GetClient(ctx, "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient(missing) error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_ConsumeAuthorizationCode(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:          "code-1",
		ClientID:      "client-1",
		Scope:         "mcp:tools",
		CodeChallenge: "challenge",
		Subject:       "u@x.com",
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.ConsumeAuthorizationCode(ctx, "code-1")
			if err == nil && got.Subject == "u@x.com" {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("successful consumes = %d, want 1", got)
	}

	_, err := store.ConsumeAuthorizationCode(ctx, "code-1")
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("ConsumeAuthorizationCode() after use error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_ConsumeRefreshToken(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rt := &storage.RefreshToken{Token: "rt-1", ClientID: "client-1", Subject: "u@x.com", Scope: "mcp:tools", CreatedAt: time.Now()}
	if err := store.SaveRefreshToken(ctx, rt); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	got, err := store.ConsumeRefreshToken(ctx, "rt-1")
	if err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	if got.Subject != "u@x.com" {
		t.Errorf("Subject = %q, want %q", got.Subject, "u@x.com")
	}

	_, err = store.ConsumeRefreshToken(ctx, "rt-1")
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second ConsumeRefreshToken() error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_ConsumeRefreshToken_Expired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rt := &storage.RefreshToken{
		Token:     "rt-old",
		ClientID:  "client-1",
		CreatedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-10 * time.Second),
	}
	if err := store.SaveRefreshToken(ctx, rt); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	_, err := store.ConsumeRefreshToken(ctx, "rt-old")
	if !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("ConsumeRefreshToken() error = %v, want ErrTokenExpired", err)
	}
}
