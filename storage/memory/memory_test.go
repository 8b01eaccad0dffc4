package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/storage"
)

func testClient() *storage.Client {
	return &storage.Client{
		ClientID:      "client-1",
		ClientName:    "Test Client",
		RedirectURIs:  []string{"https://app/cb"},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		CreatedAt:     time.Now(),
	}
}

func TestStore_SaveAndGetClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	if err := store.SaveClient(ctx, testClient()); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientName != "Test Client" {
		t.Errorf("ClientName = %q, want %q", got.ClientName, "Test Client")
	}
	if !got.HasRedirectURI("https://app/cb") {
		t.Errorf("HasRedirectURI(https://app/cb) = false")
	}
}

func TestStore_GetClient_ReturnsCopy(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.SaveClient(ctx, testClient())

	got, _ := store.GetClient(ctx, "client-1")
	got.RedirectURIs[0] = "https://evil/cb"

	again, _ := store.GetClient(ctx, "client-1")
	if again.RedirectURIs[0] != "https://app/cb" {
		t.Errorf("stored redirect URI mutated to %q", again.RedirectURIs[0])
	}
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_SaveClient_Invalid(t *testing.T) {
	store := New()
	defer store.Stop()

	if err := store.SaveClient(context.Background(), nil); err == nil {
		t.Error("SaveClient(nil) should return error")
	}
	if err := store.SaveClient(context.Background(), &storage.Client{}); err == nil {
		t.Error("SaveClient() without client_id should return error")
	}
}

func TestStore_ConsumeAuthorizationCode_SingleUse(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "client-1",
		Scope:     "mcp:tools",
		Subject:   "u@x.com",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	got, err := store.ConsumeAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if got.Subject != "u@x.com" {
		t.Errorf("Subject = %q, want %q", got.Subject, "u@x.com")
	}

	_, err = store.ConsumeAuthorizationCode(ctx, "code-1")
	if !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("second ConsumeAuthorizationCode() error = %v, want ErrCodeNotFound", err)
	}
}

func TestStore_ConsumeAuthorizationCode_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	_ = store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:      "race",
		ClientID:  "client-1",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthorizationCode(ctx, "race"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("successful consumes = %d, want 1", got)
	}
}

func TestStore_ConsumeRefreshToken(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	rt := &storage.RefreshToken{Token: "rt-1", ClientID: "client-1", Subject: "u@x.com", Scope: "mcp:tools", CreatedAt: time.Now()}
	if err := store.SaveRefreshToken(ctx, rt); err != nil {
		t.Fatalf("SaveRefreshToken() error = %v", err)
	}

	got, err := store.ConsumeRefreshToken(ctx, "rt-1")
	if err != nil {
		t.Fatalf("ConsumeRefreshToken() error = %v", err)
	}
	if got.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want %q", got.ClientID, "client-1")
	}

	_, err = store.ConsumeRefreshToken(ctx, "rt-1")
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("second ConsumeRefreshToken() error = %v, want ErrTokenNotFound", err)
	}
}

func TestStore_ConsumeRefreshToken_Expired(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	_ = store.SaveRefreshToken(ctx, &storage.RefreshToken{
		Token:     "rt-old",
		ClientID:  "client-1",
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	})

	_, err := store.ConsumeRefreshToken(ctx, "rt-old")
	if !errors.Is(err, storage.ErrTokenExpired) {
		t.Fatalf("ConsumeRefreshToken() error = %v, want ErrTokenExpired", err)
	}

	_, err = store.ConsumeRefreshToken(ctx, "rt-old")
	if !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expired token should be removed, got error = %v", err)
	}
}

func TestStore_Cleanup(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }

	_ = store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "stale", ExpiresAt: now.Add(-time.Second)})
	_ = store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "fresh", ExpiresAt: now.Add(time.Minute)})
	_ = store.SaveRefreshToken(ctx, &storage.RefreshToken{Token: "stale", ExpiresAt: now.Add(-time.Second)})
	_ = store.SaveRefreshToken(ctx, &storage.RefreshToken{Token: "forever"})

	store.cleanup()

	_, codes, tokens := store.Stats()
	if codes != 1 {
		t.Errorf("codes after cleanup = %d, want 1", codes)
	}
	if tokens != 1 {
		t.Errorf("refresh tokens after cleanup = %d, want 1", tokens)
	}
	if got := store.codesCount.Load(); got != 1 {
		t.Errorf("codesCount = %d, want 1", got)
	}
}

func TestStore_CleanupLoop(t *testing.T) {
	store := NewWithInterval(10 * time.Millisecond)
	defer store.Stop()
	ctx := context.Background()

	_ = store.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "stale", ExpiresAt: time.Now().Add(-time.Second)})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, codes, _ := store.Stats(); codes == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("cleanup loop did not remove the expired code")
}

func TestStore_Stop_Idempotent(t *testing.T) {
	store := New()
	store.Stop()
	store.Stop()
}

func TestStore_WithInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := New()
	defer store.Stop()
	store.SetInstrumentation(inst)

	ctx := context.Background()
	if err := store.SaveClient(ctx, testClient()); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if _, err := store.GetClient(ctx, "missing"); err == nil {
		t.Error("GetClient(missing) should fail")
	}
	if got := store.clientsCount.Load(); got != 1 {
		t.Errorf("clientsCount = %d, want 1", got)
	}
}
