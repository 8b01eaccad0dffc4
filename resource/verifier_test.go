package resource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/signing"
	"github.com/giantswarm/mcp-authserver/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type issuerFixture struct {
	url    string
	signer *signing.KeySigner

	// discovery counts OpenID configuration requests, metadata counts RFC 8414
	// document requests.
	discovery atomic.Int32
	metadata  atomic.Int32

	down      atomic.Bool
	oauthOnly atomic.Bool
}

// newIssuer serves discovery and JWKS documents from a real server.Server.
func newIssuer(t *testing.T) *issuerFixture {
	t.Helper()

	f := &issuerFixture{signer: testutil.NewTestSigner(t)}
	mux := http.NewServeMux()
	ts := testutil.NewTestServer(t, mux)
	f.url = ts.URL

	store := memory.New()
	t.Cleanup(store.Stop)
	srv, err := server.New(store, store, store, f.signer, testutil.NewTestUsers(t, "u@x.com", "pw"), &server.Config{Issuer: ts.URL}, discardLogger())
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc(server.OpenIDConfigurationPath, func(w http.ResponseWriter, _ *http.Request) {
		f.discovery.Add(1)
		switch {
		case f.down.Load():
			http.Error(w, "down", http.StatusServiceUnavailable)
		case f.oauthOnly.Load():
			http.NotFound(w, nil)
		default:
			writeJSON(w, srv.AuthorizationServerMetadata())
		}
	})
	mux.HandleFunc(server.AuthorizationServerMetadataPath, func(w http.ResponseWriter, _ *http.Request) {
		f.metadata.Add(1)
		if f.down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, srv.AuthorizationServerMetadata())
	})
	mux.HandleFunc(server.JWKSPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, srv.JWKS())
	})
	return f
}

func (f *issuerFixture) token(t *testing.T, audience string, ttl time.Duration) string {
	t.Helper()
	claims := signing.NewAccessTokenClaims(f.url, "u@x.com", audience, "mcp:tools", "client-1", ttl, time.Now())
	token, err := f.signer.Sign(claims)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return token
}

func newTestVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Issuer: issuer, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	t.Cleanup(v.Close)
	return v
}

func TestNewVerifier_RequiresIssuer(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Error("NewVerifier() without issuer should fail")
	}
}

func TestVerifier_ValidToken(t *testing.T) {
	issuer := newIssuer(t)
	v := newTestVerifier(t, issuer.url+"/")

	if got := issuer.discovery.Load(); got != 0 {
		t.Fatalf("discovery ran %d times before first use", got)
	}

	claims, err := v.ValidateAccessToken(context.Background(), issuer.token(t, issuer.url, time.Hour))
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != "u@x.com" || claims.ClientID != "client-1" || claims.Scope != "mcp:tools" {
		t.Errorf("claims = %+v", claims)
	}

	// Discovery is resolved once.
	for i := 0; i < 3; i++ {
		if _, err := v.ValidateAccessToken(context.Background(), issuer.token(t, issuer.url+"/", time.Hour)); err != nil {
			t.Fatalf("ValidateAccessToken() error = %v", err)
		}
	}
	if got := issuer.discovery.Load(); got != 1 {
		t.Errorf("discovery ran %d times, want 1", got)
	}
}

func TestVerifier_RejectsTokens(t *testing.T) {
	issuer := newIssuer(t)
	v := newTestVerifier(t, issuer.url)

	other := testutil.NewTestSigner(t)
	foreign, err := other.Sign(signing.NewAccessTokenClaims(issuer.url, "u@x.com", issuer.url, "mcp:tools", "c", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong audience", issuer.token(t, "https://elsewhere.example.com", time.Hour)},
		{"expired", issuer.token(t, issuer.url, -time.Minute)},
		{"foreign key", foreign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ValidateAccessToken(context.Background(), tt.token)
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("ValidateAccessToken() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestVerifier_RFC8414Fallback(t *testing.T) {
	issuer := newIssuer(t)
	issuer.oauthOnly.Store(true)
	v := newTestVerifier(t, issuer.url)

	if _, err := v.ValidateAccessToken(context.Background(), issuer.token(t, issuer.url, time.Hour)); err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if got := issuer.metadata.Load(); got != 1 {
		t.Errorf("authorization server metadata fetched %d times, want 1", got)
	}
}

func TestVerifier_RecoversAfterDiscoveryFailure(t *testing.T) {
	issuer := newIssuer(t)
	issuer.down.Store(true)

	clock := testutil.NewMockTime(time.Now())
	v := newTestVerifier(t, issuer.url)
	v.now = clock.Now

	token := issuer.token(t, issuer.url, time.Hour)
	if _, err := v.ValidateAccessToken(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ValidateAccessToken() error = %v, want ErrUnauthorized", err)
	}

	issuer.down.Store(false)

	// Within the retry interval the failure is reported without a new fetch.
	if _, err := v.ValidateAccessToken(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("ValidateAccessToken() error = %v, want ErrUnauthorized", err)
	}
	if got := issuer.discovery.Load(); got != 1 {
		t.Fatalf("discovery attempted %d times, want 1", got)
	}

	clock.Advance(DefaultRetryInterval + time.Second)

	if _, err := v.ValidateAccessToken(context.Background(), token); err != nil {
		t.Fatalf("ValidateAccessToken() after recovery error = %v", err)
	}
	if _, err := v.ValidateAccessToken(context.Background(), token); err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if got := issuer.discovery.Load(); got != 2 {
		t.Errorf("discovery attempted %d times, want 2", got)
	}
}

func TestVerifier_ConcurrentFirstUseSharesDiscovery(t *testing.T) {
	issuer := newIssuer(t)
	v := newTestVerifier(t, issuer.url)
	token := issuer.token(t, issuer.url, time.Hour)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := v.ValidateAccessToken(context.Background(), token); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("ValidateAccessToken() error = %v", err)
	}
	if got := issuer.discovery.Load(); got != 1 {
		t.Errorf("discovery ran %d times, want 1", got)
	}
}
