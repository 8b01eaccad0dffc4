package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/signing"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/users"
)

// MockTime is a controllable clock, safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a clock stopped at t.
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time.
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// GeneratePKCEPair returns an S256 (challenge, verifier) pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// NewTestSigner returns a signer with a freshly generated key.
func NewTestSigner(t *testing.T, opts ...signing.Option) *signing.KeySigner {
	t.Helper()
	signer, err := signing.NewKeySigner(opts...)
	if err != nil {
		t.Fatalf("NewKeySigner() error = %v", err)
	}
	return signer
}

// NewTestUsers returns a user lookup holding a single user with password.
func NewTestUsers(t *testing.T, email, password string) *users.MemoryStore {
	t.Helper()
	hash, err := users.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	return users.NewMemoryStore(users.User{
		Name:         "Test User",
		Email:        email,
		Department:   "Engineering",
		PasswordHash: hash,
	})
}

// GenerateTestClient returns a client registered for redirectURIs.
func GenerateTestClient(redirectURIs ...string) *storage.Client {
	return &storage.Client{
		ClientID:      uuid.NewString(),
		ClientName:    "Test Client",
		RedirectURIs:  redirectURIs,
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		CreatedAt:     time.Now(),
	}
}

// GenerateTestAuthorizationCode returns a code for clientID issued now.
func GenerateTestAuthorizationCode(clientID string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        uuid.NewString(),
		ClientID:    clientID,
		RedirectURI: "https://app.example.com/cb",
		Scope:       "mcp:tools",
		Subject:     "u@x.com",
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// NoRedirectClient returns an HTTP client that stops at the first redirect.
func NoRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// NewTestServer starts handler and closes it when the test ends.
func NewTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

// AssertStringContains fails the test if s does not contain substr.
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("string %q does not contain %q", s, substr)
	}
}
