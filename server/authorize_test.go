package server

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/mcp-authserver/storage"
)

func registerTestClient(t *testing.T, srv *Server, redirectURIs ...string) *storage.Client {
	t.Helper()
	client, err := srv.RegisterClient(context.Background(), RegistrationRequest{
		ClientName:   "C",
		RedirectURIs: redirectURIs,
	})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}
	return client
}

func TestParseAuthorizationRequest(t *testing.T) {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {"c1"},
		"redirect_uri":          {testRedirect},
		"scope":                 {"mcp:tools"},
		"state":                 {"xyz"},
		"code_challenge":        {"abc"},
		"code_challenge_method": {"S256"},
	}
	req := ParseAuthorizationRequest(q)

	if req.ResponseType != "code" || req.ClientID != "c1" || req.RedirectURI != testRedirect ||
		req.Scope != "mcp:tools" || req.State != "xyz" || req.CodeChallenge != "abc" || req.CodeChallengeMethod != "S256" {
		t.Errorf("ParseAuthorizationRequest() = %+v", req)
	}
}

func TestServer_ValidateAuthorizationRequest(t *testing.T) {
	ctx := context.Background()
	srv, _ := setupTestServer(t)
	client := registerTestClient(t, srv, testRedirect)
	open := registerTestClient(t, srv)

	tests := []struct {
		name     string
		req      AuthorizationRequest
		wantCode string
		wantDesc string
	}{
		{
			name:     "unsupported response type",
			req:      AuthorizationRequest{ResponseType: "token", ClientID: client.ClientID},
			wantCode: ErrorCodeUnsupportedResponseType,
			wantDesc: "Only 'code' response type is supported",
		},
		{
			name:     "unknown client",
			req:      AuthorizationRequest{ResponseType: "code", ClientID: "nope"},
			wantCode: ErrorCodeInvalidClient,
			wantDesc: "Unknown client: nope",
		},
		{
			name:     "unregistered redirect",
			req:      AuthorizationRequest{ResponseType: "code", ClientID: client.ClientID, RedirectURI: "https://evil/cb"},
			wantCode: ErrorCodeInvalidRequest,
			wantDesc: "Invalid redirect_uri",
		},
		{
			name: "registered redirect",
			req:  AuthorizationRequest{ResponseType: "code", ClientID: client.ClientID, RedirectURI: testRedirect},
		},
		{
			name: "no redirect",
			req:  AuthorizationRequest{ResponseType: "code", ClientID: client.ClientID},
		},
		{
			name: "client without registered redirects",
			req:  AuthorizationRequest{ResponseType: "code", ClientID: open.ClientID, RedirectURI: "https://anything/cb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			got, err := srv.ValidateAuthorizationRequest(ctx, &req)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateAuthorizationRequest() error = %v", err)
				}
				if got.ClientID != req.ClientID {
					t.Errorf("client = %q, want %q", got.ClientID, req.ClientID)
				}
				if req.Scope != "mcp:tools" {
					t.Errorf("Scope = %q, want default mcp:tools", req.Scope)
				}
				return
			}
			oauthErr, ok := AsError(err)
			if !ok {
				t.Fatalf("ValidateAuthorizationRequest() error = %v, want *Error", err)
			}
			if oauthErr.Code != tt.wantCode || oauthErr.Description != tt.wantDesc {
				t.Errorf("error = %s / %s, want %s / %s", oauthErr.Code, oauthErr.Description, tt.wantCode, tt.wantDesc)
			}
		})
	}
}

func TestServer_ValidateAuthorizationRequest_StrictRedirects(t *testing.T) {
	strict := false
	srv, _ := setupTestServer(t, func(c *Config) { c.AllowAnyRedirectURIWhenUnregistered = &strict })
	client := registerTestClient(t, srv)

	_, err := srv.ValidateAuthorizationRequest(context.Background(), &AuthorizationRequest{
		ResponseType: "code",
		ClientID:     client.ClientID,
		RedirectURI:  "https://anything/cb",
	})
	if err == nil {
		t.Fatal("ValidateAuthorizationRequest() should reject redirects for clients without registered URIs")
	}
}

func TestServer_RedirectTrusted(t *testing.T) {
	strict := false
	srv, _ := setupTestServer(t, func(c *Config) { c.AllowAnyRedirectURIWhenUnregistered = &strict })
	client := registerTestClient(t, srv, "https://app/cb")
	ctx := context.Background()

	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		want        bool
	}{
		{"registered", client.ClientID, "https://app/cb", true},
		{"unregistered uri", client.ClientID, "https://evil/cb", false},
		{"unknown client", "missing", "https://app/cb", false},
		{"empty uri", client.ClientID, "", false},
		{"empty client", "", "https://app/cb", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := srv.RedirectTrusted(ctx, tt.clientID, tt.redirectURI); got != tt.want {
				t.Errorf("RedirectTrusted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorizationRequest_ErrorRedirect(t *testing.T) {
	req := &AuthorizationRequest{RedirectURI: "https://app/cb?x=1", State: "s1"}
	got := req.ErrorRedirect(ErrUnsupportedResponseType("Only 'code' response type is supported"))

	parsed, err := url.Parse(got)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	q := parsed.Query()
	if q.Get("x") != "1" || q.Get("error") != "unsupported_response_type" || q.Get("state") != "s1" {
		t.Errorf("ErrorRedirect() = %q", got)
	}
	if q.Get("error_description") != "Only 'code' response type is supported" {
		t.Errorf("error_description = %q", q.Get("error_description"))
	}

	if got := (&AuthorizationRequest{}).ErrorRedirect(ErrInvalidRequest("x")); got != "" {
		t.Errorf("ErrorRedirect() without redirect_uri = %q, want empty", got)
	}
}

func TestServer_IssueCode(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	client := registerTestClient(t, srv, testRedirect)

	redirect, err := srv.IssueCode(ctx, &AuthorizationRequest{
		ClientID:            client.ClientID,
		RedirectURI:         testRedirect,
		State:               "xyz",
		CodeChallenge:       S256Challenge("v1"),
		CodeChallengeMethod: "S256",
	}, testEmail)
	if err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}

	if !strings.HasPrefix(redirect, testRedirect+"?code=") {
		t.Fatalf("redirect = %q, want prefix %q", redirect, testRedirect+"?code=")
	}
	parsed, _ := url.Parse(redirect)
	code := parsed.Query().Get("code")
	if parsed.Query().Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", parsed.Query().Get("state"))
	}

	stored, err := store.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if stored.Subject != testEmail || stored.Scope != "mcp:tools" || stored.ClientID != client.ClientID {
		t.Errorf("stored code = %+v", stored)
	}
}

func TestServer_IssueCode_FallbackRedirect(t *testing.T) {
	srv, _ := setupTestServer(t)
	client := registerTestClient(t, srv)

	redirect, err := srv.IssueCode(context.Background(), &AuthorizationRequest{ClientID: client.ClientID}, testEmail)
	if err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}
	want := testIssuer + "/oauth2/callback?code="
	if !strings.HasPrefix(redirect, want) {
		t.Errorf("redirect = %q, want prefix %q", redirect, want)
	}
	if strings.Contains(redirect, "state=") {
		t.Errorf("redirect = %q should not carry an empty state", redirect)
	}
}

func TestServer_IssueCode_ExistingQuery(t *testing.T) {
	srv, _ := setupTestServer(t)
	client := registerTestClient(t, srv, "https://app/cb?tenant=a")

	redirect, err := srv.IssueCode(context.Background(), &AuthorizationRequest{
		ClientID:    client.ClientID,
		RedirectURI: "https://app/cb?tenant=a",
	}, testEmail)
	if err != nil {
		t.Fatalf("IssueCode() error = %v", err)
	}
	if !strings.HasPrefix(redirect, "https://app/cb?tenant=a&code=") {
		t.Errorf("redirect = %q", redirect)
	}
}
