package server

import (
	"encoding/json"
	"testing"
)

func TestServer_AuthorizationServerMetadata(t *testing.T) {
	srv, _ := setupTestServer(t)
	meta := srv.AuthorizationServerMetadata()

	if meta.Issuer != testIssuer {
		t.Errorf("Issuer = %q", meta.Issuer)
	}
	if meta.AuthorizationEndpoint != testIssuer+"/oauth2/authorize" {
		t.Errorf("AuthorizationEndpoint = %q", meta.AuthorizationEndpoint)
	}
	if meta.TokenEndpoint != testIssuer+"/oauth2/token" {
		t.Errorf("TokenEndpoint = %q", meta.TokenEndpoint)
	}
	if meta.RegistrationEndpoint != testIssuer+"/oauth2/register" {
		t.Errorf("RegistrationEndpoint = %q", meta.RegistrationEndpoint)
	}
	if meta.JWKSURI != testIssuer+"/oauth2/jwks" {
		t.Errorf("JWKSURI = %q", meta.JWKSURI)
	}
	if len(meta.CodeChallengeMethodsSupported) != 1 || meta.CodeChallengeMethodsSupported[0] != "S256" {
		t.Errorf("CodeChallengeMethodsSupported = %v", meta.CodeChallengeMethodsSupported)
	}
	if len(meta.TokenEndpointAuthMethodsSupported) != 1 || meta.TokenEndpointAuthMethodsSupported[0] != "none" {
		t.Errorf("TokenEndpointAuthMethodsSupported = %v", meta.TokenEndpointAuthMethodsSupported)
	}
}

func TestServer_ProtectedResourceMetadata(t *testing.T) {
	srv, _ := setupTestServer(t)

	body, err := json.Marshal(srv.ProtectedResourceMetadata())
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got["resource"] != testIssuer {
		t.Errorf("resource = %v", got["resource"])
	}
	if got["resource_name"] != "MCP Tutorial Server" {
		t.Errorf("resource_name = %v", got["resource_name"])
	}
	servers, _ := got["authorization_servers"].([]any)
	if len(servers) != 1 || servers[0] != testIssuer {
		t.Errorf("authorization_servers = %v", got["authorization_servers"])
	}
	methods, _ := got["bearer_methods_supported"].([]any)
	if len(methods) != 1 || methods[0] != "header" {
		t.Errorf("bearer_methods_supported = %v", got["bearer_methods_supported"])
	}
	if srv.ProtectedResourceMetadataURL() != testIssuer+"/.well-known/oauth-protected-resource" {
		t.Errorf("ProtectedResourceMetadataURL() = %q", srv.ProtectedResourceMetadataURL())
	}
}

func TestServer_JWKS(t *testing.T) {
	srv, _ := setupTestServer(t)
	set := srv.JWKS()

	if len(set.Keys) != 1 {
		t.Fatalf("len(Keys) = %d, want 1", len(set.Keys))
	}
	if set.Keys[0].Algorithm != "RS256" || set.Keys[0].Use != "sig" || set.Keys[0].KeyID == "" {
		t.Errorf("key = %+v", set.Keys[0])
	}
}
