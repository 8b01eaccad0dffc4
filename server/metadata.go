package server

import (
	jose "github.com/go-jose/go-jose/v4"
)

// Endpoint paths relative to the issuer.
const (
	AuthorizationPath = "/oauth2/authorize"
	TokenPath         = "/oauth2/token"
	RegistrationPath  = "/oauth2/register"
	JWKSPath          = "/oauth2/jwks"

	ProtectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	OpenIDConfigurationPath         = "/.well-known/openid-configuration"
)

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 protected resource document.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// AuthorizationServerMetadata returns the discovery document.
func (s *Server) AuthorizationServerMetadata() *AuthorizationServerMetadata {
	issuer := s.Config.Issuer
	return &AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + AuthorizationPath,
		TokenEndpoint:                     issuer + TokenPath,
		RegistrationEndpoint:              issuer + RegistrationPath,
		JWKSURI:                           issuer + JWKSPath,
		ScopesSupported:                   s.Config.SupportedScopes,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{TokenEndpointAuthMethodNone},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
	}
}

// ProtectedResourceMetadata returns the document pointing resource clients
// at this authorization server.
func (s *Server) ProtectedResourceMetadata() *ProtectedResourceMetadata {
	return &ProtectedResourceMetadata{
		Resource:               s.Config.Issuer,
		AuthorizationServers:   []string{s.Config.Issuer},
		ScopesSupported:        s.Config.SupportedScopes,
		BearerMethodsSupported: []string{"header"},
		ResourceName:           s.Config.ResourceName,
	}
}

// ProtectedResourceMetadataURL is advertised in WWW-Authenticate challenges.
func (s *Server) ProtectedResourceMetadataURL() string {
	return s.Config.Issuer + ProtectedResourceMetadataPath
}

// JWKS returns the public signing keys.
func (s *Server) JWKS() jose.JSONWebKeySet {
	return s.signer.PublicJWKS()
}
