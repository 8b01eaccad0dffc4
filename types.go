package oauth

import "github.com/giantswarm/mcp-authserver/server"

// Wire types shared with the server package.
type (
	AuthorizationServerMetadata = server.AuthorizationServerMetadata
	ProtectedResourceMetadata   = server.ProtectedResourceMetadata
	ClientRegistrationRequest   = server.RegistrationRequest
	ClientRegistrationResponse  = server.RegistrationResponse
	TokenResponse               = server.TokenResponse
	AuthorizationRequest        = server.AuthorizationRequest
)
