package oauth

import "github.com/giantswarm/mcp-authserver/server"

// OAuth error codes.
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeInvalidRedirectURI      = server.ErrorCodeInvalidRedirectURI
	ErrorCodeUnauthorized            = server.ErrorCodeUnauthorized
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeServerError             = server.ErrorCodeServerError
)

// OAuthError is an OAuth error response.
type OAuthError = server.Error

// Error constructors.
var (
	NewOAuthError              = server.NewError
	ErrInvalidRequest          = server.ErrInvalidRequest
	ErrInvalidClient           = server.ErrInvalidClient
	ErrInvalidGrant            = server.ErrInvalidGrant
	ErrInvalidToken            = server.ErrInvalidToken
	ErrInvalidRedirectURI      = server.ErrInvalidRedirectURI
	ErrUnauthorized            = server.ErrUnauthorized
	ErrUnsupportedGrantType    = server.ErrUnsupportedGrantType
	ErrUnsupportedResponseType = server.ErrUnsupportedResponseType
	ErrAccessDenied            = server.ErrAccessDenied
	ErrServerError             = server.ErrServerError
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
