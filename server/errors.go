package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes.
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeUnauthorized            = "unauthorized"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
)

// Error is an OAuth error as returned to clients.
type Error struct {
	Code        string
	Description string
	Status      int
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates an OAuth error.
func NewError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// AsError returns err as *Error when it is one.
func AsError(err error) (*Error, bool) {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr, true
	}
	return nil, false
}

// ErrInvalidRequest reports a missing or malformed parameter.
func ErrInvalidRequest(desc string) *Error {
	return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidClient reports an unknown client. It is shown inline on the
// authorization page, so it uses 400 rather than 401.
func ErrInvalidClient(desc string) *Error {
	return NewError(ErrorCodeInvalidClient, desc, http.StatusBadRequest)
}

// ErrInvalidGrant reports an unusable code or refresh token.
func ErrInvalidGrant(desc string) *Error {
	return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// ErrInvalidToken reports a rejected bearer token.
func ErrInvalidToken(desc string) *Error {
	return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
}

// ErrInvalidRedirectURI reports a redirect URI that cannot be registered or used.
func ErrInvalidRedirectURI(desc string) *Error {
	return NewError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

// ErrUnauthorized reports a request without credentials.
func ErrUnauthorized(desc string) *Error {
	return NewError(ErrorCodeUnauthorized, desc, http.StatusUnauthorized)
}

// ErrUnsupportedGrantType reports a grant_type other than the supported ones.
func ErrUnsupportedGrantType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// ErrUnsupportedResponseType reports a response_type other than "code".
func ErrUnsupportedResponseType(desc string) *Error {
	return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
}

// ErrAccessDenied reports rejected user credentials.
func ErrAccessDenied(desc string) *Error {
	return NewError(ErrorCodeAccessDenied, desc, http.StatusUnauthorized)
}

// ErrServerError reports an internal fault with a generic description.
func ErrServerError(desc string) *Error {
	return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
}
