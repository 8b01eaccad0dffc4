package security

// Audit event types.
const (
	// EventClientRegistered is logged when a client registers dynamically
	EventClientRegistered = "client_registered"

	// EventLoginSucceeded is logged when a user signs in on the login page
	EventLoginSucceeded = "login_succeeded"

	// EventLoginFailed is logged for a rejected login attempt
	EventLoginFailed = "login_failed"

	// EventAuthorizationCodeIssued is logged when a code is handed to a client
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventTokenIssued is logged when an authorization code is exchanged
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// EventAuthFailure is logged when a token request is rejected
	EventAuthFailure = "auth_failure"

	// EventPKCEValidationFailed is logged when a code_verifier does not match
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventInvalidRedirect is logged when an unregistered redirect_uri is used
	EventInvalidRedirect = "invalid_redirect"

	// EventBearerRejected is logged when a protected request lacks a valid token
	EventBearerRejected = "bearer_rejected"

	// EventRateLimitExceeded is logged when a limiter rejects a request
	EventRateLimitExceeded = "rate_limit_exceeded"
)
