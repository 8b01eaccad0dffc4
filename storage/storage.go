// Package storage defines the stores behind the authorization server: registered
// clients, single-use authorization codes and rotating refresh tokens.
//
// Implementations live in the memory and valkey subpackages. Consume operations
// must remove and return an entry in one atomic step so that two concurrent
// redemptions of the same code or refresh token cannot both succeed.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClientNotFound is returned when no client is registered under an id.
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound is returned when an authorization code is unknown or was
	// already consumed.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrTokenNotFound is returned when a refresh token is unknown or was
	// already consumed.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenExpired is returned when a refresh token is past its expiry.
	ErrTokenExpired = errors.New("refresh token expired")
)

// ClientStore persists dynamically registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient stores a client, replacing any previous record with the same id.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient returns the client or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// CodeStore persists issued authorization codes until they are redeemed.
type CodeStore interface {
	// SaveAuthorizationCode stores a code, overwriting an entry with the same key.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically removes and returns a code.
	// A second call with the same code returns ErrCodeNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenStore persists refresh tokens until they are rotated.
type RefreshTokenStore interface {
	// SaveRefreshToken stores a refresh token entry.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// ConsumeRefreshToken atomically removes and returns a refresh token entry.
	// Returns ErrTokenNotFound for unknown or already used tokens and
	// ErrTokenExpired when the entry's ExpiresAt has passed.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
}

// Store bundles the three stores; both backends implement it.
type Store interface {
	ClientStore
	CodeStore
	RefreshTokenStore
}

// Client is a dynamically registered OAuth client. Immutable once saved.
type Client struct {
	ClientID      string    `json:"client_id"`
	ClientName    string    `json:"client_name"`
	RedirectURIs  []string  `json:"redirect_uris"`
	GrantTypes    []string  `json:"grant_types"`
	ResponseTypes []string  `json:"response_types"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a single-use code bound to a client, redirect target,
// scope, optional PKCE challenge and the authenticated subject.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri,omitempty"`
	Scope               string    `json:"scope"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	Subject             string    `json:"subject"`
	CreatedAt           time.Time `json:"created_at"`

	// ExpiresAt lets backends drop stale codes. Redemption checks use CreatedAt.
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshToken is a single-use, rotating refresh token entry.
type RefreshToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Subject   string    `json:"subject"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is zero when refresh tokens do not expire.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the entry has a set expiry that is before now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
