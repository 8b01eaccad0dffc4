package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Algorithm is the only JWS algorithm the signer produces or accepts.
	Algorithm = "RS256"

	// KeyUse is advertised in the JWKS entry.
	KeyUse = "sig"

	// DefaultKeyBits is the RSA modulus size for generated keys.
	DefaultKeyBits = 2048
)

var (
	// ErrInvalidSignature is returned when a token cannot be parsed or its
	// signature does not verify against the held key.
	ErrInvalidSignature = errors.New("signing: invalid signature")

	// ErrExpired is returned when a token verifies but its exp is in the past.
	ErrExpired = errors.New("signing: token expired")
)

// Claims are the access token claims. Audience checks are left to the caller.
type Claims struct {
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	jwt.RegisteredClaims
}

// NewAccessTokenClaims builds claims for an access token valid for ttl from now.
// The jti is a fresh UUID.
func NewAccessTokenClaims(issuer, subject, audience, scope, clientID string, ttl time.Duration, now time.Time) *Claims {
	return &Claims{
		Scope:    scope,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
}

// KeySigner signs and verifies RS256 access tokens with a single RSA key.
// It is safe for concurrent use; the key never changes after construction.
type KeySigner struct {
	key *rsa.PrivateKey
	kid string
	now func() time.Time
}

// Option configures a KeySigner.
type Option func(*KeySigner)

// WithKey uses an existing private key instead of generating one.
func WithKey(key *rsa.PrivateKey, kid string) Option {
	return func(s *KeySigner) {
		s.key = key
		s.kid = kid
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *KeySigner) {
		s.now = now
	}
}

// NewKeySigner returns a signer holding a freshly generated 2048-bit RSA key
// unless WithKey is supplied.
func NewKeySigner(opts ...Option) (*KeySigner, error) {
	s := &KeySigner{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if s.key == nil {
		key, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		s.key = key
	}
	if s.kid == "" {
		s.kid = uuid.NewString()
	}

	return s, nil
}

// KeyID returns the kid placed in token headers and the JWKS.
func (s *KeySigner) KeyID() string {
	return s.kid
}

// PublicKey returns the verification key.
func (s *KeySigner) PublicKey() *rsa.PublicKey {
	return &s.key.PublicKey
}

// Sign serializes and signs the claims as a compact JWS.
func (s *KeySigner) Sign(claims *Claims) (string, error) {
	if claims == nil {
		return "", errors.New("claims are required")
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of token and returns its claims.
// Errors wrap ErrInvalidSignature or ErrExpired.
func (s *KeySigner) Verify(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, s.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return claims, nil
}

func (s *KeySigner) keyfunc(t *jwt.Token) (any, error) {
	if kid, ok := t.Header["kid"].(string); ok && kid != s.kid {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return &s.key.PublicKey, nil
}

// PublicJWKS returns the public key as a JWK Set.
func (s *KeySigner) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &s.key.PublicKey,
			KeyID:     s.kid,
			Algorithm: Algorithm,
			Use:       KeyUse,
		}},
	}
}
