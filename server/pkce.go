package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
)

// PKCE code challenge methods.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

var errMissingVerifier = errors.New("code_verifier is required when code_challenge is present")

// S256Challenge returns BASE64URL(SHA256(verifier)) without padding.
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// validatePKCE checks verifier against challenge. An empty method means S256.
// Method names are case-sensitive as in RFC 7636. Verifier length and charset
// are not restricted.
func validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return errMissingVerifier
	}

	var computed string
	switch {
	case method == "" || method == PKCEMethodS256:
		computed = S256Challenge(verifier)
	case method == PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
