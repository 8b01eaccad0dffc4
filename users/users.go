package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserNotFound is returned by a Lookup when no user has the email.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned by CheckCredentials for an unknown
	// email or a wrong password. Callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// dummyHash is compared against when the user does not exist so that unknown
// emails cost the same bcrypt work as wrong passwords.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// User is a person who can sign in on the login page.
type User struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Department   string `json:"department,omitempty"`
	PasswordHash string `json:"password_hash"`
}

// Lookup finds users by email.
type Lookup interface {
	// FindByEmail returns the user or ErrUserNotFound.
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// CheckCredentials returns the user when password matches the stored hash.
func CheckCredentials(ctx context.Context, lookup Lookup, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := lookup.FindByEmail(ctx, email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// HashPassword returns a bcrypt hash suitable for User.PasswordHash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// NormalizeEmail trims and lowercases an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
