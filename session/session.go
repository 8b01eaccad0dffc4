package session

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/mcp-authserver/server"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Data is the state kept for one browser.
type Data struct {
	// Subject is the authenticated user's email, empty before login.
	Subject string `json:"subject,omitempty"`

	// Pending is the authorization request waiting for login to finish.
	Pending *server.AuthorizationRequest `json:"pending,omitempty"`
}

// Authenticated reports whether a user signed in.
func (d *Data) Authenticated() bool {
	return d != nil && d.Subject != ""
}

// Store persists session data.
type Store interface {
	// Get returns the data or ErrNotFound.
	Get(ctx context.Context, id string) (*Data, error)

	// Save stores data for ttl, replacing any previous value.
	Save(ctx context.Context, id string, data *Data, ttl time.Duration) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

func cloneData(d *Data) *Data {
	if d == nil {
		return &Data{}
	}
	out := &Data{Subject: d.Subject}
	if d.Pending != nil {
		pending := *d.Pending
		out.Pending = &pending
	}
	return out
}
