package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "mcp_session"

	// DefaultTTL is how long an idle login session survives.
	DefaultTTL = time.Hour
)

// Config configures a Manager.
type Config struct {
	CookieName string
	TTL        time.Duration

	// Secure marks the cookie Secure. Set it when the issuer is https.
	Secure bool

	Logger *slog.Logger
}

// Session is the data for one browser plus its id.
type Session struct {
	ID string
	Data
}

// Manager loads and saves sessions through a cookie.
type Manager struct {
	store  Store
	config Config
}

// NewManager creates a manager over store.
func NewManager(store Store, config Config) *Manager {
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{store: store, config: config}
}

// Load returns the request's session, or a fresh one with a new id when the
// cookie is missing or points at nothing.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.config.CookieName)
	if err != nil || cookie.Value == "" {
		return m.newSession(), nil
	}

	data, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return m.newSession(), nil
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &Session{ID: cookie.Value, Data: *data}, nil
}

// Save persists sess and (re)sets the cookie, extending its lifetime.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if err := m.store.Save(ctx, sess.ID, &sess.Data, m.config.TTL); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(m.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy deletes sess and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) {
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		m.config.Logger.Warn("Failed to delete session", "error", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Renew moves sess to a new id so an id seen before login is useless after.
func (m *Manager) Renew(ctx context.Context, sess *Session) {
	if err := m.store.Delete(ctx, sess.ID); err != nil {
		m.config.Logger.Warn("Failed to delete session", "error", err)
	}
	sess.ID = uuid.NewString()
}

// CookieName returns the configured cookie name.
func (m *Manager) CookieName() string {
	return m.config.CookieName
}

func (m *Manager) newSession() *Session {
	return &Session{ID: uuid.NewString()}
}
