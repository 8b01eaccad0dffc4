package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
)

// Auditor writes security events to a structured logger.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewAuditor creates an auditor. A nil logger falls back to slog.Default().
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetInstrumentation counts every logged event in oauth.audit.events.total.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		a.metrics = nil
		return
	}
	a.metrics = inst.Metrics()
}

// Event is one audit record.
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent writes event. The subject is hashed and the request ID from ctx,
// if any, is attached.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now()
	}

	attrs := []any{
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"timestamp", event.Timestamp,
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	a.logger.InfoContext(ctx, "security_audit", attrs...)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}
}

// LogClientRegistered records a dynamic client registration.
func (a *Auditor) LogClientRegistered(ctx context.Context, clientID, clientName, ipAddress string, redirectURICount int) {
	a.LogEvent(ctx, Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_name":        clientName,
			"redirect_uri_count": redirectURICount,
		},
	})
}

// LogLogin records a login attempt on the login page.
func (a *Auditor) LogLogin(ctx context.Context, email, ipAddress string, success bool) {
	eventType := EventLoginFailed
	if success {
		eventType = EventLoginSucceeded
	}
	a.LogEvent(ctx, Event{
		Type:      eventType,
		Subject:   email,
		IPAddress: ipAddress,
	})
}

// LogCodeIssued records an authorization code handed to a client.
func (a *Auditor) LogCodeIssued(ctx context.Context, subject, clientID, scope string, pkce bool) {
	a.LogEvent(ctx, Event{
		Type:     EventAuthorizationCodeIssued,
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
			"pkce":  pkce,
		},
	})
}

// LogTokenIssued records a successful authorization_code grant.
func (a *Auditor) LogTokenIssued(ctx context.Context, subject, clientID, ipAddress, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed records a successful refresh_token grant.
func (a *Auditor) LogTokenRefreshed(ctx context.Context, subject, clientID, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenRefreshed,
		Subject:   subject,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure records a rejected token request. reason is the OAuth
// error description, which never carries secrets.
func (a *Auditor) LogAuthFailure(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogPKCEFailure records a code_verifier that did not match its challenge.
func (a *Auditor) LogPKCEFailure(ctx context.Context, clientID, ipAddress, method string) {
	a.LogEvent(ctx, Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"method": method,
		},
	})
}

// LogInvalidRedirect records an authorization request with an unregistered redirect_uri.
func (a *Auditor) LogInvalidRedirect(ctx context.Context, clientID, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogBearerRejected records a protected request without a usable token.
func (a *Auditor) LogBearerRejected(ctx context.Context, ipAddress, path, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventBearerRejected,
		IPAddress: ipAddress,
		Details: map[string]any{
			"path":   path,
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded records a request rejected by a limiter.
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, limiterType string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"limiter_type": limiterType,
		},
	})
}

// hashForLogging returns the first 16 hex characters of the SHA-256 of s.
func hashForLogging(s string) string {
	if s == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])[:16]
}
