package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded across the authorization server.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	ClientRegistered metric.Int64Counter
	CodeIssued       metric.Int64Counter
	CodeExchanged    metric.Int64Counter
	TokenRefreshed   metric.Int64Counter
	GrantFailed      metric.Int64Counter

	PKCEValidationFailed metric.Int64Counter
	BearerValidated      metric.Int64Counter
	LoginAttempts        metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageClientsCount       metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge

	AuditEventsTotal metric.Int64Counter
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of dynamically registered clients", "{client}"},
		{&m.CodeIssued, serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.CodeExchanged, serverMeter, "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenRefreshed, serverMeter, "oauth.token.refreshed", "Number of refresh token grants", "{refresh}"},
		{&m.GrantFailed, serverMeter, "oauth.grant.failed", "Number of failed token grants", "{failure}"},
		{&m.PKCEValidationFailed, securityMeter, "oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"},
		{&m.BearerValidated, securityMeter, "oauth.bearer.validated", "Number of bearer token checks on protected routes", "{check}"},
		{&m.LoginAttempts, securityMeter, "oauth.login.attempts", "Number of login attempts", "{attempt}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limited requests", "{request}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Total number of audit events", "{event}"},
	}

	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"storage.codes.count",
		metric.WithDescription("Number of outstanding authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of live refresh tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records request count and latency for an endpoint.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordClientRegistration records a successful client registration.
func (m *Metrics) RecordClientRegistration(ctx context.Context) {
	m.ClientRegistered.Add(ctx, 1)
}

// RecordCodeIssued records an authorization code handed to a client.
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeExchange records a successful authorization_code grant.
// pkceMethod is empty when the code carried no challenge.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	if pkceMethod == "" {
		pkceMethod = "none"
	}
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh records a successful refresh_token grant.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordGrantFailed records a rejected token request. reason is the OAuth
// error code, never the description.
func (m *Metrics) RecordGrantFailed(ctx context.Context, grantType, reason string) {
	m.GrantFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("reason", reason),
	))
}

// RecordPKCEValidationFailed records a verifier that did not match.
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// RecordBearerValidation records the outcome of a gate check:
// "valid", "missing" or "invalid".
func (m *Metrics) RecordBearerValidation(ctx context.Context, result string) {
	m.BearerValidated.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLoginAttempt records a login form submission.
func (m *Metrics) RecordLoginAttempt(ctx context.Context, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRateLimitExceeded records a request rejected by a limiter.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordStorageOperation records a storage call and its duration.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records an emitted audit event.
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
