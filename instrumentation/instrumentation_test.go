package instrumentation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

func TestNew_Disabled(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics() = nil")
	}

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordHTTPRequest(ctx, "POST", "/oauth2/token", 200, 1.5)
	m.RecordClientRegistration(ctx)
	m.RecordCodeIssued(ctx, "c1")
	m.RecordCodeExchange(ctx, "c1", "")
	m.RecordTokenRefresh(ctx, "c1")
	m.RecordGrantFailed(ctx, "authorization_code", "invalid_grant")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordBearerValidation(ctx, "missing")
	m.RecordLoginAttempt(ctx, false)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordStorageOperation(ctx, "save_client", "success", 0.2)
	m.RecordAuditEvent(ctx, "token_issued")
}

func TestNew_UnknownExporter(t *testing.T) {
	_, err := New(Config{Enabled: true, MetricsExporter: "carrier-pigeon"})
	if err == nil {
		t.Fatal("New() error = nil, want error for unknown exporter")
	}
}

func TestNew_PrometheusExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	inst, err := New(Config{
		ServiceName:     "test",
		ServiceVersion:  "v0.0.1",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		Registerer:      reg,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	inst.Metrics().RecordClientRegistration(ctx)
	inst.Metrics().RecordCodeIssued(ctx, "c1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"oauth_client_registered", "oauth_code_issued"} {
		if !strings.Contains(joined, want) {
			t.Errorf("gathered metrics %q missing %q", joined, want)
		}
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	inst, err := New(Config{Enabled: true, MetricsExporter: ExporterPrometheus, Registerer: reg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 1 },
		nil,
	)
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if strings.Contains(f.GetName(), "storage_clients_count") {
			found = true
			if got := f.GetMetric()[0].GetGauge().GetValue(); got != 3 {
				t.Errorf("storage clients gauge = %v, want 3", got)
			}
		}
	}
	if !found {
		t.Error("storage clients gauge not exported")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

func TestTracer_RecordsSpans(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	_, span := inst.Tracer("server").Start(context.Background(), "test")
	defer span.End()

	if !span.SpanContext().IsValid() {
		t.Error("SDK tracer produced an invalid span context")
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	var span trace.Span

	RecordError(span, errors.New("boom"))
	SetSpanSuccess(span)
	SetSpanError(span, "boom")
	SetSpanAttributes(span)
	AddOAuthFlowAttributes(span, "c1", "u@x.com", "mcp:tools")
	AddPKCEAttributes(span, "S256")
	AddOAuthErrorAttributes(span, "invalid_grant", "Client ID mismatch")
	AddStorageAttributes(span, "get_client", "memory")
	AddHTTPAttributes(span, "GET", "/healthz", 200)
}
