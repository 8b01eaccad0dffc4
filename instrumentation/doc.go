// Package instrumentation wires OpenTelemetry metrics and traces for the
// authorization server.
//
// When enabled, metrics are collected by an SDK meter provider and exported in
// Prometheus format through the otel Prometheus exporter, so the process can
// serve them with promhttp:
//
//	reg := prometheus.NewRegistry()
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "mcp-authserver",
//		Enabled:         true,
//		MetricsExporter: "prometheus",
//		Registerer:      reg,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(ctx)
//	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// When disabled, no-op providers are used and every Record call is free.
//
// # Metrics
//
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint} (ms)
//   - oauth.client.registered
//   - oauth.code.issued{client_id}
//   - oauth.code.exchanged{client_id, pkce_method}
//   - oauth.token.refreshed{client_id}
//   - oauth.grant.failed{grant_type, reason}
//   - oauth.pkce.validation_failed{method}
//   - oauth.bearer.validated{result}
//   - oauth.login.attempts{result}
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.audit.events.total{event_type}
//   - storage.operation.total{operation, result}, storage.operation.duration{operation} (ms)
//   - storage.clients.count, storage.codes.count, storage.refresh_tokens.count
//
// Never attach codes, tokens or passwords as span or metric attributes.
package instrumentation
