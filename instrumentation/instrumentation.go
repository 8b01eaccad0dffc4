package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty.
	DefaultServiceName = "mcp-authserver"

	// DefaultServiceVersion is used when Config.ServiceVersion is empty.
	DefaultServiceVersion = "unknown"

	// ExporterPrometheus selects the Prometheus pull exporter for metrics.
	ExporterPrometheus = "prometheus"

	// ExporterNone keeps metrics in-process with no exporter attached.
	ExporterNone = "none"

	scopePrefix = "github.com/giantswarm/mcp-authserver/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string

	// ServiceVersion is reported as the service.version resource attribute.
	ServiceVersion string

	// Enabled switches between SDK providers and no-op providers.
	Enabled bool

	// MetricsExporter is "prometheus" or "none" (default).
	MetricsExporter string

	// Registerer receives the Prometheus collector. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Resource overrides the default service resource.
	Resource *resource.Resource
}

// Instrumentation owns the meter and tracer providers and the metric
// instruments recorded by the server, handler and storage layers.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// registered during New only
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates instrumentation. With Enabled=false every provider is a no-op.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}
	if config.MetricsExporter == "" {
		config.MetricsExporter = ExporterNone
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		if err := inst.initializeProviders(); err != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w", err)
		}
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	metrics, err := newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	inst.metrics = metrics

	return inst, nil
}

func (i *Instrumentation) initializeProviders() error {
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(i.resource)}

	switch i.config.MetricsExporter {
	case ExporterPrometheus:
		var promOpts []otelprom.Option
		if i.config.Registerer != nil {
			promOpts = append(promOpts, otelprom.WithRegisterer(i.config.Registerer))
		}
		exporter, err := otelprom.New(promOpts...)
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(exporter))
	case ExporterNone:
	default:
		return fmt.Errorf("unknown metrics exporter: %q", i.config.MetricsExporter)
	}

	mp := sdkmetric.NewMeterProvider(meterOpts...)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(i.resource))

	i.meterProvider = mp
	i.tracerProvider = tp
	i.shutdownFuncs = append(i.shutdownFuncs, mp.Shutdown, tp.Shutdown)

	return nil
}

// Shutdown flushes and stops the providers. Safe to call more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a meter named "github.com/giantswarm/mcp-authserver/{scope}".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer named "github.com/giantswarm/mcp-authserver/{scope}".
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metric instruments.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Enabled reports whether SDK providers are active.
func (i *Instrumentation) Enabled() bool {
	return i.config.Enabled
}

// StorageSizeCallback returns the current number of entries in a store.
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks observes store sizes on every collection.
// Nil callbacks are skipped.
func (i *Instrumentation) RegisterStorageSizeCallbacks(clients, codes, refreshTokens StorageSizeCallback) error {
	meter := i.Meter("storage")

	_, err := meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if clients != nil {
				observer.ObserveInt64(i.metrics.StorageClientsCount, clients())
			}
			if codes != nil {
				observer.ObserveInt64(i.metrics.StorageCodesCount, codes())
			}
			if refreshTokens != nil {
				observer.ObserveInt64(i.metrics.StorageRefreshTokensCount, refreshTokens())
			}
			return nil
		},
		i.metrics.StorageClientsCount,
		i.metrics.StorageCodesCount,
		i.metrics.StorageRefreshTokensCount,
	)

	return err
}
