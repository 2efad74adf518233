package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing how a foglamp process is wired.
const (
	AttrMemoryBackend = attribute.Key("foglamp.memory.backend")
	AttrIndexBackend  = attribute.Key("foglamp.index.backend")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName defaults to "foglamp".
	ServiceName string

	ServiceVersion string

	// MemoryBackend and IndexBackend are reported as resource attributes
	// when set, e.g. "sqlite" and "flat".
	MemoryBackend string
	IndexBackend  string

	// TraceExporter is optional. Without one, spans are recorded for
	// correlation IDs and logs but never exported.
	TraceExporter sdktrace.SpanExporter
}

// Resource builds the resource describing this process. The service
// attributes are schemaless so they merge with whatever schema version the
// SDK's default resource carries.
func Resource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "foglamp"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.MemoryBackend != "" {
		attrs = append(attrs, AttrMemoryBackend.String(cfg.MemoryBackend))
	}
	if cfg.IndexBackend != "" {
		attrs = append(attrs, AttrIndexBackend.String(cfg.IndexBackend))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider installs the global meter and tracer providers:
//
//   - a [sdkmetric.MeterProvider] feeding the Prometheus exporter behind
//     /metrics;
//   - a [sdktrace.TracerProvider] exporting through cfg.TraceExporter, if any;
//   - the W3C trace-context propagator used by [Middleware].
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
