package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "tutorcall"

// Setup installs the global meter and tracer providers. Meters feed a
// Prometheus collector registered on reg, or on the default registerer
// when reg is nil, which is what promhttp.Handler serves.
//
// Spans are sampled but never exported. They give each request and
// completion call a trace id for logs and X-Correlation-ID.
//
// OTEL_RESOURCE_ATTRIBUTES is honoured. The returned func flushes both
// providers.
func Setup(ctx context.Context, version string, reg prometheus.Registerer) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	var exporterOpts []promexporter.Option
	if reg != nil {
		exporterOpts = append(exporterOpts, promexporter.WithRegisterer(reg))
	}
	collector, err := promexporter.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(collector))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
