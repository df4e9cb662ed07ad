// Package telemetry bootstraps OpenTelemetry tracing for the gateway's
// proxy+capture hot path. In dev mode, spans are printed to stdout via the
// stdouttrace exporter so a single operator can see the request/response
// shape without standing up a collector; outside dev mode no exporter is
// installed and the global tracer stays a no-op, matching how the rest of
// this module keeps its observability surface optional rather than
// mandatory infrastructure.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/mcp-gateway/gateway"

// Provider owns the process-wide tracer and meter providers installed by
// Setup, so Shutdown can flush and release them.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Setup installs a tracer provider and a meter provider as the
// OpenTelemetry globals. When devMode is false, tracing uses an
// always-off sampler and no meter reader is registered, so neither span
// nor metric recording costs more than a no-op check without a collector
// to send to; devMode installs an always-on trace sampler plus stdout
// exporters for both signals, for local inspection.
func Setup(devMode bool, serviceName string) (*Provider, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if devMode {
		traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: build stdout trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))

		metricExporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("telemetry: build stdout metric exporter: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))))
	} else {
		traceOpts = append(traceOpts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}

	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(meterOpts...)
	otel.SetMeterProvider(mp)

	return &Provider{tp: tp, mp: mp}, nil
}

// Shutdown flushes any buffered spans and metrics and releases both
// providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var err error
	if p.tp != nil {
		err = p.tp.Shutdown(ctx)
	}
	if p.mp != nil {
		if merr := p.mp.Shutdown(ctx); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

// Tracer returns the package-scoped tracer for span creation around the
// proxy+capture hot path.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the package-scoped meter for counters/histograms recorded
// alongside the Prometheus metrics in internal/adapter/inbound/httprouter.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
