// Package observability sets up OpenTelemetry tracing for Tabula.
//
// Until Init is called every span goes to the global no-op provider, so
// library callers pay nothing for tracing they did not enable.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/tabula"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Config contains tracing configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// SamplingRate in [0, 1]; 0 disables sampling
	SamplingRate float64
	// Writer receives exported spans (default stdout)
	Writer io.Writer
	// PrettyPrint indents exported spans
	PrettyPrint bool
	// Synchronous exports each span as it ends instead of batching
	Synchronous bool
}

// Init installs a tracer provider exporting to cfg.Writer. Calling Init again
// replaces the previous provider after shutting it down.
func Init(ctx context.Context, cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tabula"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(cfg.Writer)}
	if cfg.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	var processor sdktrace.TracerProviderOption
	if cfg.Synchronous {
		processor = sdktrace.WithSyncer(exporter)
	} else {
		processor = sdktrace.WithBatcher(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
		processor,
	)

	mu.Lock()
	previous := provider
	provider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if previous != nil {
		return previous.Shutdown(ctx)
	}
	return nil
}

// Shutdown flushes and stops the provider installed by Init.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer: %w", err)
	}
	return nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
