// Package telemetry configures OpenTelemetry tracing for harvests.
package telemetry

import (
	"context"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationPrefix = "github.com/JakeFAU/leadharvest/"

// Config selects whether spans are recorded and where they are exported.
type Config struct {
	Enabled     bool
	ServiceName string
	// ProjectID enables export to Google Cloud Trace. Empty keeps spans
	// in process.
	ProjectID   string
	SampleRatio float64
}

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

// InitTracing installs the global tracer provider and propagator. When
// tracing is disabled the global no-op provider is left in place.
func InitTracing(ctx context.Context, cfg Config, logger *zap.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.ServiceName
	if name == "" {
		name = "leadharvest"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRatio)),
	}
	if cfg.ProjectID != "" {
		exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		logger.Info("tracing enabled without exporter")
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logger.Info("tracing initialized", zap.String("service", name), zap.String("project", cfg.ProjectID))
	return tp.Shutdown, nil
}

// Sampler honours a parent's decision and otherwise samples ratio of root
// spans. Ratios outside (0, 1) sample everything.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns a tracer from the global provider for the named component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}
