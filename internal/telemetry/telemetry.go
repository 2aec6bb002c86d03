// ABOUTME: OpenTelemetry tracer provider setup for the trackbridge binaries
// ABOUTME: Exports spans to stdout, an OTLP collector, or nowhere
package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName names the tracer handed to trackbridge components
const TracerName = "github.com/resonate-audio/trackbridge"

// Config holds the configuration for tracing
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Exporter is "stdout", "otlp" or "none"
	Exporter     string
	OTLPEndpoint string
	// SamplingRate is the fraction of root traces recorded (0.0 to 1.0)
	SamplingRate float64

	// SpanExporter replaces the exporter selected by Exporter
	SpanExporter sdktrace.SpanExporter
}

// Provider owns a tracer provider and its exporter
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	once   sync.Once
}

// Setup builds a tracer provider and installs it as the global one.
// With the "none" exporter the returned provider hands out no-op tracers.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "trackbridge"
	}

	exporter := cfg.SpanExporter
	if exporter == nil {
		var err error
		switch cfg.Exporter {
		case "stdout":
			exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
			}
		case "otlp":
			client := otlptracegrpc.NewClient(
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			)
			exporter, err = otlptrace.New(ctx, client)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
			}
		case "", "none":
			return &Provider{tracer: noop.NewTracerProvider().Tracer(TracerName)}, nil
		default:
			return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Printf("Tracing initialized with exporter: %s", cfg.Exporter)
	return &Provider{tp: tp, tracer: tp.Tracer(TracerName)}, nil
}

// Tracer returns the provider's tracer
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// ForceFlush exports any spans still queued in the batcher
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider; later calls are no-ops
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.once.Do(func() {
		if p.tp == nil {
			return
		}
		if serr := p.tp.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shutdown tracer provider: %w", serr)
		}
	})
	return err
}
