// Package geptracing wires OpenTelemetry spans around the producer and
// consumer engines' asynchronous work (spec.md §5): every E-KEY interest the
// producer sends (initial coverage search, exclude re-query, retry, or
// delegation failover) gets an ekey_coverage_search span, and a consumer's
// consume() call, decrypt_c_key, and decrypt_d_key each get their own span,
// so a trace shows where time went across asynchronous interest round trips.
// The teacher carries the otel/jaeger/otlp/stdout exporters as direct
// dependencies without a dedicated tracing package; this package gives them
// a concrete home.
package geptracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterKind selects which trace backend Setup wires up.
type ExporterKind string

const (
	ExporterStdout ExporterKind = "stdout"
	ExporterJaeger ExporterKind = "jaeger"
	ExporterOTLP   ExporterKind = "otlp"
	ExporterNone   ExporterKind = "none"
)

// Config configures the tracer provider.
type Config struct {
	ServiceName  string
	Exporter     ExporterKind
	JaegerURL    string // e.g. http://localhost:14268/api/traces
	OTLPEndpoint string // e.g. localhost:4317
}

// Setup builds and registers a TracerProvider per cfg, returning a shutdown
// func the caller should defer. ExporterNone (or an empty Config) installs a
// provider backed by the SDK's noop default without starting any exporter
// goroutine.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterJaeger:
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	case ExporterOTLP:
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	default:
		return nil, fmt.Errorf("geptracing: unknown exporter kind %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("geptracing: build exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("geptracing: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// tracerName is the package-wide tracer name every GEP span is created under.
const tracerName = "github.com/kenneth/ndn-group-encrypt"

// StartProduceSpan starts a span around a producer engine's top-level
// produce() call.
func StartProduceSpan(ctx context.Context, contentName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "produce", trace.WithAttributes(
		attribute.String("gep.content_name", contentName),
	))
}

// StartConsumeSpan starts a span around a consumer engine's top-level
// consume() call.
func StartConsumeSpan(ctx context.Context, contentName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "consume", trace.WithAttributes(
		attribute.String("gep.content_name", contentName),
	))
}

// StartCoverageSearchSpan starts a span around one E-KEY coverage search
// iteration, including exclude-selector retries.
func StartCoverageSearchSpan(ctx context.Context, authorityName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "ekey_coverage_search", trace.WithAttributes(
		attribute.String("gep.authority_name", authorityName),
	))
}

// StartDecryptSpan starts a span around decrypt_c_key or decrypt_d_key.
func StartDecryptSpan(ctx context.Context, stage, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "decrypt_"+stage, trace.WithAttributes(
		attribute.String("gep.name", name),
	))
}
