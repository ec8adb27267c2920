package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP/HTTP collector (host:port). Empty keeps spans
	// in-process only.
	Endpoint      string
	SampleRate    float64
	BatchTimeout  time.Duration
	ExportTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "txpub"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = time.Second
	}
	if c.ExportTimeout == 0 {
		c.ExportTimeout = 30 * time.Second
	}
}

// Tracer wraps an OpenTelemetry tracer with helpers for transactional
// publish spans.
type Tracer struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewTracer builds a tracer provider exporting over OTLP/HTTP and returns a
// cleanup that flushes and shuts it down.
func NewTracer(cfg Config) (*Tracer, func(context.Context) error, error) {
	cfg.applyDefaults()
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if cfg.Endpoint != "" {
		exporter, err := otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
			otlptracehttp.WithTimeout(cfg.ExportTimeout),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(
			exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return tp.Shutdown(ctx)
	}
	return &Tracer{tracer: tp.Tracer(cfg.ServiceName), tp: tp}, cleanup, nil
}

// FromProvider wraps an existing provider; tests pass one backed by an
// in-memory exporter.
func FromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError marks the active span failed.
func (t *Tracer) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (t *Tracer) TxnAttributes(transactionalID string, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("txn.transactional_id", transactionalID),
		attribute.String("txn.state", state),
	}
}

func (t *Tracer) RecordAttributes(topic string, partition int32, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.destination.name", topic),
		attribute.Int("messaging.destination.partition.id", int(partition)),
		attribute.String("messaging.kafka.message.key", key),
	}
}

func (t *Tracer) ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return []attribute.KeyValue{attribute.Bool("error", false)}
	}
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	}
}
