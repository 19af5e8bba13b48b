// Package telemetry wires the optional observability surface around a
// stream: OpenTelemetry spans over reserve/publish/append and Prometheus
// counters/gauges over the commit and allocator state. Both are off
// (no-op) until explicitly initialized, so an embedder pays nothing for
// either unless it opts in: a global tracer with a no-op fallback, and
// an InitTracing/TracingEnabled/StartSpan/EndWithResult surface.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracingConfig controls the OTLP/gRPC exporter.
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Insecure       bool
	SampleRate     float64
}

// DefaultTracingConfig returns tracing turned off, pointed at a local
// collector so flipping Enabled alone is enough to start exporting.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:        false,
		ServiceName:    "pmemstream",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

var (
	tracer         trace.Tracer
	tracerOnce     sync.Once
	tracerProvider *sdktrace.TracerProvider
	tracingEnabled bool
)

// InitTracing initializes the OpenTelemetry SDK. The returned shutdown
// func flushes and closes the exporter and must be called on exit.
func InitTracing(ctx context.Context, cfg TracingConfig) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		tracingEnabled = false
		tracer = noop.NewTracerProvider().Tracer("pmemstream")
		return func(context.Context) error { return nil }, nil
	}

	tracingEnabled = true

	var opts []otlptracegrpc.Option
	opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = tracerProvider.Tracer(cfg.ServiceName)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tracerProvider.Shutdown(shutdownCtx)
	}, nil
}

// Tracer returns the global tracer, falling back to a no-op tracer when
// InitTracing was never called.
func Tracer() trace.Tracer {
	tracerOnce.Do(func() {
		if tracer == nil {
			tracer = noop.NewTracerProvider().Tracer("pmemstream")
		}
	})
	return tracer
}

// TracingEnabled reports whether InitTracing was called with Enabled=true.
func TracingEnabled() bool { return tracingEnabled }

// Attribute keys for stream/region/entry operations.
const (
	AttrStreamPath  = "pmemstream.path"
	AttrRegion      = "pmemstream.region_offset"
	AttrEntry       = "pmemstream.entry_offset"
	AttrTimestamp   = "pmemstream.timestamp"
	AttrPayloadSize = "pmemstream.payload_size"
	AttrThreadID    = "pmemstream.thread_id"
)

func RegionAttr(offset uint64) attribute.KeyValue { return attribute.Int64(AttrRegion, int64(offset)) }
func EntryAttr(offset uint64) attribute.KeyValue  { return attribute.Int64(AttrEntry, int64(offset)) }
func TimestampAttr(ts uint64) attribute.KeyValue  { return attribute.Int64(AttrTimestamp, int64(ts)) }
func PayloadSizeAttr(n int) attribute.KeyValue    { return attribute.Int(AttrPayloadSize, n) }

// Span names, one per traced operation.
const (
	SpanReserve     = "pmemstream.reserve"
	SpanPublish     = "pmemstream.publish"
	SpanAppend      = "pmemstream.append"
	SpanAsyncAppend = "pmemstream.async_append"
	SpanAllocate    = "pmemstream.allocate_region"
	SpanFree        = "pmemstream.free_region"
	SpanRuntimeInit = "pmemstream.runtime_init_region"
)

// StartSpan starts a span under the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartAppendSpan starts a span for an Append/AsyncAppend call, tagging
// the region being written to and the payload size being reserved.
func StartAppendSpan(ctx context.Context, name string, region uint64, payloadSize int) (context.Context, trace.Span) {
	return StartSpan(ctx, name, RegionAttr(region), PayloadSizeAttr(payloadSize))
}

// EndWithResult records err on span (if non-nil) and, on success, tags
// the entry offset and assigned timestamp before closing the span.
func EndWithResult(span trace.Span, entryOffset, timestamp uint64, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(EntryAttr(entryOffset), TimestampAttr(timestamp))
}
