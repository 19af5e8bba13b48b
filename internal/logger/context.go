package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds operation-scoped logging context for a single stream
// call (reserve/publish/append, region allocate/free, iteration).
type LogContext struct {
	TraceID      string    // OpenTelemetry trace ID
	SpanID       string    // OpenTelemetry span ID
	StreamPath   string    // path to the backing mapped file
	RegionOffset uint64    // region offset this operation is scoped to, if any
	ProducerID   uint64    // thread-id-service id of the calling producer, if any
	StartTime    time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to a stream path.
func NewLogContext(streamPath string) *LogContext {
	return &LogContext{
		StreamPath: streamPath,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:      lc.TraceID,
		SpanID:       lc.SpanID,
		StreamPath:   lc.StreamPath,
		RegionOffset: lc.RegionOffset,
		ProducerID:   lc.ProducerID,
		StartTime:    lc.StartTime,
	}
}

// WithRegion returns a copy scoped to the given region offset.
func (lc *LogContext) WithRegion(regionOffset uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RegionOffset = regionOffset
	}
	return clone
}

// WithProducer returns a copy scoped to the given producer (thread-id-service) id.
func (lc *LogContext) WithProducer(producerID uint64) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ProducerID = producerID
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
