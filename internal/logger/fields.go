package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these consistently
// across log statements so aggregation/querying keys line up.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Stream / Region / Entry
	// ========================================================================
	KeyStreamPath    = "stream_path"    // path to the backing mapped file
	KeyStreamSize    = "stream_size"    // total mapped size in bytes
	KeyBlockSize     = "block_size"     // region alignment granularity
	KeyRegionOffset  = "region_offset"  // region offset within the stream
	KeyRegionSize    = "region_size"    // region payload size in bytes
	KeyEntryOffset   = "entry_offset"   // entry offset within a region
	KeyEntrySize     = "entry_size"     // entry payload size in bytes
	KeyTimestamp     = "timestamp"      // entry commit timestamp
	KeyPersistedTS   = "persisted_ts"   // stream-wide persisted watermark
	KeyCommittedTS   = "committed_ts"   // stream-wide committed watermark
	KeyProducerID    = "producer_id"    // thread-id-service id of the calling producer
	KeyMaxConcurrent = "max_concurrent" // configured max_concurrency

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyOperation  = "operation"   // sub-operation type for complex operations
	KeyAttempt    = "attempt"     // retry/spin attempt number
	KeyBytes      = "bytes"       // generic byte count
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// StreamPath returns a slog.Attr for the backing mapped file path
func StreamPath(p string) slog.Attr {
	return slog.String(KeyStreamPath, p)
}

// StreamSize returns a slog.Attr for total mapped size
func StreamSize(n uint64) slog.Attr {
	return slog.Uint64(KeyStreamSize, n)
}

// BlockSize returns a slog.Attr for region alignment granularity
func BlockSize(n uint64) slog.Attr {
	return slog.Uint64(KeyBlockSize, n)
}

// RegionOffset returns a slog.Attr for a region offset
func RegionOffset(off uint64) slog.Attr {
	return slog.Uint64(KeyRegionOffset, off)
}

// RegionSize returns a slog.Attr for a region payload size
func RegionSize(n uint64) slog.Attr {
	return slog.Uint64(KeyRegionSize, n)
}

// EntryOffset returns a slog.Attr for an entry offset
func EntryOffset(off uint64) slog.Attr {
	return slog.Uint64(KeyEntryOffset, off)
}

// EntrySize returns a slog.Attr for an entry payload size
func EntrySize(n uint64) slog.Attr {
	return slog.Uint64(KeyEntrySize, n)
}

// Timestamp returns a slog.Attr for an entry commit timestamp
func Timestamp(ts uint64) slog.Attr {
	return slog.Uint64(KeyTimestamp, ts)
}

// PersistedTS returns a slog.Attr for the stream's persisted watermark
func PersistedTS(ts uint64) slog.Attr {
	return slog.Uint64(KeyPersistedTS, ts)
}

// CommittedTS returns a slog.Attr for the stream's committed watermark
func CommittedTS(ts uint64) slog.Attr {
	return slog.Uint64(KeyCommittedTS, ts)
}

// ProducerID returns a slog.Attr for the calling producer's thread-id-service id
func ProducerID(id uint64) slog.Attr {
	return slog.Uint64(KeyProducerID, id)
}

// MaxConcurrent returns a slog.Attr for configured max_concurrency
func MaxConcurrent(n uint64) slog.Attr {
	return slog.Uint64(KeyMaxConcurrent, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for retry/spin attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Bytes returns a slog.Attr for a generic byte count
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}
