package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce     sync.Once
	metricsRegistry *prometheus.Registry
	metricsEnabled  bool
)

// InitMetrics creates the Prometheus registry that StreamMetrics
// instances register against. Calling it is optional: NewStreamMetrics
// returns nil (a safe no-op receiver) until this has run.
func InitMetrics() {
	metricsOnce.Do(func() {
		metricsRegistry = prometheus.NewRegistry()
		metricsEnabled = true
	})
}

// MetricsEnabled reports whether InitMetrics has run.
func MetricsEnabled() bool { return metricsEnabled }

// Registry returns the process-wide registry. Only valid after InitMetrics.
func Registry() *prometheus.Registry { return metricsRegistry }

// Handler returns the HTTP handler serving the registry in the
// Prometheus exposition format, for mounting on a metrics listener.
func Handler() http.Handler {
	if !metricsEnabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}

// StreamMetrics is the Prometheus instrumentation for one open stream.
// Every method is a safe no-op on a nil receiver, so callers can build
// it unconditionally and ignore whether InitMetrics was ever called.
type StreamMetrics struct {
	committedTimestamp *prometheus.GaugeVec
	persistedTimestamp *prometheus.GaugeVec
	allocatedRegions   *prometheus.GaugeVec
	freeRegions        *prometheus.GaugeVec
	appendsTotal       *prometheus.CounterVec
	appendErrorsTotal  *prometheus.CounterVec
	appendLatency      *prometheus.HistogramVec
	reservedBytesTotal *prometheus.CounterVec
}

// NewStreamMetrics returns nil when metrics are disabled, so it is safe
// to plumb through Stream construction unconditionally.
func NewStreamMetrics(streamPath string) *StreamMetrics {
	if !metricsEnabled {
		return nil
	}

	reg := metricsRegistry
	return &StreamMetrics{
		committedTimestamp: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pmemstream_committed_timestamp",
				Help: "Highest timestamp committed through the MPMC queue (its consume watermark).",
			},
			[]string{"stream"},
		),
		persistedTimestamp: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pmemstream_persisted_timestamp",
				Help: "Highest timestamp whose entry is durably committed and iterable.",
			},
			[]string{"stream"},
		),
		allocatedRegions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pmemstream_allocated_regions",
				Help: "Number of regions currently allocated.",
			},
			[]string{"stream"},
		),
		freeRegions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pmemstream_free_regions",
				Help: "Number of regions currently on the free list.",
			},
			[]string{"stream"},
		),
		appendsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmemstream_appends_total",
				Help: "Total entries appended, by region.",
			},
			[]string{"stream", "region"},
		),
		appendErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmemstream_append_errors_total",
				Help: "Total append failures, by error kind.",
			},
			[]string{"stream", "reason"},
		),
		appendLatency: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pmemstream_append_latency_seconds",
				Help:    "Reserve-to-publish latency per append.",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
			[]string{"stream"},
		),
		reservedBytesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pmemstream_reserved_bytes_total",
				Help: "Total payload bytes reserved, by region.",
			},
			[]string{"stream", "region"},
		),
	}
}

func (m *StreamMetrics) SetCommittedTimestamp(stream string, ts uint64) {
	if m == nil {
		return
	}
	m.committedTimestamp.WithLabelValues(stream).Set(float64(ts))
}

func (m *StreamMetrics) SetPersistedTimestamp(stream string, ts uint64) {
	if m == nil {
		return
	}
	m.persistedTimestamp.WithLabelValues(stream).Set(float64(ts))
}

func (m *StreamMetrics) SetRegionCounts(stream string, allocated, free int) {
	if m == nil {
		return
	}
	m.allocatedRegions.WithLabelValues(stream).Set(float64(allocated))
	m.freeRegions.WithLabelValues(stream).Set(float64(free))
}

func (m *StreamMetrics) ObserveAppend(stream, region string, bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.appendsTotal.WithLabelValues(stream, region).Inc()
	m.reservedBytesTotal.WithLabelValues(stream, region).Add(float64(bytes))
	m.appendLatency.WithLabelValues(stream).Observe(d.Seconds())
}

func (m *StreamMetrics) ObserveAppendError(stream, reason string) {
	if m == nil {
		return
	}
	m.appendErrorsTotal.WithLabelValues(stream, reason).Inc()
}
