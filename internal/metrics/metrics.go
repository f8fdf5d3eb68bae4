package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the attribution service.
type Metrics struct {
	// Ingestion metrics
	TouchpointsIngested *prometheus.CounterVec
	TouchpointsDropped  *prometheus.CounterVec
	AppendConflicts     *prometheus.CounterVec
	PathLength          *prometheus.HistogramVec

	// Conversion metrics
	CallsRecorded           *prometheus.CounterVec
	UnattributedConversions *prometheus.CounterVec
	ConversionValue         *prometheus.CounterVec

	// Reporting metrics
	ReportsGenerated   *prometheus.CounterVec
	AggregationLatency *prometheus.HistogramVec
	AggregationErrors  *prometheus.CounterVec

	// System metrics
	GeoLookupLatency *prometheus.HistogramVec
	EventLogFailures prometheus.Counter

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		// Ingestion metrics
		TouchpointsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "touchpoints_ingested_total",
				Help:      "Total touchpoints appended to attribution paths",
			},
			[]string{"workspace_id", "source_type"},
		),
		TouchpointsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "touchpoints_dropped_total",
				Help:      "Touchpoints rejected before storage",
			},
			[]string{"reason"},
		),
		AppendConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "append_conflicts_total",
				Help:      "Path append retries lost to concurrent writers",
			},
			[]string{"workspace_id"},
		),
		PathLength: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "path_length_touchpoints",
				Help:      "Touchpoint count of paths at append time",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50},
			},
			[]string{"workspace_id"},
		),

		// Conversion metrics
		CallsRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_recorded_total",
				Help:      "Total calls recorded by resolution status",
			},
			[]string{"workspace_id", "status"},
		),
		UnattributedConversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unattributed_conversions_total",
				Help:      "Completed calls with no attribution path",
			},
			[]string{"workspace_id"},
		),
		ConversionValue: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversion_value_dollars_total",
				Help:      "Total value of completed calls",
			},
			[]string{"workspace_id"},
		),

		// Reporting metrics
		ReportsGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_generated_total",
				Help:      "Attribution reports generated by model",
			},
			[]string{"model"},
		),
		AggregationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_latency_seconds",
				Help:      "Report aggregation latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"model"},
		),
		AggregationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aggregation_errors_total",
				Help:      "Failed report aggregations",
			},
			[]string{"model", "reason"},
		),

		// System metrics
		GeoLookupLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"found"},
		),
		EventLogFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_log_failures_total",
				Help:      "Best-effort event log writes that failed",
			},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint", "ip"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTouchpoint records an ingested touchpoint and the resulting path size.
func (m *Metrics) RecordTouchpoint(workspaceID, sourceType string, pathLen int) {
	m.TouchpointsIngested.WithLabelValues(workspaceID, sourceType).Inc()
	m.PathLength.WithLabelValues(workspaceID).Observe(float64(pathLen))
}

// RecordDroppedTouchpoint records a touchpoint rejected before storage.
func (m *Metrics) RecordDroppedTouchpoint(reason string) {
	m.TouchpointsDropped.WithLabelValues(reason).Inc()
}

// RecordAppendConflict records a path append that exhausted its retries.
func (m *Metrics) RecordAppendConflict(workspaceID string) {
	m.AppendConflicts.WithLabelValues(workspaceID).Inc()
}

// RecordCall records a resolved call.
func (m *Metrics) RecordCall(workspaceID, status string, value float64) {
	m.CallsRecorded.WithLabelValues(workspaceID, status).Inc()
	if value > 0 {
		m.ConversionValue.WithLabelValues(workspaceID).Add(value)
	}
}

// RecordUnattributedConversion records a completed call with no path.
func (m *Metrics) RecordUnattributedConversion(workspaceID string) {
	m.UnattributedConversions.WithLabelValues(workspaceID).Inc()
}

// RecordReport records a generated report and its latency.
func (m *Metrics) RecordReport(model string, latency time.Duration) {
	m.ReportsGenerated.WithLabelValues(model).Inc()
	m.AggregationLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordAggregationError records a failed aggregation.
func (m *Metrics) RecordAggregationError(model, reason string) {
	m.AggregationErrors.WithLabelValues(model, reason).Inc()
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(found bool, latency time.Duration) {
	label := "false"
	if found {
		label = "true"
	}
	m.GeoLookupLatency.WithLabelValues(label).Observe(latency.Seconds())
}

// RecordEventLogFailure records a best-effort event log write failure.
func (m *Metrics) RecordEventLogFailure() {
	m.EventLogFailures.Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint, ip string) {
	m.RateLimitHits.WithLabelValues(endpoint, ip).Inc()
}
