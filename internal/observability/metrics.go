package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// reach update pipeline.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	EventsProduced   prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Reach update outcomes: traced, empty_trace, snap_failed,
	// trace_failed, publish_failed, bad_message.
	ReachUpdates *prometheus.CounterVec

	ReachProcessingDuration prometheus.Histogram

	// WATERS service metrics.
	SnapRequests  *prometheus.CounterVec // labels: outcome={success,not_found,error}
	TraceRequests *prometheus.CounterVec // labels: outcome={success,empty,exhausted,error}
	TraceAttempts prometheus.Histogram

	// Feature service metrics.
	PublishFailures *prometheus.CounterVec // labels: layer={line,centroid,point}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.MessagesConsumed,
		m.EventsProduced,
		m.PipelineRunning,
		m.ReachUpdates,
		m.ReachProcessingDuration,
		m.SnapRequests,
		m.TraceRequests,
		m.TraceAttempts,
		m.PublishFailures,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reach_trace",
			Name:      "messages_consumed_total",
			Help:      "Total update messages read from the source topic.",
		}),
		EventsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "reach_trace",
			Name:      "events_produced_total",
			Help:      "Total result events written to the sink topic.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "reach_trace",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		ReachUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reach_trace",
			Name:      "reach_updates_total",
			Help:      "Reach update cycles by outcome.",
		}, []string{"outcome"}),
		ReachProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reach_trace",
			Name:      "reach_processing_duration_seconds",
			Help:      "Duration of one snap-trace-publish cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SnapRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reach_trace",
			Name:      "snap_requests_total",
			Help:      "Point indexing requests by outcome.",
		}, []string{"outcome"}),
		TraceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reach_trace",
			Name:      "trace_requests_total",
			Help:      "Upstream/downstream trace calls by outcome.",
		}, []string{"outcome"}),
		TraceAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reach_trace",
			Name:      "trace_attempts",
			Help:      "HTTP attempts needed per successful trace call.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10},
		}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reach_trace",
			Name:      "publish_failures_total",
			Help:      "Feature layer upsert failures by layer.",
		}, []string{"layer"}),
	}
}
