package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "corona_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge

	// Load metrics.
	Loads           *prometheus.CounterVec // labels: outcome={success,failure}
	LoadDuration    prometheus.Histogram
	SourceFetch     *prometheus.HistogramVec // labels: source
	SourceFailures  *prometheus.CounterVec   // labels: source, kind
	SourceRows      *prometheus.GaugeVec     // labels: source
	StaleDiscarded  prometheus.Counter
	MergeCollisions prometheus.Counter

	// Dataset shape after normalization.
	Places        prometheus.Gauge
	Entries       prometheus.Gauge
	FilledDays    prometheus.Gauge
	ClampedDeltas prometheus.Gauge
	LastSuccess   prometheus.Gauge

	// Sink metrics.
	SinkWrites *prometheus.CounterVec // labels: sink, outcome={success,error}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all pipeline metrics and registers them with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the refresh loop is active, 0 when shut down.",
		}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Pipeline invocations by outcome.",
		}, []string{"outcome"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of a complete fetch-decode-normalize pass.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		SourceFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of fetching and decoding one source.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Source failures by source and error kind.",
		}, []string{"source", "kind"}),
		SourceRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_entries",
			Help:      "Raw entries decoded from each source in the last successful fetch.",
		}, []string{"source"}),
		StaleDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_discarded_total",
			Help:      "Load results dropped because a newer invocation had already been applied.",
		}),
		MergeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_collisions_total",
			Help:      "Place keys produced by more than one source.",
		}),
		Places: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_places",
			Help:      "Places in the current dataset.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_entries",
			Help:      "Daily entries in the current dataset.",
		}),
		FilledDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_filled_days",
			Help:      "Days synthesized by carry-forward in the current dataset.",
		}),
		ClampedDeltas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_clamped_deltas",
			Help:      "Negative day-over-day deltas clamped to zero in the current dataset.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last applied dataset.",
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Dataset publications by sink and outcome.",
		}, []string{"sink", "outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRunning,
		m.Loads,
		m.LoadDuration,
		m.SourceFetch,
		m.SourceFailures,
		m.SourceRows,
		m.StaleDiscarded,
		m.MergeCollisions,
		m.Places,
		m.Entries,
		m.FilledDays,
		m.ClampedDeltas,
		m.LastSuccess,
		m.SinkWrites,
	}
}
