package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects counters for the analysis pipeline.
type Metrics struct {
	SubmissionsTotal  prometheus.Counter
	DuplicatesTotal   prometheus.Counter
	AnalysesCompleted prometheus.Counter
	AnalysesFailed    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	InFlight          prometheus.Gauge
	AnalysisDuration  prometheus.Histogram
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "submissions_total",
			Help:      "Number of accepted submissions (new or revived records).",
		}),
		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "duplicate_submissions_total",
			Help:      "Number of submissions dropped because the key was already known.",
		}),
		AnalysesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "analyses_completed_total",
			Help:      "Number of analyses that reached the completed state.",
		}),
		AnalysesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guardian",
			Name:      "analyses_failed_total",
			Help:      "Number of analyses that reached the error state, by failure kind.",
		}, []string{"kind"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "queue_depth",
			Help:      "Number of keys waiting in the processing queue.",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "guardian",
			Name:      "analyses_in_flight",
			Help:      "Whether an analysis is currently in flight (0 or 1).",
		}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guardian",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one sample-and-analyze cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}
