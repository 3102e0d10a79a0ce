package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the aggregator counters as Prometheus collectors
type Metrics struct {
	registry       prometheus.Registerer
	received       prometheus.Counter
	unique         prometheus.Counter
	duplicate      prometheus.Counter
	failed         prometheus.Counter
	insertDuration prometheus.Histogram
}

// NewMetrics registers the aggregator collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		received: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_events_received_total",
			Help: "Events accepted by the ingestion queue, duplicates included",
		}),
		unique: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_events_unique_processed_total",
			Help: "Events inserted into the dedup store for the first time",
		}),
		duplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_events_duplicate_dropped_total",
			Help: "Events dropped because their dedup key was already stored",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_events_failed_total",
			Help: "Events given up on after exhausting store retries",
		}),
		insertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregator_store_insert_duration_seconds",
			Help:    "Duration of a single dedup store insert attempt",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// TrackQueueDepth exposes the ingestion queue length as a gauge
func (m *Metrics) TrackQueueDepth(depth func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "aggregator_queue_depth",
		Help: "Events waiting in the ingestion queue",
	}, func() float64 {
		return float64(depth())
	})
}
