package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	// cycleRuns counts reconciliation cycles by outcome. "ok" means the
	// cycle completed its scan; per-topic failures do not fail a cycle.
	cycleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_cycles_total",
			Help: "Total number of reconciliation cycles.",
		},
		[]string{"outcome"},
	)

	// cycleDuration records wall time per cycle.
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// topicFlushes counts per-topic durable submissions by outcome.
	topicFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_topic_flushes_total",
			Help: "Total number of per-topic durable submissions.",
		},
		[]string{"outcome"},
	)

	// pendingMessages gauges the number of pending messages seen by the
	// most recent scan, before any flushing.
	pendingMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_pending_messages",
			Help: "Pending messages found by the most recent scan.",
		},
	)
)

func init() {
	prometheus.MustRegister(cycleRuns, cycleDuration, topicFlushes, pendingMessages)
}
