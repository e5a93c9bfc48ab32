package syncsvc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "sync_runs_total",
			Help:      "Per-user sync attempts by outcome.",
		},
		[]string{"status"},
	)

	syncedRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "synced_records_total",
			Help:      "Persisted records fed into short-term buffers.",
		},
	)

	longTermWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "companion_memory",
			Name:      "sync_longterm_write_failures_total",
			Help:      "Records whose long-term mirror failed during sync.",
		},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "companion_memory",
			Name:      "sync_duration_seconds",
			Help:      "Wall time of one per-user sync pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
