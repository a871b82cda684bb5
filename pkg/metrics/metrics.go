// Package metrics provides Prometheus collectors for the collection
// engine: runs, records, and batches per connector instance.
//
// Metrics are labelled by connector and operation; identity is excluded
// to keep cardinality bounded and tenant handles out of the metrics
// plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts run attempts per connector and operation.
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grove",
			Name:      "runs_started_total",
			Help:      "Number of collection runs started.",
		},
		[]string{"connector", "operation"},
	)

	// RunsFailed counts failed runs, labelled with the error kind.
	RunsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grove",
			Name:      "runs_failed_total",
			Help:      "Number of collection runs which ended in error.",
		},
		[]string{"connector", "operation", "kind"},
	)

	// RunsSkipped counts runs skipped due to lock contention.
	RunsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grove",
			Name:      "runs_skipped_total",
			Help:      "Number of runs skipped because another process holds the lock.",
		},
		[]string{"connector", "operation"},
	)

	// RecordsEmitted counts records made durable in the output backend.
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grove",
			Name:      "records_emitted_total",
			Help:      "Number of records written to the output backend.",
		},
		[]string{"connector", "operation"},
	)

	// BatchesEmitted counts output artifacts written.
	BatchesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "grove",
			Name:      "batches_emitted_total",
			Help:      "Number of output artifacts written.",
		},
		[]string{"connector", "operation"},
	)

	// RunDuration observes wall-clock run duration in seconds.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "grove",
			Name:      "run_duration_seconds",
			Help:      "Duration of collection runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"connector", "operation"},
	)

	// InstancesScheduled tracks the number of instances known to the
	// scheduler.
	InstancesScheduled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "grove",
			Name:      "instances_scheduled",
			Help:      "Number of connector instances currently scheduled.",
		},
	)
)
