package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobRuns counts executor passes, including resumed ones.
	JobRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopglot_job_runs_total",
		Help: "Number of job executor passes started.",
	})

	// ItemsProcessed counts items by terminal status.
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopglot_items_processed_total",
		Help: "Number of job items reaching a terminal status.",
	}, []string{"status"})

	// PaidOperations counts successful paid translation operations.
	PaidOperations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopglot_paid_operations_total",
		Help: "Number of successful paid translation operations.",
	})
)
