package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchAttemptsTotal counts dispatch attempts by terminal verdict of
	// the attempt (completed, retry, failed, rate_limited, conflict).
	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Total number of call dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// TasksSelected counts tasks admitted into a tick batch.
	TasksSelected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_tasks_selected_total",
			Help: "Total number of due tasks selected for dispatch.",
		},
	)

	// InProgressCalls tracks the in-flight call count observed at tick start.
	InProgressCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_in_progress_calls",
			Help: "Calls currently in progress as seen by the dispatcher.",
		},
	)

	// TickDuration observes wall time per dispatcher tick.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_tick_duration_seconds",
			Help:    "Duration of dispatcher ticks.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
