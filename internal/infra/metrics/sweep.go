package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		sweepRunsTotal,
		sweepDuration,
	)
}

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Reconciliation sweep task runs by task and result.",
		},
		[]string{"task", "result"}, // task: 'expire'/'warn'/'drift'/'reconcile_payments'
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of one sweep task run in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"task"},
	)
)

func IncSweepRun(task, result string) {
	sweepRunsTotal.WithLabelValues(norm(task), norm(result)).Inc()
}

func ObserveSweepDuration(task string, seconds float64) {
	sweepDuration.WithLabelValues(norm(task)).Observe(seconds)
}
