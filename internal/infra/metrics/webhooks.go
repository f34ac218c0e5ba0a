package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		WebhookRequests,
		WebhookDuration,
		NotificationDMTotal,
	)
}

var (
	// Count of webhook calls grouped by provider, result and bounded reason.
	// result: ok|fail
	// reason (fail only): bad_signature|bad_payload|rate_limited|locked|unknown
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_requests_total",
			Help: "Count of payment webhook calls by provider, result and reason.",
		},
		[]string{"provider", "result", "reason"},
	)

	// Latency of webhook handlers grouped by provider.
	WebhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_webhook_duration_seconds",
			Help:    "Duration of payment webhook handlers in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"provider"},
	)

	// Telegram DM attempts grouped by kind and status.
	// kind: payment_success|payment_failed|expiry_warning|expired
	// status: sent|error
	NotificationDMTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dm_total",
			Help: "Telegram DMs to users by kind and delivery status.",
		},
		[]string{"kind", "status"},
	)
)
