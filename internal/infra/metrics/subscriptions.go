package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		subscriptionsActive,
		membershipSyncTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of subscriptions expired by the sweep.",
		},
	)

	subscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subscriptions_active",
			Help: "Current number of active subscriptions.",
		},
	)

	membershipSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_sync_total",
			Help: "Channel membership sync attempts by action and result.",
		},
		[]string{"action", "result"}, // action: 'add'/'remove', result: 'ok'/'error'
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func SetSubscriptionsActive(count int) {
	subscriptionsActive.Set(float64(count))
}

func IncMembershipSync(action, result string) {
	membershipSyncTotal.WithLabelValues(norm(action), norm(result)).Inc()
}
