package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminRequestsTotal) }

var adminRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_requests_total",
		Help: "Admin API requests by endpoint and auth status.",
	},
	[]string{"endpoint", "status"}, // status: 'authorized', 'unauthorized'
)

func IncAdminRequest(endpoint, status string) {
	adminRequestsTotal.WithLabelValues(norm(endpoint), norm(status)).Inc()
}
