package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		promoValidationsTotal,
		promoDiscountTotal,
	)
}

var (
	promoValidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_validations_total",
			Help: "Promo code validations by outcome (valid or the failure reason).",
		},
		[]string{"outcome"},
	)

	promoDiscountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_discount_total",
			Help: "Total discount granted through applied promo codes, by currency.",
		},
		[]string{"currency"},
	)
)

func IncPromoValidation(outcome string) {
	promoValidationsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddPromoDiscount(currency string, amount float64) {
	promoDiscountTotal.WithLabelValues(norm(currency)).Add(amount)
}
