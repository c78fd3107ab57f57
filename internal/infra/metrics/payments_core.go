package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		tierUpgradesTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by method and status (pending/completed/failed).",
		},
		[]string{"method", "status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "Total value of completed payments in major units, labeled by currency.",
		},
		[]string{"currency"},
	)

	tierUpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tier_upgrades_total",
			Help: "Organization tier changes by target tier and source (commit/sweep).",
		},
		[]string{"tier", "source"},
	)
)

func IncPayment(method, status string) {
	paymentsTotal.WithLabelValues(norm(method), norm(status)).Inc()
}

// AddPaymentRevenue records a completed payment; amount is in minor units.
func AddPaymentRevenue(currency string, amountMinor int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amountMinor) / 100)
}

func IncTierUpgrade(tier, source string) {
	tierUpgradesTotal.WithLabelValues(norm(tier), norm(source)).Inc()
}

// RecordSettlement counts a payment that just reached a terminal status.
// source: callback|capture|reconciler
func RecordSettlement(method, status, currency, tier, source string, amountMinor int64) {
	IncPayment(method, status)
	if norm(status) == "completed" {
		AddPaymentRevenue(currency, amountMinor)
		IncTierUpgrade(tier, source)
	}
}
