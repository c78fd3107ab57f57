package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		ProviderRequests,
		ProviderRequestDuration,
		PaymentCallbacks,
	)
}

var (
	// Outbound provider calls.
	// provider: mpesa|paypal
	// op: token|stk_push|stk_query|create_order|capture|get_order
	// result: ok|auth_error|request_error
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Outbound payment provider calls by provider, operation and result.",
		},
		[]string{"provider", "op", "result"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Latency of outbound payment provider calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"provider", "op"},
	)

	// Inbound push callbacks.
	// result: completed|failed|duplicate|not_found|invalid|error
	PaymentCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Inbound provider callbacks by handling result.",
		},
		[]string{"provider", "result"},
	)
)

// ObserveProviderCall records one outbound call started at start.
func ObserveProviderCall(provider, op, result string, start time.Time) {
	ProviderRequests.WithLabelValues(norm(provider), norm(op), norm(result)).Inc()
	ProviderRequestDuration.WithLabelValues(norm(provider), norm(op)).Observe(time.Since(start).Seconds())
}

func IncCallback(provider, result string) {
	PaymentCallbacks.WithLabelValues(norm(provider), norm(result)).Inc()
}
