package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		outboxEventsTotal,
		reconcilerRunsTotal,
		cacheRequestsTotal,
		dbPoolStats,
		buildInfo,
	)
}

var (
	outboxEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Outbox events by routing key and delivery status (enqueued/published/failed).",
		},
		[]string{"routing_key", "status"},
	)

	reconcilerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_payments_total",
			Help: "Stale payments examined by the reconciler, by resolved outcome.",
		},
		[]string{"outcome"}, // success|failure|pending|error
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache hits and misses for provider tokens and organization lookups.",
		},
		[]string{"cache", "result"},
	)

	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // total|idle|in_use
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "A constant metric with labels for version and commit hash.",
		},
		[]string{"version", "commit"},
	)
)

func IncOutboxEvent(routingKey, status string) {
	outboxEventsTotal.WithLabelValues(norm(routingKey), norm(status)).Inc()
}

func IncReconciled(outcome string) {
	reconcilerRunsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}
