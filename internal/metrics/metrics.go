package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ProviderCalls counts outbound calls by provider operation and outcome
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_calls_total", Help: "Outbound provider calls by operation and outcome."},
		[]string{"operation", "outcome"},
	)
	// ProviderLatency tracks per-attempt latency in milliseconds
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "provider_call_latency_ms", Help: "Provider call latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"operation"},
	)
	// TokenRefreshes counts shipping provider logins
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_token_refreshes_total", Help: "Shipping provider logins by outcome."},
		[]string{"outcome"},
	)

	// SyncRuns counts reconciliation passes by trigger and outcome (ok, errors, skipped)
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_runs_total", Help: "Sync passes by trigger and outcome."},
		[]string{"trigger", "outcome"},
	)
	// SyncOrders counts per-order results of sync passes
	SyncOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sync_orders_total", Help: "Orders touched by sync passes by result."},
		[]string{"result"},
	)
	// SyncDuration records pass durations in seconds
	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "sync_duration_seconds", Help: "Sync pass duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}},
	)

	// WebhookEvents counts inbound webhook events by type and outcome
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_total", Help: "Inbound webhook events by type and outcome."},
		[]string{"event_type", "outcome"},
	)

	// ThrottleDrops counts writes dropped by the client-side budget
	ThrottleDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "throttle_dropped_writes_total", Help: "Writes dropped by the write throttle."},
		[]string{"kind"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ProviderCalls)
		Registry.MustRegister(ProviderLatency)
		Registry.MustRegister(TokenRefreshes)
		Registry.MustRegister(SyncRuns)
		Registry.MustRegister(SyncOrders)
		Registry.MustRegister(SyncDuration)
		Registry.MustRegister(WebhookEvents)
		Registry.MustRegister(ThrottleDrops)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
