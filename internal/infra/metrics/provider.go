package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		providerPagesTotal,
		providerLatencyMs,
		rateLimiterWaitMs,
		breakerState,
	)
}

var (
	providerPagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_pages_total",
			Help: "Provider page requests by outcome.",
		},
		[]string{"provider", "outcome"}, // ok, transient, fatal
	)

	providerLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_latency_ms",
			Help:    "Provider page request latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000},
		},
		[]string{"provider"},
	)

	rateLimiterWaitMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_ms",
			Help:    "Time spent waiting for a rate limiter grant.",
			Buckets: []float64{0, 10, 50, 100, 150, 300, 600, 1200, 2500, 5000},
		},
		[]string{"limiter"}, // local, redis
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)
)

func IncProviderPage(provider, outcome string) {
	providerPagesTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func ObserveProviderLatency(provider string, ms int64) {
	providerLatencyMs.WithLabelValues(norm(provider)).Observe(float64(ms))
}

func ObserveLimiterWait(limiter string, ms int64) {
	rateLimiterWaitMs.WithLabelValues(norm(limiter)).Observe(float64(ms))
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(norm(name)).Set(float64(state))
}
