// Package metrics registers the Prometheus metrics emitted by the gateway.
// Import this package (via the gateway) to register all metrics before a
// /metrics handler is mounted by the embedding process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts completed dispatches labelled by provider,
	// model, and outcome ("success", "error", "rejected", "cache_hit",
	// "cancelled").
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_dispatches_total",
			Help: "Total number of dispatches processed by the gateway.",
		},
		[]string{"provider", "model", "status"},
	)

	// DispatchDuration observes end-to-end dispatch latency in seconds.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelmux_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// DispatchCostUSD accumulates the computed cost of completed dispatches.
	DispatchCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_dispatch_cost_usd_total",
			Help: "Accumulated dispatch cost in USD.",
		},
		[]string{"provider", "model"},
	)

	// CacheHits and CacheMisses track the response cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelmux_cache_hits_total",
		Help: "Response cache hits.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelmux_cache_misses_total",
		Help: "Response cache misses.",
	})

	// BudgetRejections counts dispatches rejected by the budget gate.
	BudgetRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelmux_budget_rejections_total",
		Help: "Dispatches rejected by the pre-flight budget gate.",
	})

	// FallbackAdvances counts retry-driver advances to the next candidate.
	FallbackAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_fallback_advances_total",
			Help: "Times the retry driver advanced past a failing candidate.",
		},
		[]string{"from_provider", "to_provider"},
	)

	// ProviderErrors counts mapped provider failures by taxonomy code.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_provider_errors_total",
			Help: "Provider errors by taxonomy code.",
		},
		[]string{"provider", "code"},
	)

	// CircuitBreakerState tracks per-provider breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "modelmux_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// RateLimitRejections counts dispatches rejected by the client-side
	// per-provider limiter before reaching the wire.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelmux_rate_limit_rejections_total",
			Help: "Dispatches rejected by the local per-provider rate limiter.",
		},
		[]string{"provider"},
	)
)
