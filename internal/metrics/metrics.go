package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine, upstream, and cache counters/histograms. Upstream metrics are
// partitioned by endpoint so per-tick flakiness is visible separately from
// epoch listing failures.

var (
	// Upstream access layer
	UpstreamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Total upstream archive calls",
	}, []string{"endpoint", "status"})

	UpstreamCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adapter",
		Subsystem: "upstream",
		Name:      "call_duration_seconds",
		Help:      "Upstream archive call duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	UpstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Total upstream retries after rate-limit backoff",
	}, []string{"endpoint"})

	UpstreamRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "upstream",
		Name:      "rate_limit_waits_total",
		Help:      "Times the client-side token bucket delayed a call",
	})

	UpstreamBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "adapter",
		Subsystem: "upstream",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// Cache store
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache hits by entry kind",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache misses by entry kind",
	}, []string{"kind"})

	CacheSingleflightShared = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "cache",
		Name:      "singleflight_shared_total",
		Help:      "Loads deduplicated by the in-flight request map",
	})

	// Resolution engine
	EngineOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Outward engine operations",
	}, []string{"operation", "status"})

	EngineOperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adapter",
		Subsystem: "engine",
		Name:      "operation_duration_seconds",
		Help:      "Outward engine operation duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	EngineFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "engine",
		Name:      "fallbacks_total",
		Help:      "Degraded fallbacks taken inside locators and selectors",
	}, []string{"stage"})

	EngineBinarySearchProbes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "adapter",
		Subsystem: "engine",
		Name:      "binary_search_probes",
		Help:      "Page probes per tick locator binary search",
		Buckets:   []float64{1, 2, 4, 6, 8, 12, 18},
	})

	// API layer
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests served",
	}, []string{"route", "code"})

	APIRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adapter",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"route"})

	APIRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adapter",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client token bucket",
	})
)
