package metrics

import "github.com/prometheus/client_golang/prometheus"

// CacheMetrics covers the content-for-screen cache and its circuit breaker.
type CacheMetrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Errors        *prometheus.CounterVec
	Invalidations prometheus.Counter
	BreakerState  prometheus.Gauge
}

func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content_cache",
			Name:      "hits_total",
			Help:      "Content-for-screen lookups served from Redis.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content_cache",
			Name:      "misses_total",
			Help:      "Content-for-screen lookups that fell through to the store.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content_cache",
			Name:      "errors_total",
			Help:      "Redis cache errors, by operation.",
		}, []string{"op"}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content_cache",
			Name:      "invalidations_total",
			Help:      "Cache invalidations after assignment changes.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "circuit_breaker_state",
			Help:      "Redis circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
	}

	reg.MustRegister(m.Hits, m.Misses, m.Errors, m.Invalidations, m.BreakerState)
	return m
}
