// Package metrics exposes Prometheus instrumentation for the scoring
// pipeline. The collector is a plain service object registered on its own
// registry, so tests can construct as many as they like without global
// collisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keyword-engine/internal/models"
	"keyword-engine/internal/ratelimit"
)

// Collector records pipeline outcomes. It satisfies both the cache
// manager's and the engine's recorder interfaces.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups     *prometheus.CounterVec
	limiterDecisions *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
}

// NewCollector creates a collector on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyword_engine_cache_lookups_total",
			Help: "Cache lookups by data type and outcome",
		}, []string{"data_type", "outcome"}),
		limiterDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyword_engine_limiter_decisions_total",
			Help: "Quota admission decisions by operation class and outcome",
		}, []string{"operation_class", "outcome"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyword_engine_upstream_latency_seconds",
			Help:    "Latency of upstream generation and enrichment calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// CacheLookup records one cache lookup outcome.
func (c *Collector) CacheLookup(dt models.DataType, hit bool) {
	c.cacheLookups.WithLabelValues(string(dt), outcome(hit, "hit", "miss")).Inc()
}

// LimiterDecision records one quota admission outcome.
func (c *Collector) LimiterDecision(op ratelimit.OperationClass, allowed bool) {
	c.limiterDecisions.WithLabelValues(string(op), outcome(allowed, "allowed", "denied")).Inc()
}

// UpstreamLatency records the duration of one upstream call.
func (c *Collector) UpstreamLatency(operation string, d time.Duration) {
	c.upstreamLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
