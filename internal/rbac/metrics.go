package rbac

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the permission engine.
type Metrics struct {
	checks      *prometheus.CounterVec
	denials     *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	evictions   prometheus.Counter
	auditDrops  prometheus.Counter
	latency     prometheus.Histogram
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the engine metrics against the provided registerer.
// When the registerer is nil the default Prometheus registerer is used and
// the same collectors are shared process-wide.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rbac_permission_checks_total",
			Help: "Permission checks by resource and outcome.",
		}, []string{"resource", "allowed"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rbac_permission_denials_total",
			Help: "Denied permission checks by reason.",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rbac_cache_hits_total",
			Help: "Decision cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rbac_cache_misses_total",
			Help: "Decision cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rbac_cache_evictions_total",
			Help: "Decision cache entries removed by TTL cleanup or capacity eviction.",
		}),
		auditDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rbac_audit_dropped_total",
			Help: "Audit records dropped because the sink queue was full.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rbac_permission_check_latency_seconds",
			Help:    "End-to-end permission check latency.",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}
	registerer.MustRegister(m.checks, m.denials, m.cacheHits, m.cacheMisses, m.evictions, m.auditDrops, m.latency)
	return m
}

// ObserveCheck records one completed permission check.
func (m *Metrics) ObserveCheck(resource string, decision Decision, elapsed time.Duration) {
	if m == nil {
		return
	}
	allowed := "false"
	if decision.Allowed {
		allowed = "true"
	}
	m.checks.WithLabelValues(resource, allowed).Inc()
	if !decision.Allowed {
		m.denials.WithLabelValues(string(decision.Reason)).Inc()
	}
	m.latency.Observe(elapsed.Seconds())
}

// CacheHit records a decision served from cache.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// CacheMiss records a decision that had to be computed.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// Evicted records entries removed by the janitor or capacity eviction.
func (m *Metrics) Evicted(n int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}

// AuditDropped records an audit record lost to backpressure.
func (m *Metrics) AuditDropped() {
	if m != nil {
		m.auditDrops.Inc()
	}
}
