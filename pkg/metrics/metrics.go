// Package metrics exposes Prometheus instrumentation for the optimizer.
// All record methods are safe to call on a nil *Metrics so instrumentation
// can be left unwired in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the optimizer reports.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	queriesTotal   *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	rewritesTotal  *prometheus.CounterVec
	patternsActive prometheus.Gauge

	cyclesTotal   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	actionsTotal  *prometheus.CounterVec
}

// New creates a Metrics with all collectors registered on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dbopt"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Query cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Query cache misses.",
		}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries run through the optimization engine, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time of optimized query execution.",
			Buckets:   prometheus.DefBuckets,
		}),
		rewritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Applied query rewrites, by kind.",
		}, []string{"kind"}),
		patternsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "patterns_active",
			Help:      "Query patterns currently tracked.",
		}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Optimization cycles, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of full optimization cycles.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Executed plan actions, by type and status.",
		}, []string{"type", "status"}),
	}

	reg.MustRegister(
		m.cacheHits, m.cacheMisses,
		m.queriesTotal, m.queryDuration, m.rewritesTotal, m.patternsActive,
		m.cyclesTotal, m.cycleDuration, m.actionsTotal,
	)
	return m
}

// Registry exposes the underlying registry for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// Query records one engine run. Outcome is "ok", "cached", "rejected" or
// "error".
func (m *Metrics) Query(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(seconds)
}

func (m *Metrics) Rewrite(kind string) {
	if m != nil {
		m.rewritesTotal.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetActivePatterns(n int) {
	if m != nil {
		m.patternsActive.Set(float64(n))
	}
}

// Cycle records one control-loop cycle. Outcome is "ok", "error" or "busy".
func (m *Metrics) Cycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
	if outcome != "busy" {
		m.cycleDuration.Observe(seconds)
	}
}

func (m *Metrics) Action(actionType, status string) {
	if m != nil {
		m.actionsTotal.WithLabelValues(actionType, status).Inc()
	}
}
