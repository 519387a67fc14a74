// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "valuator"

// Metrics groups every collector the engine updates. A nil *Metrics is valid
// and records nothing, which keeps unit tests free of registry plumbing.
type Metrics struct {
	BranchDegraded    *prometheus.CounterVec
	BranchDuration    *prometheus.HistogramVec
	PriceResolutions  *prometheus.CounterVec
	SnapshotsBuilt    *prometheus.CounterVec
	SnapshotCache     *prometheus.CounterVec
	UpstreamRequests  *prometheus.CounterVec
	UpstreamLatency   *prometheus.HistogramVec
	CircuitState      *prometheus.GaugeVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	PositionsDetected *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them through promhttp.Handler.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BranchDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "branch_degraded_total",
			Help:      "Snapshot fan-out branches that failed or timed out.",
		}, []string{"branch"}),
		BranchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "branch_duration_seconds",
			Help:      "Duration of snapshot fan-out branches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"branch"}),
		PriceResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_resolutions_total",
			Help:      "Resolved prices by source.",
		}, []string{"source"}),
		SnapshotsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_built_total",
			Help:      "Portfolio snapshots built, labeled by whether any branch degraded.",
		}, []string{"degraded"}),
		SnapshotCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_cache_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Outbound requests by upstream and outcome.",
		}, []string{"upstream", "outcome"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Outbound request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"upstream"}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "1 when the upstream's circuit breaker is open.",
		}, []string{"upstream"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		PositionsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_detected_total",
			Help:      "Positions emitted by each detector before merging.",
		}, []string{"detector"}),
	}

	for _, c := range []prometheus.Collector{
		m.BranchDegraded, m.BranchDuration, m.PriceResolutions, m.SnapshotsBuilt,
		m.SnapshotCache, m.UpstreamRequests, m.UpstreamLatency, m.CircuitState,
		m.HTTPRequests, m.HTTPDuration, m.PositionsDetected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveBranch records a fan-out branch's duration and degradation
func (m *Metrics) ObserveBranch(branch string, seconds float64, degraded bool) {
	if m == nil {
		return
	}
	m.BranchDuration.WithLabelValues(branch).Observe(seconds)
	if degraded {
		m.BranchDegraded.WithLabelValues(branch).Inc()
	}
}

// CountPrice records one resolved price
func (m *Metrics) CountPrice(source string) {
	if m == nil {
		return
	}
	m.PriceResolutions.WithLabelValues(source).Inc()
}

// CountSnapshot records a built snapshot
func (m *Metrics) CountSnapshot(degraded bool) {
	if m == nil {
		return
	}
	label := "false"
	if degraded {
		label = "true"
	}
	m.SnapshotsBuilt.WithLabelValues(label).Inc()
}

// CountCache records a snapshot cache hit, miss or error
func (m *Metrics) CountCache(result string) {
	if m == nil {
		return
	}
	m.SnapshotCache.WithLabelValues(result).Inc()
}

// ObserveUpstream records one outbound request
func (m *Metrics) ObserveUpstream(upstream string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.UpstreamRequests.WithLabelValues(upstream, outcome).Inc()
	m.UpstreamLatency.WithLabelValues(upstream).Observe(seconds)
}

// SetCircuitOpen mirrors a breaker's state
func (m *Metrics) SetCircuitOpen(upstream string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitState.WithLabelValues(upstream).Set(v)
}

// ObserveHTTP records an API request
func (m *Metrics) ObserveHTTP(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

// CountPositions records detector output sizes
func (m *Metrics) CountPositions(detector string, n int) {
	if m == nil {
		return
	}
	m.PositionsDetected.WithLabelValues(detector).Add(float64(n))
}
