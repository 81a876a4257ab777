// Package metrics exposes the pool's and executor's Prometheus
// instrumentation, following the teacher's registry-per-instance pattern so
// tests and multiple pools never collide on global metric registration.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for enginepool.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive *prometheus.GaugeVec
	connectionsIdle   *prometheus.GaugeVec
	connectionsTotal  *prometheus.GaugeVec
	poolClosed        *prometheus.GaugeVec

	acquireDuration *prometheus.HistogramVec
	acquireTimeouts *prometheus.CounterVec
	connectFailures *prometheus.CounterVec
	invalidations   *prometheus.CounterVec

	scriptDuration *prometheus.HistogramVec
	scriptErrors   *prometheus.CounterVec

	healthCheckDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g. in tests or on config reload) — each
// call creates an independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enginepool_connections_active",
				Help: "Number of checked-out connections per endpoint",
			},
			[]string{"endpoint"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enginepool_connections_idle",
				Help: "Number of idle connections available per endpoint",
			},
			[]string{"endpoint"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enginepool_connections_total",
				Help: "Total enrolled slots (idle + active) per endpoint",
			},
			[]string{"endpoint"},
		),
		poolClosed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enginepool_pool_closed",
				Help: "1 if the pool has closed, 0 otherwise",
			},
			[]string{"pool"},
		),
		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enginepool_acquire_duration_seconds",
				Help:    "Time spent waiting for Pool.Acquire to return a connection",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"endpoint"},
		),
		acquireTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enginepool_acquire_timeouts_total",
				Help: "Number of AcquireTimeout calls that expired without a connection",
			},
			[]string{"pool"},
		),
		connectFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enginepool_connect_failures_total",
				Help: "Failed attempts to open or reopen a connection per endpoint",
			},
			[]string{"endpoint"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enginepool_invalidations_total",
				Help: "Slots permanently invalidated per endpoint",
			},
			[]string{"endpoint"},
		),
		scriptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enginepool_script_duration_seconds",
				Help:    "Duration of executor.Execute calls",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"endpoint"},
		),
		scriptErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enginepool_script_errors_total",
				Help: "Script evaluation errors per endpoint",
			},
			[]string{"endpoint"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enginepool_health_check_duration_seconds",
				Help:    "Duration of on-demand Validate probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"endpoint", "status"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.poolClosed,
		c.acquireDuration,
		c.acquireTimeouts,
		c.connectFailures,
		c.invalidations,
		c.scriptDuration,
		c.scriptErrors,
		c.healthCheckDuration,
	)

	return c
}

// AcquireDuration observes the time spent waiting for Pool.Acquire.
func (c *Collector) AcquireDuration(endpoint string, d time.Duration) {
	c.acquireDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// AcquireTimedOut increments the acquire-timeout counter for a pool.
func (c *Collector) AcquireTimedOut(pool string) {
	c.acquireTimeouts.WithLabelValues(pool).Inc()
}

// ConnectFailed increments the connect-failure counter for an endpoint.
func (c *Collector) ConnectFailed(endpoint string) {
	c.connectFailures.WithLabelValues(endpoint).Inc()
}

// Invalidated increments the invalidation counter for an endpoint.
func (c *Collector) Invalidated(endpoint string) {
	c.invalidations.WithLabelValues(endpoint).Inc()
}

// UpdatePoolStats sets the occupancy gauges for one endpoint.
func (c *Collector) UpdatePoolStats(endpoint string, active, idle, total int) {
	c.connectionsActive.WithLabelValues(endpoint).Set(float64(active))
	c.connectionsIdle.WithLabelValues(endpoint).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(endpoint).Set(float64(total))
}

// SetPoolClosed sets the closed gauge for a named pool.
func (c *Collector) SetPoolClosed(pool string, closed bool) {
	val := 0.0
	if closed {
		val = 1.0
	}
	c.poolClosed.WithLabelValues(pool).Set(val)
}

// ScriptCompleted records an executor.Execute duration and outcome.
func (c *Collector) ScriptCompleted(endpoint string, d time.Duration, err error) {
	c.scriptDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	if err != nil {
		c.scriptErrors.WithLabelValues(endpoint).Inc()
	}
}

// HealthCheckCompleted records an on-demand Validate probe.
func (c *Collector) HealthCheckCompleted(endpoint string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(endpoint, status).Observe(d.Seconds())
}

// RemoveEndpoint deletes all metrics series for an endpoint, used when a
// slot is permanently invalidated and removed from the pool.
func (c *Collector) RemoveEndpoint(endpoint string) {
	c.connectionsActive.DeleteLabelValues(endpoint)
	c.connectionsIdle.DeleteLabelValues(endpoint)
	c.connectionsTotal.DeleteLabelValues(endpoint)
	c.acquireDuration.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
	c.connectFailures.DeleteLabelValues(endpoint)
	c.invalidations.DeleteLabelValues(endpoint)
	c.scriptDuration.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
	c.scriptErrors.DeleteLabelValues(endpoint)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"endpoint": endpoint})
}
