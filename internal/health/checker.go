// Package health provides on-demand endpoint validation: no background
// polling, matching spec.md's explicit non-goal of health probing beyond
// acquisition-time checks. It is used by the admin /health route; the CLI's
// validate command calls driver.Validate directly.
package health

import (
	"time"

	"github.com/epool/enginepool/internal/driver"
	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/metrics"
)

// Status is the outcome of a single on-demand validation probe.
type Status struct {
	Endpoint string        `json:"endpoint"`
	Healthy  bool          `json:"healthy"`
	Duration time.Duration `json:"duration"`
}

// Checker runs on-demand validation probes against a fixed set of
// endpoints, recording results via metrics when attached.
type Checker struct {
	metrics *metrics.Collector
}

// New builds a Checker. Pass nil to skip metrics recording.
func New(m *metrics.Collector) *Checker {
	return &Checker{metrics: m}
}

// Check validates a single endpoint and records the outcome.
func (c *Checker) Check(ep endpoint.ServerEndpoint) Status {
	start := time.Now()
	healthy := driver.Validate(ep)
	d := time.Since(start)

	if c.metrics != nil {
		c.metrics.HealthCheckCompleted(ep.String(), d, healthy)
	}
	return Status{Endpoint: ep.String(), Healthy: healthy, Duration: d}
}

// CheckAll validates every endpoint in eps, in order.
func (c *Checker) CheckAll(eps []endpoint.ServerEndpoint) []Status {
	results := make([]Status, len(eps))
	for i, ep := range eps {
		results[i] = c.Check(ep)
	}
	return results
}
