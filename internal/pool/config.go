package pool

import (
	"runtime"
	"time"
)

// DefaultFailureBudget is the "three strikes" constant spec.md §9 calls
// out, exposed here as a configurable default rather than hard-coded.
const DefaultFailureBudget = 3

// DefaultEmbeddedProbeAttempts/Interval bound the startup-race retry loop
// spec.md §4.4/§9 prefers over a fixed sleep.
const (
	DefaultEmbeddedProbeAttempts = 30
	DefaultEmbeddedProbeInterval = 200 * time.Millisecond
)

// DefaultCommand is the platform-specific backend executable name, used
// when a configured endpoint doesn't override `command`. Overridable
// process-wide via the ENGINE_COMMAND environment variable (see
// internal/config).
func DefaultCommand() string {
	if runtime.GOOS == "windows" {
		return "Rserve.exe"
	}
	return "Rserve"
}

// EndpointConfig describes one configured backend, the Go shape of
// spec.md §4.4's `<RServer>` entry.
type EndpointConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Embedded bool
	Command  string
}

// Config is the input to NewPool/Instance: the set of backend endpoints
// plus pool-wide defaults.
type Config struct {
	Endpoints []EndpointConfig

	// FailureBudget is the number of consecutive open failures a slot
	// tolerates before it is permanently invalidated. Zero means
	// DefaultFailureBudget.
	FailureBudget int

	// EmbeddedProbeAttempts/Interval bound the bounded-retry loop used to
	// wait for an embedded backend to bind its listening socket. Zero
	// means the package defaults above.
	EmbeddedProbeAttempts int
	EmbeddedProbeInterval time.Duration
}

func (c Config) failureBudget() int {
	if c.FailureBudget > 0 {
		return c.FailureBudget
	}
	return DefaultFailureBudget
}

func (c Config) embeddedProbeAttempts() int {
	if c.EmbeddedProbeAttempts > 0 {
		return c.EmbeddedProbeAttempts
	}
	return DefaultEmbeddedProbeAttempts
}

func (c Config) embeddedProbeInterval() time.Duration {
	if c.EmbeddedProbeInterval > 0 {
		return c.EmbeddedProbeInterval
	}
	return DefaultEmbeddedProbeInterval
}
