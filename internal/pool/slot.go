package pool

import (
	"github.com/epool/enginepool/internal/driver"
	"github.com/epool/enginepool/internal/endpoint"
)

// Slot is the pool's per-endpoint bookkeeping record (spec.md §3's
// EndpointSlot): the endpoint descriptor, its cached live connection (nil
// when not yet opened or after a close), a consecutive-failure counter
// reset on successful acquire, and whether the pool spawned and therefore
// owns this backend's process.
type Slot struct {
	Endpoint endpoint.ServerEndpoint
	Command  string // launch command, only meaningful when Embedded

	conn                driver.Conn
	consecutiveFailures int
	Embedded            bool
}

func newSlot(ep endpoint.ServerEndpoint, embedded bool, command string) *Slot {
	return &Slot{Endpoint: ep, Embedded: embedded, Command: command}
}
