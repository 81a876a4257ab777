// Package pool implements the bounded, thread-safe connection pool spec.md
// describes: a fixed set of endpoints, blocking/timed acquisition, LIFO
// release, tail-rotation on failure, permanent invalidation past a failure
// budget, and graceful close with embedded-backend shutdown.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/epool/enginepool/internal/driver"
	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/metrics"
)

// openFunc/shutdownFunc/validateFunc let tests substitute a fake backend
// for the real driver package, the way the teacher's InjectTestConn
// bypasses dial+auth in tests without touching the pool's acquire/release
// logic.
type openFunc func(endpoint.ServerEndpoint) (driver.Conn, error)
type shutdownFunc func(endpoint.ServerEndpoint) error
type validateFunc func(endpoint.ServerEndpoint) bool

// Pool is the shared connection pool over a fixed set of endpoints.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	idle   []*Slot
	active map[driver.Conn]*Slot
	total  int
	closed bool

	cfg Config

	open     openFunc
	shutdown shutdownFunc
	validate validateFunc

	metrics *metrics.Collector

	unregisterAtExit func()
}

// NewPool builds a Pool from cfg, enrolling each configured endpoint as a
// Slot. Embedded endpoints are started via driver.Startup and probed with a
// bounded retry loop before being enrolled. If zero slots are successfully
// enrolled, the returned pool is already closed (spec.md §4.4).
func NewPool(cfg Config) (*Pool, error) {
	return newPool(cfg, driver.Open, driver.Shutdown, driver.Validate)
}

func newPool(cfg Config, open openFunc, shutdown shutdownFunc, validate validateFunc) (*Pool, error) {
	p := &Pool{
		idle:     make([]*Slot, 0, len(cfg.Endpoints)),
		active:   make(map[driver.Conn]*Slot),
		cfg:      cfg,
		open:     open,
		shutdown: shutdown,
		validate: validate,
	}
	p.cond = sync.NewCond(&p.mu)

	for _, ec := range cfg.Endpoints {
		ep, err := endpoint.New(ec.Host, ec.Port, ec.Username, ec.Password)
		if err != nil {
			slog.Warn("skipping invalid endpoint", "host", ec.Host, "err", err)
			continue
		}

		command := ec.Command
		if command == "" {
			command = DefaultCommand()
		}

		if ec.Embedded {
			if err := p.startEmbedded(ep, command); err != nil {
				slog.Warn("embedded backend failed to start, not enrolling", "endpoint", ep.String(), "err", err)
				continue
			}
		}

		slot := newSlot(ep, ec.Embedded, command)
		p.idle = append(p.idle, slot) // first-time enrollment: tail insertion
		p.total++
	}

	if p.total == 0 {
		p.closed = true
		slog.Warn("pool configured with zero enrolled endpoints, closed")
		return p, nil
	}

	p.unregisterAtExit = registerForShutdown(p)
	return p, nil
}

// SetMetrics attaches a metrics collector; nil detaches it. Must be called
// before concurrent use begins.
func (p *Pool) SetMetrics(m *metrics.Collector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

func (p *Pool) startEmbedded(ep endpoint.ServerEndpoint, command string) error {
	ctx, cancel := context.WithCancel(context.Background())

	done, err := driver.Startup(ctx, ep, command, driver.SSHConfig{})
	if err != nil {
		cancel()
		return fmt.Errorf("starting embedded backend %s: %w", ep, err)
	}

	attempts := p.cfg.embeddedProbeAttempts()
	interval := p.cfg.embeddedProbeInterval()
	for i := 0; i < attempts; i++ {
		select {
		case code := <-done:
			cancel()
			return fmt.Errorf("embedded backend %s exited early with code %d", ep, code)
		default:
		}
		if p.validate(ep) {
			// The backend keeps running after enrollment; its context is
			// released once the process exits (e.g. after Close's shutdown).
			go func() {
				<-done
				cancel()
			}()
			return nil
		}
		time.Sleep(interval)
	}
	cancel()
	return fmt.Errorf("embedded backend %s did not become reachable after %d probes", ep, attempts)
}

// Acquire blocks until a connection is available, the context is done, or
// the pool closes. A deadline that simply expires returns (nil, nil) — the
// spec's "null on timeout" — while an explicit cancellation surfaces the
// context's error.
func (p *Pool) Acquire(ctx context.Context) (driver.Conn, error) {
	start := time.Now()
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-stopWatch:
		}
	}()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			if err == context.DeadlineExceeded {
				return nil, nil
			}
			return nil, err
		}

		if len(p.idle) > 0 {
			slot := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()

			conn, err := p.obtain(slot)

			p.mu.Lock()
			if err == nil {
				if p.closed {
					p.mu.Unlock()
					conn.Close()
					return nil, ErrPoolClosed
				}
				slot.consecutiveFailures = 0
				p.active[conn] = slot
				p.mu.Unlock()
				if p.metrics != nil {
					endpointLabel := slot.Endpoint.String()
					p.metrics.AcquireDuration(endpointLabel, time.Since(start))
					p.metrics.UpdatePoolStats(endpointLabel, 1, 0, 1)
				}
				return conn, nil
			}

			if p.metrics != nil {
				p.metrics.ConnectFailed(slot.Endpoint.String())
			}
			slot.consecutiveFailures++
			if slot.consecutiveFailures > p.cfg.failureBudget() {
				endpointLabel := slot.Endpoint.String()
				p.removeSlotLocked(slot)
				p.mu.Unlock()
				if p.metrics != nil {
					p.metrics.Invalidated(endpointLabel)
				}
				return nil, fmt.Errorf("%w: %s: %v", ErrConnect, endpointLabel, err)
			}
			// Failure rotation: tail insertion so a flaky backend doesn't
			// monopolize the head and healthy backends still get tried.
			p.idle = append(p.idle, slot)
			continue
		}

		p.cond.Wait()
	}
}

// AcquireTimeout is the timed variant of Acquire: it returns (nil, nil) if
// no connection becomes available within d.
func (p *Pool) AcquireTimeout(d time.Duration) (driver.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	conn, err := p.Acquire(ctx)
	if conn == nil && err == nil && p.metrics != nil {
		p.metrics.AcquireTimedOut("default")
	}
	return conn, err
}

// obtain returns a usable connection for slot: reusing its cached handle if
// still connected, otherwise opening a fresh one.
func (p *Pool) obtain(slot *Slot) (driver.Conn, error) {
	p.mu.Lock()
	cached := slot.conn
	p.mu.Unlock()

	if cached != nil && cached.IsConnected() {
		return cached, nil
	}

	conn, err := p.open(slot.Endpoint)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	slot.conn = conn
	p.mu.Unlock()
	return conn, nil
}

// removeSlotLocked permanently invalidates slot: it must not already be in
// idle or active. Caller holds p.mu.
func (p *Pool) removeSlotLocked(slot *Slot) {
	if slot.conn != nil {
		slot.conn.Close()
		slot.conn = nil
	}
	p.total--
	if p.metrics != nil {
		p.metrics.RemoveEndpoint(slot.Endpoint.String())
	}
	if p.total == 0 {
		p.closeLocked()
	}
}

// Release returns a connection to the pool's idle set, head-first (LIFO)
// so a recently released, still-warm connection is the most likely one
// handed out next.
func (p *Pool) Release(conn driver.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	slot, ok := p.active[conn]
	if !ok {
		return ErrNotOwned
	}
	delete(p.active, conn)

	p.idle = append([]*Slot{slot}, p.idle...)
	p.cond.Signal()
	if p.metrics != nil {
		p.metrics.UpdatePoolStats(slot.Endpoint.String(), 0, 1, 1)
	}
	return nil
}

// Invalidate removes conn from the pool permanently: it is closed and its
// slot is discarded, decrementing total. If total reaches zero the pool
// closes.
func (p *Pool) Invalidate(conn driver.Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	slot, ok := p.active[conn]
	if !ok {
		return ErrNotOwned
	}
	delete(p.active, conn)
	endpointLabel := slot.Endpoint.String()
	p.removeSlotLocked(slot)
	p.cond.Broadcast()
	if p.metrics != nil {
		p.metrics.Invalidated(endpointLabel)
	}
	return nil
}

// Close shuts the pool down: idempotent, drains both containers, and
// best-effort sends the shutdown command to every embedded endpoint.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *Pool) closeLocked() {
	if p.closed {
		return
	}
	p.closed = true

	all := make([]*Slot, 0, len(p.idle)+len(p.active))
	all = append(all, p.idle...)
	for _, slot := range p.active {
		all = append(all, slot)
	}

	for _, slot := range all {
		if slot.conn != nil {
			slot.conn.Close()
			slot.conn = nil
		}
		if slot.Embedded {
			if err := p.shutdown(slot.Endpoint); err != nil {
				slog.Warn("shutdown of embedded backend failed during close", "endpoint", slot.Endpoint.String(), "err", err)
			}
		}
	}

	p.idle = nil
	p.active = make(map[driver.Conn]*Slot)
	p.total = 0
	p.cond.Broadcast()

	if p.metrics != nil {
		for _, slot := range all {
			p.metrics.RemoveEndpoint(slot.Endpoint.String())
		}
		p.metrics.SetPoolClosed("default", true)
	}
	if p.unregisterAtExit != nil {
		p.unregisterAtExit()
	}
}

// Reopen closes the pool and rebuilds it from the original configuration.
func (p *Pool) Reopen() error {
	p.Close()

	fresh, err := newPool(p.cfg, p.open, p.shutdown, p.validate)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle = fresh.idle
	p.active = fresh.active
	p.total = fresh.total
	p.closed = fresh.closed
	p.unregisterAtExit = fresh.unregisterAtExit
	return nil
}

// Total returns the current number of valid slots (idle + active).
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Active returns the number of currently checked-out connections.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Idle returns the number of connections currently available to acquire.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// IsClosed reports whether the pool has closed.
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats is a point-in-time snapshot of pool occupancy, for metrics/API use.
type Stats struct {
	Total  int
	Active int
	Idle   int
	Closed bool
}

// Snapshot returns a consistent Stats reading under a single lock
// acquisition, avoiding the torn read that computing idle as
// total-minus-active from separate accessor calls would risk.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Total: p.total, Active: len(p.active), Idle: len(p.idle), Closed: p.closed}
}
