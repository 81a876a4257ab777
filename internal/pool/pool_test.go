package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/epool/enginepool/internal/driver"
	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/wire"
)

// fakeConn is a driver.Conn test double, standing in for a real wire.Client
// dial so pool tests never touch the network.
type fakeConn struct {
	mu        sync.Mutex
	connected bool
	closed    bool
}

func newFakeConn() *fakeConn { return &fakeConn{connected: true} }

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}
func (f *fakeConn) Assign(name string, v wire.Value) error { return nil }
func (f *fakeConn) Eval(expr string) (wire.Value, error)   { return wire.StringValue(""), nil }
func (f *fakeConn) Login(username, password string) error  { return nil }
func (f *fakeConn) NeedsLogin() bool                        { return false }
func (f *fakeConn) Endpoint() string                        { return "fake:0" }

func testConfig(n int) Config {
	eps := make([]EndpointConfig, n)
	for i := range eps {
		eps[i] = EndpointConfig{Host: "127.0.0.1", Port: 6311 + i}
	}
	return Config{Endpoints: eps}
}

// newTestPool builds a pool whose open/shutdown/validate never touch the
// network, always succeeding unless failNext reports otherwise.
func newTestPool(t *testing.T, n int, failNext func(endpoint.ServerEndpoint) bool) *Pool {
	t.Helper()
	open := func(ep endpoint.ServerEndpoint) (driver.Conn, error) {
		if failNext != nil && failNext(ep) {
			return nil, errors.New("simulated connect failure")
		}
		return newFakeConn(), nil
	}
	shutdown := func(ep endpoint.ServerEndpoint) error { return nil }
	validate := func(ep endpoint.ServerEndpoint) bool { return true }

	p, err := newPool(testConfig(n), open, shutdown, validate)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}
	return p
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := newTestPool(t, 1, nil)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	if err != nil || conn == nil {
		t.Fatalf("acquire: conn=%v err=%v", conn, err)
	}
	if p.Active() != 1 || p.Idle() != 0 {
		t.Fatalf("expected active=1 idle=0, got active=%d idle=%d", p.Active(), p.Idle())
	}

	if err := p.Release(conn); err != nil {
		t.Fatalf("release: %v", err)
	}
	if p.Active() != 0 || p.Idle() != 1 {
		t.Fatalf("expected active=0 idle=1 after release, got active=%d idle=%d", p.Active(), p.Idle())
	}
}

func TestEmptyConfigurationClosesImmediately(t *testing.T) {
	p, err := newPool(Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}
	if !p.IsClosed() {
		t.Fatal("expected pool with zero endpoints to be closed")
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestDoubleCloseIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1, nil)
	p.Close()
	p.Close() // must not panic or block

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after close, got %v", err)
	}
	if err := p.Release(nil); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed from release on closed pool, got %v", err)
	}
}

func TestInvalidateRemovesSlotPermanently(t *testing.T) {
	p := newTestPool(t, 2, nil)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := p.Invalidate(conn); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if p.Total() != 1 {
		t.Fatalf("expected total=1 after invalidate, got %d", p.Total())
	}
}

func TestReleaseForeignConnectionIsNotOwned(t *testing.T) {
	p := newTestPool(t, 1, nil)
	defer p.Close()

	if err := p.Release(nil); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned for nil release, got %v", err)
	}
	if err := p.Release(newFakeConn()); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned for foreign connection, got %v", err)
	}
}

func TestFailureBudgetInvalidatesSlot(t *testing.T) {
	attempts := 0
	p := newTestPool(t, 1, func(endpoint.ServerEndpoint) bool {
		attempts++
		return true // every open attempt fails
	})
	defer p.Close()
	p.cfg.FailureBudget = 2

	_, err := p.Acquire(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("expected ErrConnect, got %v", err)
	}
	if !p.IsClosed() {
		t.Fatal("expected pool to close once its only slot is invalidated")
	}
	if attempts != 3 { // initial try + 2 budgeted retries
		t.Fatalf("expected 3 open attempts, got %d", attempts)
	}
}

func TestAcquireTimeoutReturnsNilNilOnExpiry(t *testing.T) {
	p := newTestPool(t, 1, nil)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = conn // leave the only slot checked out

	start := time.Now()
	got, err := p.AcquireTimeout(50 * time.Millisecond)
	if got != nil || err != nil {
		t.Fatalf("expected (nil, nil) on timeout, got conn=%v err=%v", got, err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("returned before the timeout elapsed")
	}
}

func TestAcquireSurfacesExplicitCancellation(t *testing.T) {
	p := newTestPool(t, 1, nil)
	defer p.Close()

	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := newTestPool(t, 3, nil)
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := p.AcquireTimeout(time.Second)
			if err != nil || conn == nil {
				t.Errorf("acquire: conn=%v err=%v", conn, err)
				return
			}
			time.Sleep(time.Millisecond)
			if err := p.Release(conn); err != nil {
				t.Errorf("release: %v", err)
			}
		}()
	}
	wg.Wait()

	if p.Active() != 0 {
		t.Fatalf("expected active=0 once all goroutines finish, got %d", p.Active())
	}
	if p.Total() != 3 {
		t.Fatalf("expected total=3, got %d", p.Total())
	}
}

func TestAcquireClosedDuringInFlightObtainReturnsPoolClosed(t *testing.T) {
	releaseOpen := make(chan struct{})
	openStarted := make(chan struct{}, 1)

	var opened *fakeConn
	open := func(ep endpoint.ServerEndpoint) (driver.Conn, error) {
		openStarted <- struct{}{}
		<-releaseOpen
		opened = newFakeConn()
		return opened, nil
	}
	shutdown := func(ep endpoint.ServerEndpoint) error { return nil }
	validate := func(ep endpoint.ServerEndpoint) bool { return true }

	p, err := newPool(testConfig(1), open, shutdown, validate)
	if err != nil {
		t.Fatalf("newPool: %v", err)
	}

	type acquireResult struct {
		conn driver.Conn
		err  error
	}
	resultCh := make(chan acquireResult, 1)
	go func() {
		conn, err := p.Acquire(context.Background())
		resultCh <- acquireResult{conn, err}
	}()

	<-openStarted // slot is dequeued from idle, obtain() is in flight
	p.Close()
	close(releaseOpen) // let obtain() finish now that the pool has closed

	res := <-resultCh
	if !errors.Is(res.err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed for a slot that finished opening after Close, got conn=%v err=%v", res.conn, res.err)
	}
	if res.conn != nil {
		t.Fatal("expected no connection handed back once the pool closed mid-acquire")
	}
	if opened != nil && opened.IsConnected() {
		t.Fatal("expected the freshly-opened connection to be closed, not leaked")
	}
}

func TestInstanceSingletonFirstConfigWins(t *testing.T) {
	resetInstanceForTest()
	defer resetInstanceForTest()

	p1, err := Instance(testConfig(1))
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	p2, err := Instance(testConfig(5))
	if err != nil {
		t.Fatalf("Instance: %v", err)
	}
	if p1 != p2 {
		t.Fatal("expected Instance to return the same pool on subsequent calls")
	}
	if p1.Total() != 1 {
		t.Fatalf("expected first configuration (1 endpoint) to win, got total=%d", p1.Total())
	}
	p1.Close()
}
