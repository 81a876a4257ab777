package pool

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	instanceOnce sync.Once
	instance     *Pool
	instanceErr  error
)

// Instance returns the process-wide singleton pool, building it from cfg on
// the first call. Later calls ignore cfg and return the pool already
// built — spec.md's documented "first configuration wins" singleton
// contract. Call NewPool directly instead when an independent, explicitly
// owned pool is wanted (tests, multiple pools in one process).
func Instance(cfg Config) (*Pool, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = NewPool(cfg)
	})
	return instance, instanceErr
}

// resetInstanceForTest clears the package singleton so tests can exercise
// Instance's first-wins behavior in isolation. Test-only.
func resetInstanceForTest() {
	instanceOnce = sync.Once{}
	instance = nil
	instanceErr = nil
}

// registerForShutdown arranges for p to be closed when the process receives
// SIGINT or SIGTERM, mirroring the teacher's main.go graceful-shutdown
// handling but relocated here so any Pool — not just the one main.go
// builds — gets a clean embedded-backend shutdown on exit. The returned
// func stops the signal watcher; it is safe to call multiple times and is
// invoked by Close so an explicit Close doesn't leave a goroutine waiting
// to double-close the pool.
func registerForShutdown(p *Pool) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		select {
		case <-ch:
			p.Close()
		case <-stop:
		}
	}()

	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stop)
		})
	}
}
