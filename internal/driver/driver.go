// Package driver connects to, authenticates against, and manages the
// lifecycle of remote compute-engine processes. It wraps internal/wire (the
// "external protocol library" spec.md treats as a given) behind a narrow
// Conn contract so internal/pool and internal/executor depend only on this
// interface, never on wire framing.
package driver

import (
	"fmt"
	"net"
	"time"

	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/wire"
)

// Conn is one open connection to a remote compute engine, as spec.md §3
// describes: isConnected, close, assign, eval, login, needsLogin.
type Conn interface {
	IsConnected() bool
	Close() error
	Assign(name string, v wire.Value) error
	Eval(expr string) (wire.Value, error)
	Login(username, password string) error
	NeedsLogin() bool
	Endpoint() string
}

// DefaultDialTimeout bounds how long Open waits for the TCP handshake.
const DefaultDialTimeout = 10 * time.Second

// Open connects to ep and authenticates if the server requests it. Any
// failure to connect, authenticate, or complete the handshake is returned
// as an error wrapping the underlying wire error; it does not wrap
// pool.ErrConnect, which the pool adds once a slot's failure budget is spent.
func Open(ep endpoint.ServerEndpoint) (Conn, error) {
	addr := net.JoinHostPort(ep.Host, fmt.Sprintf("%d", ep.Port))
	c, err := wire.Dial(addr, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("driver: open %s: %w", ep, err)
	}

	if c.NeedsLogin() {
		if err := c.Login(ep.Username, ep.Password); err != nil {
			c.Close()
			return nil, fmt.Errorf("driver: login to %s: %w", ep, err)
		}
	}
	return c, nil
}

// Shutdown opens a temporary connection to ep, authenticates if required,
// and issues the server-side shutdown command.
func Shutdown(ep endpoint.ServerEndpoint) error {
	conn, err := Open(ep)
	if err != nil {
		return fmt.Errorf("driver: shutdown %s: %w", ep, err)
	}
	defer conn.Close()

	wc, ok := conn.(*wire.Client)
	if !ok {
		return fmt.Errorf("driver: shutdown %s: connection does not support shutdown", ep)
	}
	if err := wc.Shutdown(); err != nil {
		return fmt.Errorf("driver: shutdown %s: %w", ep, err)
	}
	return nil
}

// Validate opens a connection, checks it reports connected, and closes it.
// It never returns an error — a failure to validate is reported as false,
// matching spec.md §4.2's "returns boolean, never throws".
func Validate(ep endpoint.ServerEndpoint) bool {
	conn, err := Open(ep)
	if err != nil {
		return false
	}
	defer conn.Close()
	return conn.IsConnected()
}
