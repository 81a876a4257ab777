// Package endpoint describes a single remote compute-engine backend.
package endpoint

import (
	"fmt"
	"strings"
)

// DefaultPort is used when a configured endpoint omits a port.
const DefaultPort = 6311

// ServerEndpoint is an immutable descriptor of one backend compute engine.
// Equality and hashing are computed over (Host, Port) only: two endpoints
// differing solely in credentials are considered the same backend, which
// prevents accidental duplicate enrollment of one physical server under
// two different logins.
type ServerEndpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

// New builds a ServerEndpoint, defaulting Port when unset (zero).
func New(host string, port int, username, password string) (ServerEndpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return ServerEndpoint{}, fmt.Errorf("endpoint: host must not be blank")
	}
	if port == 0 {
		port = DefaultPort
	}
	return ServerEndpoint{Host: host, Port: port, Username: username, Password: password}, nil
}

// Key returns the (host, port) identity used for equality and map lookups.
func (e ServerEndpoint) Key() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Equal reports whether two endpoints identify the same backend, ignoring
// credentials.
func (e ServerEndpoint) Equal(other ServerEndpoint) bool {
	return e.Host == other.Host && e.Port == other.Port
}

// NeedsLogin reports whether credentials were configured for this endpoint.
func (e ServerEndpoint) NeedsLogin() bool {
	return e.Username != ""
}

// String renders "host:port" for diagnostics and logging.
func (e ServerEndpoint) String() string {
	return e.Key()
}
