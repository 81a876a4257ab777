package wire

import (
	"crypto/subtle"
	"fmt"
	"net"
	"time"
)

const (
	msgHello    = 'H' // server -> client, sent immediately on connect
	msgLogin    = 'L' // client -> server, username + proof
	msgLoginOK  = 'K' // server -> client
	msgAssign   = 'A' // client -> server, name + Value
	msgOK       = 'O' // server -> client
	msgEval     = 'V' // client -> server, expression text
	msgResult   = 'R' // server -> client, Value
	msgShutdown = 'S' // client -> server
	msgError    = 'E' // server -> client
)

const defaultIterations = 4096

// helloFlags bit layout within the server's handshake banner.
const helloAuthRequired = 0x01

// Client is a connection to one remote compute engine. It implements the
// driver.Conn contract (IsConnected, Close, Assign, Eval, Login,
// NeedsLogin) structurally, without importing the driver package.
type Client struct {
	conn         net.Conn
	addr         string
	connected    bool
	authRequired bool
	salt         []byte
	iterations   int
}

// Dial opens a TCP connection to addr and reads the server's handshake
// banner. It does not log in — callers check NeedsLogin and call Login
// when required, matching spec.md's "if server signals needsLogin" flow.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}

	c := &Client{conn: conn, addr: addr}
	if err := c.readHello(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wire: handshake with %s: %w", addr, err)
	}
	c.connected = true
	return c, nil
}

// Endpoint returns the "host:port" address this client is connected to.
func (c *Client) Endpoint() string {
	return c.addr
}

func (c *Client) readHello() error {
	msgType, payload, err := readFrame(c.conn)
	if err != nil {
		return err
	}
	if msgType != msgHello {
		return fmt.Errorf("expected hello frame, got %q", msgType)
	}
	if len(payload) < 9 {
		return fmt.Errorf("truncated hello frame")
	}
	flags := payload[0]
	c.authRequired = flags&helloAuthRequired != 0
	c.iterations = int(beUint32(payload[1:5]))
	saltLen := int(beUint32(payload[5:9]))
	if saltLen < 0 || 9+saltLen > len(payload) {
		return fmt.Errorf("truncated hello salt")
	}
	c.salt = append([]byte(nil), payload[9:9+saltLen]...)
	if c.iterations <= 0 {
		c.iterations = defaultIterations
	}
	return nil
}

// NeedsLogin reports whether the server's handshake requested credentials.
func (c *Client) NeedsLogin() bool {
	return c.authRequired
}

// Login sends the derived proof for (username, password) and waits for the
// server's accept/reject.
func (c *Client) Login(username, password string) error {
	proof := deriveProof(password, c.salt, c.iterations)
	payload := append(encodeString(username), proof...)
	if err := writeFrame(c.conn, msgLogin, payload); err != nil {
		return fmt.Errorf("wire: sending login: %w", err)
	}

	msgType, respPayload, err := readFrame(c.conn)
	if err != nil {
		return fmt.Errorf("wire: reading login response: %w", err)
	}
	switch msgType {
	case msgLoginOK:
		return nil
	case msgError:
		v, _ := Decode(append([]byte{byte(KindError)}, respPayload...))
		return fmt.Errorf("wire: login rejected: %s", v.ErrText)
	default:
		return fmt.Errorf("wire: unexpected login response frame %q", msgType)
	}
}

// VerifyProof checks a submitted login proof against the expected
// derivation. Test fakes of the server side of this protocol (see this
// package's protocol tests) use it to validate credentials without
// duplicating the derivation.
func VerifyProof(got []byte, password string, salt []byte, iterations int) bool {
	want := deriveProof(password, salt, iterations)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IsConnected reports whether the underlying socket is still believed open.
// This is a best-effort, non-blocking check: it does not probe the network.
func (c *Client) IsConnected() bool {
	return c.connected
}

// Assign binds a named value in the remote global environment.
func (c *Client) Assign(name string, v Value) error {
	payload := append(encodeString(name), Encode(v)...)
	if err := writeFrame(c.conn, msgAssign, payload); err != nil {
		c.connected = false
		return fmt.Errorf("wire: sending assign %q: %w", name, err)
	}
	msgType, respPayload, err := readFrame(c.conn)
	if err != nil {
		c.connected = false
		return fmt.Errorf("wire: reading assign response: %w", err)
	}
	if msgType == msgError {
		v, _ := Decode(append([]byte{byte(KindError)}, respPayload...))
		return fmt.Errorf("wire: assign %q failed: %s", name, v.ErrText)
	}
	if msgType != msgOK {
		c.connected = false
		return fmt.Errorf("wire: unexpected assign response frame %q", msgType)
	}
	return nil
}

// Eval evaluates expr in the remote global environment and returns its
// result.
func (c *Client) Eval(expr string) (Value, error) {
	if err := writeFrame(c.conn, msgEval, encodeString(expr)); err != nil {
		c.connected = false
		return Value{}, fmt.Errorf("wire: sending eval: %w", err)
	}
	msgType, payload, err := readFrame(c.conn)
	if err != nil {
		c.connected = false
		return Value{}, fmt.Errorf("wire: reading eval response: %w", err)
	}
	switch msgType {
	case msgResult:
		return Decode(payload)
	case msgError:
		v, _ := Decode(append([]byte{byte(KindError)}, payload...))
		return Value{}, fmt.Errorf("wire: eval failed: %s", v.ErrText)
	default:
		c.connected = false
		return Value{}, fmt.Errorf("wire: unexpected eval response frame %q", msgType)
	}
}

// Shutdown sends the server-side shutdown command. The caller is
// responsible for closing the connection afterward.
func (c *Client) Shutdown() error {
	if err := writeFrame(c.conn, msgShutdown, nil); err != nil {
		return fmt.Errorf("wire: sending shutdown: %w", err)
	}
	return nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	c.connected = false
	return c.conn.Close()
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
