package driver

import (
	"net"
	"testing"

	"github.com/epool/enginepool/internal/endpoint"
)

func TestIsLocalRecognizesLoopback(t *testing.T) {
	if !IsLocal("localhost") {
		t.Fatal("expected localhost to be local")
	}
	if !IsLocal("127.0.0.1") {
		t.Fatal("expected 127.0.0.1 to be local")
	}
	if IsLocal("compute-backend-7.internal") {
		t.Fatal("expected a remote hostname to not be local")
	}
}

func TestOpenFailsWhenUnreachable(t *testing.T) {
	// Reserve a port and close it immediately so the connect is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	ep, _ := endpoint.New("127.0.0.1", addr.Port, "", "")
	if _, err := Open(ep); err == nil {
		t.Fatal("expected Open against a closed port to fail")
	}
}

func TestValidateNeverPanicsOnUnreachable(t *testing.T) {
	ep, _ := endpoint.New("127.0.0.1", 1, "", "") // port 1 is reserved, should refuse
	if Validate(ep) {
		t.Fatal("expected Validate to report false for an unreachable endpoint")
	}
}
