package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/health"
	"github.com/epool/enginepool/internal/pool"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	p, err := pool.NewPool(pool.Config{})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(p.Close)

	ep, err := endpoint.New("127.0.0.1", 1, "", "")
	if err != nil {
		t.Fatalf("endpoint.New: %v", err)
	}

	s := NewServer(p, health.New(nil), []endpoint.ServerEndpoint{ep})

	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.poolsHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	return s, httptest.NewServer(r)
}

func TestStatusHandlerReportsUptimeAndEndpointCount(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["num_endpoints"] != float64(1) {
		t.Errorf("expected num_endpoints=1, got %v", body["num_endpoints"])
	}
}

func TestPoolsHandlerReturnsSnapshot(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/pools")
	if err != nil {
		t.Fatalf("GET /pools: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealthHandlerReportsUnhealthyForUnreachableEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("expected status=unhealthy, got %v", body["status"])
	}
}
