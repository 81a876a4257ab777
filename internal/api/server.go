// Package api serves a small admin/metrics HTTP surface alongside a running
// pool: status, pool-wide occupancy stats, on-demand health, and Prometheus
// metrics. The pool and executor work with zero HTTP surface wired in; this
// package is optional tooling layered on top, following the teacher's
// internal/api/server.go shape.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/health"
	"github.com/epool/enginepool/internal/pool"
)

// Server is the admin REST API and metrics server.
type Server struct {
	pool        *pool.Pool
	healthCheck *health.Checker
	endpoints   []endpoint.ServerEndpoint
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates a new admin API server backed by a single pool instance.
func NewServer(p *pool.Pool, hc *health.Checker, endpoints []endpoint.ServerEndpoint) *Server {
	return &Server{
		pool:        p,
		healthCheck: hc,
		endpoints:   endpoints,
		startTime:   time.Now(),
	}
}

// Start starts the HTTP API server.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/pools", s.poolsHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] admin API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"num_endpoints":  len(s.endpoints),
	})
}

func (s *Server) poolsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Snapshot())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.healthCheck.CheckAll(s.endpoints)

	allHealthy := true
	for _, st := range statuses {
		if !st.Healthy {
			allHealthy = false
			break
		}
	}

	code := http.StatusOK
	if !allHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    boolToStatus(allHealthy),
		"endpoints": statuses,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
