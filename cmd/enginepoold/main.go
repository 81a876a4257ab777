// Command enginepoold is a small demo daemon: it loads the configuration
// document, brings up the singleton pool, and serves the admin/metrics
// HTTP surface until signaled to stop.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/epool/enginepool/internal/api"
	"github.com/epool/enginepool/internal/config"
	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/health"
	"github.com/epool/enginepool/internal/metrics"
	"github.com/epool/enginepool/internal/pool"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("enginepoold starting...")

	configPath, err := config.Resolve([]string{".", "configs"})
	if err != nil {
		log.Fatalf("resolving configuration: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	log.Printf("configuration loaded from %s (%d endpoints)", configPath, len(cfg.Servers))

	m := metrics.New()

	p, err := pool.Instance(cfg.ToPoolConfig())
	if err != nil {
		log.Fatalf("starting pool: %v", err)
	}
	p.SetMetrics(m)

	endpoints := make([]endpoint.ServerEndpoint, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		ep, err := endpoint.New(s.Host, s.Port, s.Username, s.Password)
		if err != nil {
			log.Printf("skipping invalid endpoint %s:%d: %v", s.Host, s.Port, err)
			continue
		}
		endpoints = append(endpoints, ep)
	}

	hc := health.New(m)
	apiServer := api.NewServer(p, hc, endpoints)
	if err := apiServer.Start(8080); err != nil {
		log.Fatalf("starting admin API: %v", err)
	}

	configWatcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		log.Printf("configuration changed on disk; restart to apply (pool endpoints are fixed at startup)")
	})
	if err != nil {
		log.Printf("config hot-reload not available: %v", err)
	}

	log.Printf("enginepoold ready - admin API on :8080")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	p.Close()

	log.Printf("enginepoold stopped")
}
