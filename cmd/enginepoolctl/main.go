// Command enginepoolctl is the operational tool shipped alongside the pool
// library: start or stop embedded backends out-of-process, or validate
// reachability of every configured endpoint.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/epool/enginepool/internal/config"
	"github.com/epool/enginepool/internal/driver"
	"github.com/epool/enginepool/internal/endpoint"
	"github.com/epool/enginepool/internal/pool"
)

// Exit codes, spec.md §6.
const (
	exitOK              = 0
	exitShutdownFailed  = 1
	exitStartupFailed   = 2
	exitPartialFailure  = 3
	exitValidateDown    = 42
)

var (
	flagHost          string
	flagPort          int
	flagUsername      string
	flagPassword      string
	flagConfiguration string
)

func main() {
	root := &cobra.Command{
		Use:   "enginepoolctl",
		Short: "Start, stop, and validate remote compute-engine backends",
	}
	root.PersistentFlags().StringVar(&flagHost, "host", "", "single endpoint host (mutually exclusive with --configuration)")
	root.PersistentFlags().IntVar(&flagPort, "port", 6311, "single endpoint port")
	root.PersistentFlags().StringVar(&flagUsername, "username", "", "single endpoint username")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "single endpoint password")
	root.PersistentFlags().StringVar(&flagConfiguration, "configuration", "", "path to a configuration document describing multiple endpoints")

	root.AddCommand(
		newStartupCmd(),
		newShutdownCmd(),
		newValidateCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(exitStartupFailed)
	}
}

// resolveEndpoints builds the endpoint list from either --configuration or
// the single-endpoint flag set, per spec.md §6.
func resolveEndpoints() ([]config.ServerConfig, error) {
	if flagConfiguration != "" && flagHost != "" {
		return nil, fmt.Errorf("--host and --configuration are mutually exclusive")
	}
	if flagConfiguration != "" {
		cfg, err := config.Load(flagConfiguration)
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		return cfg.Servers, nil
	}
	if flagHost == "" {
		return nil, fmt.Errorf("one of --host or --configuration is required")
	}
	return []config.ServerConfig{{
		Host:     flagHost,
		Port:     flagPort,
		Username: flagUsername,
		Password: flagPassword,
		Embedded: true,
	}}, nil
}

func newStartupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "startup",
		Short: "Spawn the configured backend(s) and wait until reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := resolveEndpoints()
			if err != nil {
				os.Exit(exitStartupFailed)
			}

			failures := 0
			for _, s := range servers {
				ep, err := endpoint.New(s.Host, s.Port, s.Username, s.Password)
				if err != nil {
					log.Printf("[enginepoolctl] %s:%d: %v", s.Host, s.Port, err)
					failures++
					continue
				}

				command := s.Command
				if command == "" {
					command = defaultCommandOverride()
				}

				done, err := driver.Startup(cmd.Context(), ep, command, driver.SSHConfig{})
				if err != nil {
					log.Printf("[enginepoolctl] %s: startup failed: %v", ep, err)
					failures++
					continue
				}

				if !waitReachable(ep, done) {
					log.Printf("[enginepoolctl] %s: did not become reachable", ep)
					failures++
					continue
				}
				log.Printf("[enginepoolctl] %s: started", ep)
			}

			exitForFailures(failures, len(servers), exitStartupFailed)
			return nil
		},
	}
}

func newShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Shut down the configured backend(s)",
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := resolveEndpoints()
			if err != nil {
				os.Exit(exitShutdownFailed)
			}

			failures := 0
			for _, s := range servers {
				ep, err := endpoint.New(s.Host, s.Port, s.Username, s.Password)
				if err != nil {
					log.Printf("[enginepoolctl] %s:%d: %v", s.Host, s.Port, err)
					failures++
					continue
				}
				if err := driver.Shutdown(ep); err != nil {
					log.Printf("[enginepoolctl] %s: shutdown failed: %v", ep, err)
					failures++
					continue
				}
				log.Printf("[enginepoolctl] %s: shut down", ep)
			}

			exitForFailures(failures, len(servers), exitShutdownFailed)
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Report UP/DOWN for every configured endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := resolveEndpoints()
			if err != nil {
				os.Exit(exitValidateDown)
			}

			anyDown := false
			for _, s := range servers {
				ep, err := endpoint.New(s.Host, s.Port, s.Username, s.Password)
				if err != nil {
					fmt.Printf("%s:%d is DOWN\n", s.Host, s.Port)
					anyDown = true
					continue
				}
				up := driver.Validate(ep)
				status := "UP"
				if !up {
					status = "DOWN"
					anyDown = true
				}
				fmt.Printf("%s is %s\n", ep.String(), status)
			}

			if anyDown {
				os.Exit(exitValidateDown)
			}
			return nil
		},
	}
}

func exitForFailures(failures, total int, singleHostCode int) {
	if failures == 0 {
		return
	}
	if total > 1 {
		os.Exit(exitPartialFailure)
	}
	os.Exit(singleHostCode)
}

func defaultCommandOverride() string {
	if v := os.Getenv(config.EnvEngineCommand); v != "" {
		return v
	}
	return pool.DefaultCommand()
}

func waitReachable(ep endpoint.ServerEndpoint, done <-chan int) bool {
	const (
		attempts = 30
		interval = 200 * time.Millisecond
	)
	for i := 0; i < attempts; i++ {
		select {
		case <-done:
			return false
		default:
		}
		if driver.Validate(ep) {
			return true
		}
		time.Sleep(interval)
	}
	return false
}
