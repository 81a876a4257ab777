// Package config loads and hot-reloads enginepool's configuration
// document: a list of server endpoints plus pool-wide defaults, matching
// spec.md §4.4's data model realized over YAML (see SPEC_FULL.md §2).
package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/epool/enginepool/internal/pool"
)

// EnvConfigPointer is the environment variable naming this process's
// configuration document, spec.md §6's per-process configuration pointer.
const EnvConfigPointer = "ENGINEPOOL_CONFIGURATION"

// EnvEngineCommand overrides the default backend executable name for every
// embedded server entry that doesn't set its own command.
const EnvEngineCommand = "ENGINE_COMMAND"

// DefaultFileName is searched on the resource path when EnvConfigPointer is
// unset.
const DefaultFileName = "enginepool.yaml"

// Config is the top-level configuration document for enginepool.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
	Pool    PoolSettings   `yaml:"pool"`
}

// ServerConfig is one configured backend entry, spec.md §4.4's <RServer>.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Embedded bool   `yaml:"embedded"`
	Command  string `yaml:"command"`
}

// PoolSettings carries the pool-wide tunables spec.md §9 documents as
// configurable defaults.
type PoolSettings struct {
	FailureBudget         int           `yaml:"failure_budget"`
	EmbeddedProbeAttempts int           `yaml:"embedded_probe_attempts"`
	EmbeddedProbeInterval time.Duration `yaml:"embedded_probe_interval"`
}

// ToPoolConfig converts the loaded document into a pool.Config.
func (c *Config) ToPoolConfig() pool.Config {
	endpoints := make([]pool.EndpointConfig, len(c.Servers))
	for i, s := range c.Servers {
		endpoints[i] = pool.EndpointConfig{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			Embedded: s.Embedded,
			Command:  s.Command,
		}
	}

	return pool.Config{
		Endpoints:             endpoints,
		FailureBudget:         c.Pool.FailureBudget,
		EmbeddedProbeAttempts: c.Pool.EmbeddedProbeAttempts,
		EmbeddedProbeInterval: c.Pool.EmbeddedProbeInterval,
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, leaving unresolved references untouched.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", pool.ErrConfigInvalid, err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", pool.ErrConfigInvalid, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: validating config: %w", pool.ErrConfigInvalid, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Resolve locates the configuration document: ENGINEPOOL_CONFIGURATION is
// tried first, as a file:// URL (dereferenced directly, no network fetch),
// then as a path relative to the current directory, then as a name searched
// in each directory of resourcePath. When it is unset, each directory in
// resourcePath is searched for DefaultFileName.
func Resolve(resourcePath []string) (string, error) {
	if pointer := os.Getenv(EnvConfigPointer); pointer != "" {
		if u, err := url.Parse(pointer); err == nil && u.Scheme == "file" {
			return u.Path, nil
		}
		if _, err := os.Stat(pointer); err == nil {
			return pointer, nil
		}
		for _, dir := range resourcePath {
			candidate := filepath.Join(dir, pointer)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("config: %s=%q does not resolve to a readable file", EnvConfigPointer, pointer)
	}

	for _, dir := range resourcePath {
		candidate := filepath.Join(dir, DefaultFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("config: %s not found on resource path %v", DefaultFileName, resourcePath)
}

func applyDefaults(cfg *Config) {
	if cfg.Pool.FailureBudget == 0 {
		cfg.Pool.FailureBudget = pool.DefaultFailureBudget
	}
	if cfg.Pool.EmbeddedProbeAttempts == 0 {
		cfg.Pool.EmbeddedProbeAttempts = pool.DefaultEmbeddedProbeAttempts
	}
	if cfg.Pool.EmbeddedProbeInterval == 0 {
		cfg.Pool.EmbeddedProbeInterval = pool.DefaultEmbeddedProbeInterval
	}
	for i, s := range cfg.Servers {
		if s.Port == 0 {
			cfg.Servers[i].Port = 6311
		}
		if s.Command == "" {
			if envCmd := os.Getenv(EnvEngineCommand); envCmd != "" {
				cfg.Servers[i].Command = envCmd
			} else {
				cfg.Servers[i].Command = defaultCommandForOS()
			}
		}
	}
}

func defaultCommandForOS() string {
	if runtime.GOOS == "windows" {
		return "Rserve.exe"
	}
	return "Rserve"
}

func validate(cfg *Config) error {
	for i, s := range cfg.Servers {
		if strings.TrimSpace(s.Host) == "" {
			return fmt.Errorf("server %d: host is required", i)
		}
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("server %d: invalid port %d", i, s.Port)
		}
	}
	if cfg.Pool.FailureBudget < 0 {
		return fmt.Errorf("pool: failure_budget must not be negative")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// new configuration, debounced to coalesce rapid-fire filesystem events.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{path: path, callback: callback, watcher: w, stopCh: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}
	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
