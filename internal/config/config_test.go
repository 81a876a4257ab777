package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
servers:
  - host: localhost
    port: 6311
    username: alice
    password: secret
pool:
  failure_budget: 5
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(cfg.Servers))
	}
	if cfg.Servers[0].Host != "localhost" || cfg.Servers[0].Port != 6311 {
		t.Errorf("unexpected server: %+v", cfg.Servers[0])
	}
	if cfg.Pool.FailureBudget != 5 {
		t.Errorf("expected failure_budget=5, got %d", cfg.Pool.FailureBudget)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("TEST_DB_PASSWORD", "secret123")
	defer os.Unsetenv("TEST_DB_PASSWORD")

	yaml := `
servers:
  - host: localhost
    username: alice
    password: ${TEST_DB_PASSWORD}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Servers[0].Password != "secret123" {
		t.Errorf("expected password secret123, got %s", cfg.Servers[0].Password)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing host", "servers:\n  - port: 6311\n"},
		{"invalid port", "servers:\n  - host: localhost\n    port: 99999\n"},
		{"negative failure budget", "servers:\n  - host: localhost\npool:\n  failure_budget: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.yaml)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	yaml := `
servers:
  - host: localhost
    embedded: true
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Servers[0].Port != 6311 {
		t.Errorf("expected default port 6311, got %d", cfg.Servers[0].Port)
	}
	if cfg.Servers[0].Command == "" {
		t.Error("expected a default command for an embedded server")
	}
	if cfg.Pool.FailureBudget != 3 {
		t.Errorf("expected default failure budget 3, got %d", cfg.Pool.FailureBudget)
	}
	if cfg.Pool.EmbeddedProbeInterval != 200*time.Millisecond {
		t.Errorf("expected default probe interval 200ms, got %v", cfg.Pool.EmbeddedProbeInterval)
	}
}

func TestEngineCommandEnvOverride(t *testing.T) {
	os.Setenv("ENGINE_COMMAND", "/usr/local/bin/Rserve --vanilla")
	defer os.Unsetenv("ENGINE_COMMAND")

	yaml := `
servers:
  - host: localhost
    embedded: true
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	poolCfg := cfg.ToPoolConfig()
	if poolCfg.Endpoints[0].Command != "/usr/local/bin/Rserve --vanilla" {
		t.Errorf("expected ENGINE_COMMAND override, got %q", poolCfg.Endpoints[0].Command)
	}
}

func TestResolvePrefersEnvPointer(t *testing.T) {
	path := writeTemp(t, "servers: []\n")
	os.Setenv(EnvConfigPointer, path)
	defer os.Unsetenv(EnvConfigPointer)

	resolved, err := Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved != path {
		t.Errorf("expected %q, got %q", path, resolved)
	}
}

func TestResolveSearchesResourcePath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, DefaultFileName), []byte("servers: []\n"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	resolved, err := Resolve([]string{t.TempDir(), dir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved != filepath.Join(dir, DefaultFileName) {
		t.Errorf("unexpected resolved path: %q", resolved)
	}
}

func TestToPoolConfigMapsFields(t *testing.T) {
	yaml := `
servers:
  - host: a.internal
    port: 6311
    username: bob
    embedded: false
pool:
  failure_budget: 7
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	poolCfg := cfg.ToPoolConfig()
	if len(poolCfg.Endpoints) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(poolCfg.Endpoints))
	}
	ep := poolCfg.Endpoints[0]
	if ep.Host != "a.internal" || ep.Port != 6311 || ep.Username != "bob" || ep.Embedded {
		t.Errorf("unexpected endpoint mapping: %+v", ep)
	}
	if poolCfg.FailureBudget != 7 {
		t.Errorf("expected failure budget 7, got %d", poolCfg.FailureBudget)
	}
}
