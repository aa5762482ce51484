package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	def := Default()
	if cfg.Server.Listen != def.Server.Listen {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if len(cfg.Phases.Defaults) != 4 {
		t.Errorf("default phases = %v", cfg.Phases.Defaults)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of a missing file must fail")
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
storage:
  backend: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	// Unset sections fall back to defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
	if cfg.Phases.Timeout != Default().Phases.Timeout {
		t.Errorf("phase timeout = %v", cfg.Phases.Timeout)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("REDSTORM_TEST_LISTEN", ":7777")
	path := writeConfig(t, `
server:
  listen: "${REDSTORM_TEST_LISTEN}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Server.Listen != ":7777" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
}

func TestLoadPhaseOptions(t *testing.T) {
	path := writeConfig(t, `
phases:
  defaults: [recon, scan]
  options:
    scan:
      ports: "1-65535"
      udp: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if len(cfg.Phases.Defaults) != 2 {
		t.Errorf("phases = %v", cfg.Phases.Defaults)
	}
	scan := cfg.Phases.Options["scan"]
	if scan["ports"] != "1-65535" {
		t.Errorf("ports option = %v", scan["ports"])
	}
	if scan["udp"] != true {
		t.Errorf("udp option = %v", scan["udp"])
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad backend", "storage:\n  backend: redis\n"},
		{"mqtt without broker", "events:\n  mqtt:\n    enabled: true\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("Load() must reject this config")
			}
		})
	}
}
