package config //nolint:testpackage // white-box tests

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3123 || cfg.Concurrency != 4 || !cfg.Watch {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emepath.toml")
	doc := `port = 4000
concurrency = 2
watch = false
watch_ignore = ["*.log"]

[[service]]
name = "llama"
role = "service"
command = "llama-server"
args = ["--port", "11435"]
port = 11435
health_path = "/v1/models"

[[service]]
name = "gateway"
role = "service"
command = "gateway"
port = 3123
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 4000 || cfg.Concurrency != 2 || cfg.Watch {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	// Absent keys keep their defaults.
	if cfg.PortStart != 3124 || cfg.PortEnd != 3199 {
		t.Errorf("port range defaults lost: %d..%d", cfg.PortStart, cfg.PortEnd)
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("services: %d, want 2", len(cfg.Services))
	}
	if cfg.Services[0].Name != "llama" || cfg.Services[0].Port != 11435 {
		t.Errorf("service[0]: %+v", cfg.Services[0])
	}
	if cfg.Services[0].HealthPath != "/v1/models" {
		t.Errorf("service[0] health path: %q", cfg.Services[0].HealthPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emepath.toml")
	if err := os.WriteFile(path, []byte("port = 4000\nconcurrency = 2\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("EMEPATH_PORT", "5000")
	t.Setenv("EMEPATH_CONCURRENCY", "8")
	t.Setenv("EMEPATH_WATCH", "0")
	t.Setenv("EMEPATH_WATCH_CHILD", "1")
	t.Setenv("STACK_WIDE_KILL", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 5000 || cfg.Concurrency != 8 {
		t.Errorf("env overrides lost: port %d concurrency %d", cfg.Port, cfg.Concurrency)
	}
	if cfg.Watch {
		t.Error("EMEPATH_WATCH=0 must disable the watcher")
	}
	if !cfg.WatchChild {
		t.Error("EMEPATH_WATCH_CHILD=1 must mark a child instance")
	}
	if !cfg.WideKill {
		t.Error("STACK_WIDE_KILL=true must set the wide-kill default")
	}
}

func TestMalformedEnvIgnoredWithWarning(t *testing.T) {
	t.Setenv("EMEPATH_PORT", "lots")
	t.Setenv("EMEPATH_WATCH", "maybe")

	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3123 || !cfg.Watch {
		t.Fatalf("malformed env must fall back to defaults: %+v", cfg)
	}
}

func TestLoadBadTOMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emepath.toml")
	if err := os.WriteFile(path, []byte("port = ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("EMEPATH_CONCURRENCY", "0")
	if _, err := Load(filepath.Join(t.TempDir(), "no-such.toml")); err == nil {
		t.Fatal("concurrency 0 must be rejected")
	}
}

func TestResolvePathsHonorsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("EMEPATH_HOME", home)
	t.Setenv("EMEPATH_PID_PATH", "")
	t.Setenv("EMEPATH_DB_PATH", "")

	p, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if p.Home != home {
		t.Errorf("home: %q", p.Home)
	}
	if p.StateDBPath != filepath.Join(home, "state.db") {
		t.Errorf("db path: %q", p.StateDBPath)
	}
	if p.ConfigPath != filepath.Join(home, "emepath.toml") {
		t.Errorf("config path: %q", p.ConfigPath)
	}
}

func TestResolvePathsSpecificOverrides(t *testing.T) {
	t.Setenv("EMEPATH_HOME", t.TempDir())
	t.Setenv("EMEPATH_DB_PATH", "/var/lib/emepath/state.db")

	p, err := ResolvePaths()
	if err != nil {
		t.Fatalf("ResolvePaths: %v", err)
	}
	if p.StateDBPath != "/var/lib/emepath/state.db" {
		t.Errorf("db path override lost: %q", p.StateDBPath)
	}
}
