// Package config loads the emepath.toml file and applies EMEPATH_* environment
// overrides. File values override built-in defaults; environment variables
// override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Service is one [[service]] entry in emepath.toml: a fleet process the
// supervisor boots and health-gates.
type Service struct {
	Name       string            `toml:"name"`
	Role       string            `toml:"role"`
	Command    string            `toml:"command"`
	Args       []string          `toml:"args"`
	Dir        string            `toml:"dir"`
	Port       int               `toml:"port"`
	HealthPath string            `toml:"health_path"`
	Env        map[string]string `toml:"env"`
}

// Config holds the resolved control-plane configuration.
type Config struct {
	Port        int  `toml:"port"`        // control-plane HTTP port
	PortStart   int  `toml:"port_start"`  // allocator range start
	PortEnd     int  `toml:"port_end"`    // allocator range end
	Concurrency int  `toml:"concurrency"` // max parallel jobs
	Watch       bool `toml:"watch"`       // enable the restart watcher

	WatchService    string   `toml:"watch_service"`     // fleet entry the watcher restarts
	WatchRoot       string   `toml:"watch_root"`        // source tree to fingerprint
	WatchIgnore     []string `toml:"watch_ignore"`      // extra ignore globs
	WatchIgnoreFile string   `toml:"watch_ignore_file"` // optional ignore file path

	ChecklistsPath string `toml:"checklists"` // job gate definitions (YAML)

	Services []Service `toml:"service"`

	// Env-only flags, never read from the file.
	WatchChild bool `toml:"-"` // this instance is a staged child
	WideKill   bool `toml:"-"` // default forced-stop scope for the CLI
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:         3123,
		PortStart:    3124,
		PortEnd:      3199,
		Concurrency:  4,
		Watch:        true,
		WatchService: "gateway",
		WatchRoot:    ".",
	}
}

// Load reads the TOML file at path over the defaults and applies environment
// overrides. A missing file yields defaults plus environment, not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values from EMEPATH_* variables.
func (c *Config) applyEnv() {
	c.Port = envInt("EMEPATH_PORT", c.Port)
	c.PortStart = envInt("EMEPATH_PORT_START", c.PortStart)
	c.PortEnd = envInt("EMEPATH_PORT_END", c.PortEnd)
	c.Concurrency = envInt("EMEPATH_CONCURRENCY", c.Concurrency)
	c.Watch = envBool("EMEPATH_WATCH", c.Watch)
	c.WatchChild = envBool("EMEPATH_WATCH_CHILD", false)
	c.WideKill = envBool("STACK_WIDE_KILL", false)
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PortStart > c.PortEnd {
		return fmt.Errorf("invalid port range %d..%d", c.PortStart, c.PortEnd)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s=%q is not a number, ignoring\n", key, v)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		fmt.Fprintf(os.Stderr, "warning: %s=%q is not a boolean, ignoring\n", key, v)
		return fallback
	}
}
