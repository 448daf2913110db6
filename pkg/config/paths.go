package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeDirName is the per-user state directory under $HOME.
const HomeDirName = ".emepath"

// Paths holds all resolved emepath state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home           string // ~/.emepath or EMEPATH_HOME
	PIDPath        string // emepath.pid or EMEPATH_PID_PATH
	StateDBPath    string // state.db or EMEPATH_DB_PATH
	ConfigPath     string // emepath.toml (respects EMEPATH_HOME)
	ChecklistsPath string // checklists.yaml (respects EMEPATH_HOME)
}

// ResolvePaths returns all emepath paths, respecting env var overrides.
// Environment variables:
//   - EMEPATH_HOME: base directory for all emepath state (default: ~/.emepath)
//   - EMEPATH_PID_PATH: control process PID file (default: $EMEPATH_HOME/emepath.pid)
//   - EMEPATH_DB_PATH: runtime state database (default: $EMEPATH_HOME/state.db)
//
// If EMEPATH_HOME is set, it becomes the base for all default paths. Specific
// env vars override both the default and the EMEPATH_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:           home,
		PIDPath:        resolvePathWithEnv("EMEPATH_PID_PATH", home, "emepath.pid"),
		StateDBPath:    resolvePathWithEnv("EMEPATH_DB_PATH", home, "state.db"),
		ConfigPath:     filepath.Join(home, "emepath.toml"),
		ChecklistsPath: filepath.Join(home, "checklists.yaml"),
	}, nil
}

// resolveHome returns the state directory from EMEPATH_HOME or ~/.emepath.
func resolveHome() (string, error) {
	if v := os.Getenv("EMEPATH_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, HomeDirName), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
