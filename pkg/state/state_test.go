package state //nolint:testpackage // white-box tests exercise the schema directly

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenAppliesSchema(t *testing.T) {
	t.Parallel()

	db, err := Open(filepath.Join(t.TempDir(), "control.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	for _, table := range []string{"events", "stack_pids", "agent_snapshots", "restart_history"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "control.db")
	db1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	_ = db1.Close()

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	_ = db2.Close()
}

func TestOpenBadPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(filepath.Join(t.TempDir(), "no", "such", "dir", "x.db")); err == nil {
		t.Fatal("expected error for unreachable database path")
	}
}
