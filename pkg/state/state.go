// Package state owns the EmePath control-plane SQLite database: the schema,
// the row types shared between packages, and the open helper that enforces
// production-safe pragmas.
package state

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// Event represents a row in the events table.
type Event struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Source    string `json:"source"`
	JobID     string `json:"job_id"`
	AgentID   int64  `json:"agent_id"`
	Payload   string `json:"payload"`
	CreatedAt string `json:"created_at"`
}

// RestartRecord represents a row in the restart_history table.
type RestartRecord struct {
	ID         int64  `json:"id"`
	Outcome    string `json:"outcome"`
	TargetPort int    `json:"target_port"`
	Detail     string `json:"detail"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// Open opens the SQLite database at path and enforces production-safe
// defaults: WAL journal mode and a 5-second busy timeout. It also pings the
// connection and applies the schema before returning.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema on %s: %w", path, err)
	}

	return db, nil
}
