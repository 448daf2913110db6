package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
)

// SnapshotStore persists agent snapshots keyed by project into the
// control-plane database. It is wired as a transition observer: write on
// every transition, read on boot. Persistence is best-effort: a missing or
// unavailable store degrades to in-memory operation, never to an error.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore creates a SnapshotStore. The agent_snapshots table must
// already exist (state.Open applies the schema).
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Observer returns the transition hook to register on a Registry.
func (s *SnapshotStore) Observer() func(*Agent) {
	return func(a *Agent) {
		if err := s.write(context.Background(), a); err != nil {
			fmt.Fprintf(os.Stderr, "warning: agent snapshot: %v\n", err)
		}
	}
}

func (s *SnapshotStore) write(ctx context.Context, a *Agent) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal agent %d: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_snapshots (agent_id, project_id, snapshot, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(agent_id) DO UPDATE SET
		   project_id=excluded.project_id,
		   snapshot=excluded.snapshot,
		   updated_at=excluded.updated_at`,
		a.ID, a.ProjectID, string(data))
	if err != nil {
		return fmt.Errorf("write snapshot for agent %d: %w", a.ID, err)
	}
	return nil
}

// Delete removes the snapshot for an agent. Idempotent.
func (s *SnapshotStore) Delete(ctx context.Context, agentID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_snapshots WHERE agent_id=?`, agentID); err != nil {
		return fmt.Errorf("delete snapshot for agent %d: %w", agentID, err)
	}
	return nil
}

// Rehydrate loads all persisted agents into the registry. Corrupt rows are
// skipped with a warning; an empty table is not an error.
func (s *SnapshotStore) Rehydrate(ctx context.Context, reg *Registry) error {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM agent_snapshots ORDER BY agent_id`)
	if err != nil {
		return fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return fmt.Errorf("scan snapshot: %w", err)
		}
		var a Agent
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping corrupt agent snapshot: %v\n", err)
			continue
		}
		if err := reg.Restore(&a); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate snapshots: %w", err)
	}
	return nil
}
