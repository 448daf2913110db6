// Package stack tracks which OS process owns which role and port in the
// local service stack. The registry is a SQLite table shared with the rest
// of the control plane; entries are created on spawn or reuse detection and
// removed when the owning process exits or is explicitly stopped.
package stack

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Entry is one row of the PID registry.
type Entry struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Role      string            `json:"role"`
	Tag       string            `json:"tag,omitempty"`
	PID       int               `json:"pid"`
	Port      int               `json:"port"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	User      string            `json:"user,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// Known registry roles.
const (
	RoleService = "service"    // long-lived stack service (llama, proxy, gateway, lora)
	RoleManager = "manager"    // the control-plane process itself
	RoleChild   = "watch-blue" // staged blue/green child instance
)

// Registry is the SQLite-backed PID table.
type Registry struct {
	db *sql.DB
}

// NewRegistry creates a Registry over the given database. The stack_pids
// table must already exist (state.Open applies the schema).
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Register inserts a live entry and returns its registry id. The hostname
// and port are always stamped into meta so operators can tell roles apart
// during a restart. An existing live entry for the same (name, role) pair is
// superseded, meaning marked dead rather than duplicated.
func (r *Registry) Register(ctx context.Context, e Entry) (int64, error) {
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	if host, err := os.Hostname(); err == nil {
		e.Meta["hostname"] = host
	}
	e.Meta["role"] = e.Role
	e.Meta["port"] = fmt.Sprintf("%d", e.Port)

	argsJSON, err := json.Marshal(e.Args)
	if err != nil {
		return 0, fmt.Errorf("marshal args: %w", err)
	}
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return 0, fmt.Errorf("marshal meta: %w", err)
	}

	// Supersede the previous live owner of this (name, role) pair.
	if _, err := r.db.ExecContext(ctx,
		`UPDATE stack_pids SET live=0 WHERE name=? AND role=? AND live=1`,
		e.Name, e.Role); err != nil {
		return 0, fmt.Errorf("supersede %s/%s: %w", e.Name, e.Role, err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO stack_pids (name, role, tag, pid, port, command, args, cwd, user, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.Role, e.Tag, e.PID, e.Port, e.Command, string(argsJSON), e.Cwd, e.User, string(metaJSON))
	if err != nil {
		return 0, fmt.Errorf("register %s/%s: %w", e.Name, e.Role, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("registry id: %w", err)
	}
	return id, nil
}

// RemoveByID deletes the entry with the given registry id. Idempotent.
func (r *Registry) RemoveByID(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stack_pids WHERE id=?`, id); err != nil {
		return fmt.Errorf("remove registry id %d: %w", id, err)
	}
	return nil
}

// RemoveByPID deletes all entries for the given OS pid. Idempotent.
func (r *Registry) RemoveByPID(ctx context.Context, pid int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM stack_pids WHERE pid=?`, pid); err != nil {
		return fmt.Errorf("remove pid %d: %w", pid, err)
	}
	return nil
}

// ListAll returns every live entry, oldest first.
func (r *Registry) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, role, tag, pid, port, command, args, cwd, user, meta, created_at
		 FROM stack_pids WHERE live=1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stack pids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tag, command, argsJSON, cwd, user, metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Role, &tag, &e.PID, &e.Port,
			&command, &argsJSON, &cwd, &user, &metaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stack pid: %w", err)
		}
		e.Tag = tag.String
		e.Command = command.String
		e.Cwd = cwd.String
		e.User = user.String
		if argsJSON.String != "" {
			_ = json.Unmarshal([]byte(argsJSON.String), &e.Args)
		}
		if metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Meta)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stack pids: %w", err)
	}
	return entries, nil
}

// Lookup returns the live entry for a (name, role) pair, or nil if none.
func (r *Registry) Lookup(ctx context.Context, name, role string) (*Entry, error) {
	entries, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Name == name && entries[i].Role == role {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// FormatEntry renders an entry for log lines and CLI output.
func FormatEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s pid=%d port=%d", e.Name, e.Role, e.PID, e.Port)
	if e.Tag != "" {
		fmt.Fprintf(&b, " tag=%s", e.Tag)
	}
	return b.String()
}
