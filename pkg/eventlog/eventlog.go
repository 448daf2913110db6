// Package eventlog provides append and query access to the control plane's
// SQLite event log. Components log lifecycle transitions here; the CLI and
// dashboard read them back for display.
package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Event represents a single event from the control-plane log.
type Event struct {
	ID        int64
	Type      string
	Source    string
	JobID     string
	AgentID   int64
	Payload   string
	CreatedAt time.Time
}

// Log appends lifecycle events to the events table. Writes are best-effort:
// callers typically ignore the returned error after logging it, since the
// event log is not a correctness dependency.
type Log struct {
	db *sql.DB
}

// New creates a Log writing to the given database. The events table must
// already exist (state.Open applies the schema).
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append records one event. JobID and AgentID may be zero values when the
// event is not tied to a job or agent.
func (l *Log) Append(ctx context.Context, evType, source, jobID string, agentID int64, payload string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (type, source, job_id, agent_id, payload) VALUES (?, ?, ?, ?, ?)`,
		evType, source, jobID, agentID, payload)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// QueryOpts specifies filter criteria for querying events.
type QueryOpts struct {
	// JobID filters events to a specific job.
	JobID string

	// EventType filters to a specific event type (e.g. "spawn", "job_done").
	EventType string

	// After filters events created after this time (inclusive).
	After *time.Time

	// Before filters events created before this time (inclusive).
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// Reader provides read-only access to the event log.
type Reader struct {
	db *sql.DB
}

// NewReader opens the control-plane database in read-only mode with WAL so
// queries never block the serving daemon.
func NewReader(dbPath string) (*Reader, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Reader{db: db}, nil
}

// Close releases the database connection. Safe to call multiple times.
func (r *Reader) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Query retrieves events matching the given filter criteria, newest first.
// Returns an empty slice if no events match.
func (r *Reader) Query(ctx context.Context, opts QueryOpts) ([]Event, error) {
	query, args := buildQuery(opts)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var jobID, payload sql.NullString
		var agentID sql.NullInt64
		var createdAtStr string

		if err := rows.Scan(&e.ID, &e.Type, &e.Source, &jobID, &agentID, &payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.JobID = jobID.String
		e.AgentID = agentID.Int64
		e.Payload = payload.String

		if createdAtStr != "" {
			parsed, err := time.Parse("2006-01-02 15:04:05", createdAtStr)
			if err != nil {
				// Fallback: timezone-qualified format.
				parsed, err = time.Parse(time.RFC3339, createdAtStr)
				if err != nil {
					return nil, fmt.Errorf("parse created_at: %w", err)
				}
			}
			e.CreatedAt = parsed
		}

		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// buildQuery constructs the SQL query and arguments from QueryOpts.
func buildQuery(opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	query := "SELECT id, type, source, job_id, agent_id, payload, created_at FROM events WHERE 1=1"

	if opts.JobID != "" {
		conditions = append(conditions, "job_id = ?")
		args = append(args, opts.JobID)
	}

	if opts.EventType != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, opts.EventType)
	}

	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.After.Format("2006-01-02 15:04:05"))
	}

	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, opts.Before.Format("2006-01-02 15:04:05"))
	}

	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}
