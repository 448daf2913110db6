package state

// SchemaDDL defines the SQLite schema for the EmePath control-plane database.
// Tables: events, stack_pids, agent_snapshots, restart_history.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Runtime event log: supervisor, queue, and watcher lifecycle events
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    job_id TEXT,
    agent_id INTEGER,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Shared PID registry: which OS process owns which role/port
CREATE TABLE IF NOT EXISTS stack_pids (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    role TEXT NOT NULL,
    tag TEXT,
    pid INTEGER NOT NULL,
    port INTEGER,
    command TEXT,
    args TEXT,
    cwd TEXT,
    user TEXT,
    meta TEXT,
    live INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Opportunistic agent snapshots, keyed by project
CREATE TABLE IF NOT EXISTS agent_snapshots (
    agent_id INTEGER PRIMARY KEY,
    project_id TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- One row per blue/green restart cycle
CREATE TABLE IF NOT EXISTS restart_history (
    id INTEGER PRIMARY KEY,
    outcome TEXT NOT NULL,
    target_port INTEGER,
    detail TEXT,
    started_at TEXT NOT NULL DEFAULT (datetime('now')),
    finished_at TEXT
);
`
