//nolint:testpackage // white-box tests for the logs command
package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"emepath/pkg/eventlog"
	"emepath/pkg/state"
)

func TestLogsPrintsRecentEvents(t *testing.T) {
	home := t.TempDir()
	t.Setenv("EMEPATH_HOME", home)
	dbPath := filepath.Join(home, "state.db")
	t.Setenv("EMEPATH_DB_PATH", dbPath)

	db, err := state.Open(dbPath)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	log := eventlog.New(db)
	ctx := context.Background()
	if err := log.Append(ctx, "spawn", "supervisor", "", 0, `{"name":"gateway"}`); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(ctx, "job_done", "queue", "job-1", 0, ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close state: %v", err)
	}

	var out bytes.Buffer
	cmd := newLogsCmd()
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("logs: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "spawn") || !strings.Contains(got, "job_done") {
		t.Errorf("output missing events:\n%s", got)
	}
	// Chronological order: spawn was appended first.
	if strings.Index(got, "spawn") > strings.Index(got, "job_done") {
		t.Errorf("events out of order:\n%s", got)
	}
}

func TestLogsFiltersByJob(t *testing.T) {
	home := t.TempDir()
	t.Setenv("EMEPATH_HOME", home)
	dbPath := filepath.Join(home, "state.db")
	t.Setenv("EMEPATH_DB_PATH", dbPath)

	db, err := state.Open(dbPath)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	log := eventlog.New(db)
	ctx := context.Background()
	if err := log.Append(ctx, "job_start", "queue", "job-a", 0, ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(ctx, "job_start", "queue", "job-b", 0, ""); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close state: %v", err)
	}

	var out bytes.Buffer
	cmd := newLogsCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--job", "job-a"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("logs: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "job-a") {
		t.Errorf("output missing job-a:\n%s", got)
	}
	if strings.Contains(got, "job-b") {
		t.Errorf("output should not include job-b:\n%s", got)
	}
}

func TestLogsMissingDatabaseErrors(t *testing.T) {
	home := t.TempDir()
	t.Setenv("EMEPATH_HOME", home)
	t.Setenv("EMEPATH_DB_PATH", filepath.Join(home, "nope.db"))

	cmd := newLogsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error when the database does not exist")
	}
}

func TestFormatEventTruncatesPayload(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	formatEvent(&out, &eventlog.Event{
		Type:      "distill_progress",
		JobID:     "j1",
		AgentID:   7,
		Payload:   strings.Repeat("x", 300),
		CreatedAt: time.Now(),
	})

	got := out.String()
	if !strings.Contains(got, "...") {
		t.Errorf("long payload should be truncated: %q", got)
	}
	if !strings.Contains(got, "job=j1") || !strings.Contains(got, "agent=7") {
		t.Errorf("missing tags: %q", got)
	}
}
