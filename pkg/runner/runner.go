// Package runner executes one job's agent list. Agents run strictly
// sequentially within a job, dispatched by kind; pre and post checklist
// gates bracket the run. Required gate failures abort the job, everything
// else degrades to per-agent status and notes.
package runner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"emepath/pkg/agents"
	"emepath/pkg/eventlog"
)

// Distiller produces distilled output lines for one chunk of input. The
// production impl talks to the local model gateway; it is an external
// collaborator and out of scope here.
type Distiller interface {
	Distill(ctx context.Context, goal, chunk string) ([]string, error)
}

// Searcher answers indexed queries. External collaborator, same deal.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Config holds Executor configuration.
type Config struct {
	ScanRoot     string // repository root for scan agents
	ChunkTokens  int    // approximate token budget per distill chunk (default 1500)
	ChunkOverlap int    // token overlap between consecutive chunks (default 100)
	QueryLimit   int    // max results per query agent (default 10)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ChunkTokens == 0 {
		out.ChunkTokens = 1500
	}
	if out.ChunkOverlap == 0 {
		out.ChunkOverlap = 100
	}
	if out.QueryLimit == 0 {
		out.QueryLimit = 10
	}
	return out
}

// Executor consumes one queued job at a time.
type Executor struct {
	cfg       Config
	registry  *agents.Registry
	distiller Distiller
	searcher  Searcher
	events    *eventlog.Log
	pre       []ChecklistItem
	post      []ChecklistItem
}

// New creates an Executor. distiller and searcher may be nil; agents of
// those kinds are then skipped with a note.
func New(cfg Config, registry *agents.Registry, distiller Distiller, searcher Searcher, events *eventlog.Log) *Executor {
	return &Executor{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		distiller: distiller,
		searcher:  searcher,
		events:    events,
	}
}

// SetChecklists installs the pre and post gates.
func (e *Executor) SetChecklists(pre, post []ChecklistItem) {
	e.pre = pre
	e.post = post
}

// logEvent appends to the event log, best-effort.
func (e *Executor) logEvent(ctx context.Context, evType, jobID string, agentID int64, payload string) {
	if e.events == nil {
		return
	}
	if err := e.events.Append(ctx, evType, "runner", jobID, agentID, payload); err != nil {
		fmt.Fprintf(os.Stderr, "warning: event log: %v\n", err)
	}
}

// Run executes a job: pre checklist, each agent in order, post checklist.
// The returned error is the job's error; it is non-nil only for a required
// checklist failure or a cancelled context. Individual agent failures land
// on the agent record, not the job.
func (e *Executor) Run(ctx context.Context, jobID string, agentIDs []int64) error {
	if err := e.runChecklist(ctx, jobID, "pre", e.pre); err != nil {
		return err
	}

	for _, id := range agentIDs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job %s cancelled: %w", jobID, err)
		}
		e.runAgent(ctx, jobID, id)
	}

	return e.runChecklist(ctx, jobID, "post", e.post)
}

// runAgent executes a single agent and records the outcome via check-in.
func (e *Executor) runAgent(ctx context.Context, jobID string, id int64) {
	a := e.registry.Get(id)
	if a == nil {
		e.logEvent(ctx, "agent_missing", jobID, id, "")
		return
	}

	e.registry.CheckIn(id, agents.StatusRunning, agents.CheckInOpts{})
	e.logEvent(ctx, "agent_started", jobID, id, fmt.Sprintf(`{"kind":%q}`, a.Kind))

	var note string
	var err error
	switch a.Kind {
	case agents.KindDistill:
		if e.distiller == nil {
			e.skip(ctx, jobID, id, a.Kind, "no distiller configured")
			return
		}
		note, err = e.runDistill(ctx, a)
	case agents.KindScan:
		note, err = e.runScan(ctx, a)
	case agents.KindQuery:
		if e.searcher == nil {
			e.skip(ctx, jobID, id, a.Kind, "no searcher configured")
			return
		}
		note, err = e.runQuery(ctx, a)
	default:
		// Unrecognized kinds are skipped with an explanation, not failed.
		e.registry.CheckIn(id, agents.StatusSkipped, agents.CheckInOpts{
			Note: fmt.Sprintf("no handler for kind %q", a.Kind),
		})
		e.logEvent(ctx, "agent_skipped", jobID, id, fmt.Sprintf(`{"kind":%q}`, a.Kind))
		return
	}

	if err != nil {
		e.registry.CheckIn(id, agents.StatusError, agents.CheckInOpts{Note: err.Error()})
		e.logEvent(ctx, "agent_error", jobID, id, fmt.Sprintf(`{"error":%q}`, err.Error()))
		return
	}
	e.registry.CheckIn(id, agents.StatusDone, agents.CheckInOpts{EOTsDelta: 1, Note: note})
	e.logEvent(ctx, "agent_done", jobID, id, "")
}

// skip marks an agent skipped when no collaborator can serve its kind.
func (e *Executor) skip(ctx context.Context, jobID string, id int64, kind agents.Kind, reason string) {
	e.registry.CheckIn(id, agents.StatusSkipped, agents.CheckInOpts{
		Note: fmt.Sprintf("%s: %s", kind, reason),
	})
	e.logEvent(ctx, "agent_skipped", jobID, id, fmt.Sprintf(`{"kind":%q}`, kind))
}

// runScan walks the scan root and produces a file inventory summary.
func (e *Executor) runScan(ctx context.Context, a *agents.Agent) (string, error) {
	root := e.cfg.ScanRoot
	if a.Input != "" {
		root = a.Input
	}
	if root == "" {
		return "", fmt.Errorf("scan: no root configured")
	}

	var files, dirs int
	var bytes int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are not fatal to a scan
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" || name == "vendor" {
				return filepath.SkipDir
			}
			dirs++
			return nil
		}
		files++
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", root, err)
	}
	return fmt.Sprintf("scanned %d files in %d dirs (%d bytes)", files, dirs, bytes), nil
}

// runQuery resolves the agent's goal against the indexed searcher.
func (e *Executor) runQuery(ctx context.Context, a *agents.Agent) (string, error) {
	if e.searcher == nil {
		return "", fmt.Errorf("query: no searcher configured")
	}
	results, err := e.searcher.Search(ctx, a.Goal, e.cfg.QueryLimit)
	if err != nil {
		return "", fmt.Errorf("query %q: %w", a.Goal, err)
	}
	if len(results) == 0 {
		return "no results", nil
	}
	return fmt.Sprintf("%d results; top: %s", len(results), truncate(results[0], 120)), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
