// Package queue implements the concurrency-bounded FIFO job scheduler. Jobs
// are batches of agent work enqueued by the HTTP surface or the CLI and
// executed by a task function under a global concurrency cap. A global pause
// flag stops new jobs from starting without preempting in-flight work.
package queue

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"emepath/pkg/eventlog"
)

// Status is a job lifecycle state. Transitions are strictly
// pending → running → (done | error).
type Status string

// Job status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Meta carries job bookkeeping visible in status endpoints.
type Meta struct {
	UserID     string `json:"userId,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	AgentCount int    `json:"agentCount"`
}

// Task is the deferred work a job performs. The context is cancelled on
// queue shutdown and carries the job's ID, see JobIDFromContext.
type Task func(ctx context.Context) error

type jobIDKey struct{}

// JobIDFromContext returns the running job's ID from a task context, or ""
// outside a task.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// Job is one scheduled batch of work.
type Job struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Meta       Meta      `json:"meta"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Error      string    `json:"error,omitempty"`

	task Task
	done chan struct{}
	seq  int64
}

// Done returns the job's completion signal, closed exactly once on the same
// transition that sets FinishedAt.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// snapshot returns a copy safe to hand to callers. Caller must hold q.mu.
func (j *Job) snapshot() *Job {
	c := *j
	c.task = nil
	return &c
}

// Queue is the job scheduler. A single orchestrator instance owns it; there
// are no package-level singletons.
type Queue struct {
	maxConcurrency int
	events         *eventlog.Log

	mu      sync.Mutex
	fifo    []*Job
	jobs    map[string]*Job
	running int
	paused  bool
	nextSeq int64

	baseCtx context.Context //nolint:containedctx // root context for job tasks, set at Start

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Queue with the given concurrency cap (minimum 1).
func New(maxConcurrency int, events *eventlog.Log) *Queue {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Queue{
		maxConcurrency: maxConcurrency,
		events:         events,
		jobs:           make(map[string]*Job),
		baseCtx:        context.Background(),
		nowFunc:        time.Now,
	}
}

// SetNowFunc overrides the clock.
//
//emepath:testonly
func (q *Queue) SetNowFunc(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nowFunc = now
}

// SetBaseContext sets the context handed to job tasks. Call before enqueuing.
func (q *Queue) SetBaseContext(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.baseCtx = ctx
}

// logEvent appends to the event log, best-effort.
func (q *Queue) logEvent(evType, jobID, payload string) {
	if q.events == nil {
		return
	}
	if err := q.events.Append(context.Background(), evType, "queue", jobID, 0, payload); err != nil {
		fmt.Fprintf(os.Stderr, "warning: event log: %v\n", err)
	}
}

// Enqueue appends a job to the FIFO and immediately attempts to advance the
// queue. The returned snapshot is safe to retain.
func (q *Queue) Enqueue(task Task, meta Meta) *Job {
	j := &Job{
		ID:     uuid.NewString(),
		Status: StatusPending,
		Meta:   meta,
		task:   task,
		done:   make(chan struct{}),
	}

	q.mu.Lock()
	j.seq = q.nextSeq
	q.nextSeq++
	q.fifo = append(q.fifo, j)
	q.jobs[j.ID] = j
	snap := j.snapshot()
	q.mu.Unlock()

	q.logEvent("job_enqueued", j.ID, fmt.Sprintf(`{"agents":%d}`, meta.AgentCount))
	q.advance()
	return snap
}

// advance starts queued jobs while capacity allows, the FIFO is non-empty,
// and the queue is not paused. Each completion re-enters advance, so a
// finishing job immediately frees its slot for the next pending one.
func (q *Queue) advance() {
	for {
		q.mu.Lock()
		if q.paused || q.running >= q.maxConcurrency || len(q.fifo) == 0 {
			q.mu.Unlock()
			return
		}
		j := q.fifo[0]
		q.fifo = q.fifo[1:]
		j.Status = StatusRunning
		j.StartedAt = q.nowFunc()
		q.running++
		ctx := context.WithValue(q.baseCtx, jobIDKey{}, j.ID)
		q.mu.Unlock()

		q.logEvent("job_started", j.ID, "")
		go q.run(ctx, j)
	}
}

// run executes one job's task and finalizes it. Only this goroutine touches
// the job after it leaves the FIFO, so the record is never mutated by two
// workers at once.
func (q *Queue) run(ctx context.Context, j *Job) {
	err := j.task(ctx)

	q.mu.Lock()
	j.FinishedAt = q.nowFunc()
	if err != nil {
		j.Status = StatusError
		j.Error = err.Error()
	} else {
		j.Status = StatusDone
	}
	q.running--
	close(j.done) // fulfilled exactly once, on the transition that sets FinishedAt
	q.mu.Unlock()

	if err != nil {
		q.logEvent("job_error", j.ID, fmt.Sprintf(`{"error":%q}`, err.Error()))
	} else {
		q.logEvent("job_done", j.ID, "")
	}

	q.advance()
}

// Pause sets the global pause flag. In-flight jobs run to completion; only
// new starts are prevented.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	q.logEvent("queue_paused", "", "")
}

// Resume clears the pause flag and immediately re-arms queue advancement.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.logEvent("queue_resumed", "", "")
	q.advance()
}

// Paused reports the global pause flag.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Running returns the number of jobs currently executing.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Get returns a snapshot of the job, or nil if unknown.
func (q *Queue) Get(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil
	}
	return j.snapshot()
}

// Snapshot returns copies of all jobs in enqueue order.
func (q *Queue) Snapshot() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].seq < out[k].seq })
	return out
}
