// Package agents tracks the lifecycle of queued agent work items. The
// registry is the single writer for agent records: Spawn creates them,
// CheckIn is the only mutation path, and transition observers fan mutations
// out to interested parties (persistence, event log) synchronously.
package agents

import (
	"fmt"
	"sync"
	"time"
)

// Status is an agent lifecycle state.
type Status string

// Agent status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusPaused  Status = "paused"
	StatusSkipped Status = "skipped"
)

// Valid reports whether s is a known agent status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusError, StatusPaused, StatusSkipped:
		return true
	}
	return false
}

// Kind identifies what an agent does when executed.
type Kind string

// Known agent kinds. Unrecognized kinds are skipped with a note, not failed.
const (
	KindDistill Kind = "distill"
	KindScan    Kind = "scan"
	KindQuery   Kind = "query"
	KindCustom  Kind = "custom"
)

// Agent is one unit of queued work.
type Agent struct {
	ID              int64     `json:"id"`
	ProjectID       string    `json:"projectId"`
	Kind            Kind      `json:"kind"`
	Goal            string    `json:"goal"`
	Input           string    `json:"input"`
	Expected        string    `json:"expected"`
	Status          Status    `json:"status"`
	LastCheckInTime time.Time `json:"lastCheckInTime"`
	EOTs            int64     `json:"eots"`
	LastNote        string    `json:"lastNote"`
	Pins            []int64   `json:"pins,omitempty"` // ids of agents pinning this one
}

// clone returns a copy safe to hand to observers and callers.
func (a *Agent) clone() *Agent {
	c := *a
	c.Pins = append([]int64(nil), a.Pins...)
	return &c
}

// SpawnParams describes a new agent.
type SpawnParams struct {
	ProjectID string
	Kind      Kind
	Goal      string
	Input     string
	Expected  string
}

// CheckInOpts carries the optional fields of a check-in.
type CheckInOpts struct {
	EOTsDelta int64  // negative deltas are clamped to zero
	Note      string // overwrites LastNote when non-empty
}

// Registry holds all agents for the control process. A single orchestrator
// owns the instance; subcomponents receive it by reference. Thread-safe.
type Registry struct {
	mu        sync.Mutex
	agents    map[int64]*Agent
	nextID    int64
	observers []func(*Agent)

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:  make(map[int64]*Agent),
		nextID:  1,
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the clock.
//
//emepath:testonly
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = now
}

// OnTransition registers an observer invoked synchronously after every
// mutation (spawn, check-in, removal), with a copy of the agent. Observers
// must not call back into the registry.
func (r *Registry) OnTransition(fn func(*Agent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// notifyLocked snapshots the agent and runs observers outside the lock.
// Caller must hold r.mu; notifyLocked releases and reacquires it.
func (r *Registry) notifyLocked(a *Agent) {
	snapshot := a.clone()
	observers := append([]func(*Agent){}, r.observers...)
	r.mu.Unlock()
	for _, fn := range observers {
		fn(snapshot)
	}
	r.mu.Lock()
}

// Spawn allocates a monotonically increasing id and registers a new pending
// agent.
func (r *Registry) Spawn(p SpawnParams) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := &Agent{
		ID:        r.nextID,
		ProjectID: p.ProjectID,
		Kind:      p.Kind,
		Goal:      p.Goal,
		Input:     p.Input,
		Expected:  p.Expected,
		Status:    StatusPending,
	}
	r.nextID++
	r.agents[a.ID] = a

	r.notifyLocked(a)
	return a.clone()
}

// CheckIn is the only mutation path for an agent. It atomically sets status,
// stamps LastCheckInTime, accumulates max(0, EOTsDelta) into EOTs, and
// overwrites LastNote when a note is provided. Returns false for an unknown
// id or an invalid status. Safe to call repeatedly: a duplicate check-in
// with no delta leaves EOTs unchanged.
func (r *Registry) CheckIn(id int64, status Status, opts CheckInOpts) bool {
	if !status.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return false
	}

	a.Status = status
	a.LastCheckInTime = r.nowFunc()
	if opts.EOTsDelta > 0 {
		a.EOTs += opts.EOTsDelta
	}
	if opts.Note != "" {
		a.LastNote = opts.Note
	}

	r.notifyLocked(a)
	return true
}

// Pin records that agent byID references agent id, so removal can detach it.
// Returns false if either id is unknown.
func (r *Registry) Pin(id, byID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return false
	}
	if _, ok := r.agents[byID]; !ok {
		return false
	}
	a.Pins = append(a.Pins, byID)
	return true
}

// Remove deletes an agent and detaches any cross-referencing pins held on
// other agents. Returns false for an unknown id.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return false
	}
	delete(r.agents, id)

	for _, other := range r.agents {
		kept := other.Pins[:0]
		for _, pin := range other.Pins {
			if pin != id {
				kept = append(kept, pin)
			}
		}
		other.Pins = kept
	}

	r.notifyLocked(a)
	return true
}

// Get returns a copy of the agent, or nil if unknown.
func (r *Registry) Get(id int64) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	return a.clone()
}

// List returns copies of all agents, ordered by id.
func (r *Registry) List() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Agent, 0, len(r.agents))
	var maxID int64
	for id := range r.agents {
		if id > maxID {
			maxID = id
		}
	}
	for id := int64(1); id <= maxID; id++ {
		if a, ok := r.agents[id]; ok {
			out = append(out, a.clone())
		}
	}
	return out
}

// Restore inserts a previously persisted agent without invoking observers,
// and bumps the id counter past it. Used only during boot rehydration.
func (r *Registry) Restore(a *Agent) error {
	if a == nil || a.ID == 0 {
		return fmt.Errorf("restore: missing agent id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID]; exists {
		return fmt.Errorf("restore: agent %d already present", a.ID)
	}
	r.agents[a.ID] = a.clone()
	if a.ID >= r.nextID {
		r.nextID = a.ID + 1
	}
	return nil
}
