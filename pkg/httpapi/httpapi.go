// Package httpapi exposes the control-plane HTTP surface: health, queue
// pause/resume, job and agent status, manual agent operations, and the watch
// state snapshot. Mutation failures answer {ok:false, error} with a proper
// status code; read endpoints return zero defaults instead of erroring on
// missing data.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"emepath/pkg/agents"
	"emepath/pkg/queue"
	"emepath/pkg/watcher"
)

// JobRunner executes one job's agent list. The production impl is the
// kind-aware executor.
type JobRunner interface {
	Run(ctx context.Context, jobID string, agentIDs []int64) error
}

// WatchStater supplies the watch state snapshot. Nil means the watcher is
// disabled and /watch/state answers the idle zero value.
type WatchStater interface {
	State() watcher.State
}

// Server holds the handler dependencies.
type Server struct {
	queue   *queue.Queue
	agents  *agents.Registry
	runner  JobRunner
	watch   WatchStater
	service string
	version string
}

// NewServer creates the HTTP surface. runner and watch may be nil; the
// corresponding endpoints then degrade (run rejected, idle watch state).
func NewServer(q *queue.Queue, reg *agents.Registry, runner JobRunner, watch WatchStater, version string) *Server {
	return &Server{
		queue:   q,
		agents:  reg,
		runner:  runner,
		watch:   watch,
		service: "emepath",
		version: version,
	}
}

// Router builds the chi mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/pause", s.handlePause)
	r.Post("/resume", s.handleResume)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/job/{id}", s.handleGetJob)
	r.Get("/agents", s.handleListAgents)
	r.Post("/agent/{id}/mark", s.handleAgentMark)
	r.Post("/agent/{id}/run", s.handleAgentRun)
	r.Get("/watch/state", s.handleWatchState)

	return r
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

func agentID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": s.service,
		"version": s.version,
		"paused":  s.queue.Paused(),
		"running": s.queue.Running(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.queue.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.queue.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "paused": false})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := s.queue.Snapshot()
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j := s.queue.Get(chi.URLParam(r, "id"))
	if j == nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "job": j})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	list := s.agents.List()
	if list == nil {
		list = []*agents.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agents": list})
}

// markRequest is the /agent/{id}/mark body: a manual check-in override.
type markRequest struct {
	Status    string `json:"status"`
	EOTsDelta int64  `json:"eotsDelta"`
	Note      string `json:"note"`
}

func (s *Server) handleAgentMark(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid agent id")
		return
	}

	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := agents.Status(req.Status)
	if !status.Valid() {
		writeErr(w, http.StatusBadRequest, "invalid status "+strconv.Quote(req.Status))
		return
	}

	if !s.agents.CheckIn(id, status, agents.CheckInOpts{EOTsDelta: req.EOTsDelta, Note: req.Note}) {
		writeErr(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "agent": s.agents.Get(id)})
}

func (s *Server) handleAgentRun(w http.ResponseWriter, r *http.Request) {
	id, ok := agentID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	a := s.agents.Get(id)
	if a == nil {
		writeErr(w, http.StatusNotFound, "agent not found")
		return
	}
	if s.runner == nil {
		writeErr(w, http.StatusServiceUnavailable, "no executor configured")
		return
	}

	job := s.queue.Enqueue(func(ctx context.Context) error {
		return s.runner.Run(ctx, queue.JobIDFromContext(ctx), []int64{id})
	}, queue.Meta{ProjectID: a.ProjectID, AgentCount: 1})

	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "job": job})
}

func (s *Server) handleWatchState(w http.ResponseWriter, _ *http.Request) {
	st := watcher.State{Step: watcher.StepIdle}
	if s.watch != nil {
		st = s.watch.State()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "watch": st})
}
