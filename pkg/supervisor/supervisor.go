// Package supervisor spawns, health-gates, and terminates the sibling
// service processes of the local stack. Each spawned child gets its own
// process group so stops take the whole tree down, output is captured to
// per-service log files, and every process is tracked in the shared PID
// registry for the lifetime of the child.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"emepath/pkg/eventlog"
	"emepath/pkg/stack"
)

// SpawnSpec describes a service process to start.
type SpawnSpec struct {
	Name       string            // registry name, e.g. "llama", "gateway"
	Role       string            // stack.RoleService or stack.RoleChild
	Tag        string            // optional tag, e.g. "watch-blue"
	Command    string            // binary to run
	Args       []string          // argv
	Env        map[string]string // extra environment, appended to os.Environ()
	Dir        string            // working directory
	Port       int               // port the service will listen on
	HealthPath string            // probe path, defaults to /health
}

// Handle tracks one spawned (or reused) service process.
type Handle struct {
	Name       string
	Role       string
	PID        int
	Port       int
	RegistryID int64
	Reused     bool // health check already answered on the target port; nothing spawned
	Failed     bool // spawn failed; PID and RegistryID are zero

	proc *os.Process
	done chan struct{} // closed when the process has exited and been deregistered
}

// Done returns a channel closed once the process has exited and its registry
// entry has been removed. Nil-safe for reused and failed handles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Supervisor owns service process lifecycles.
type Supervisor struct {
	home   string // base dir for per-service logs; empty falls back to stderr
	reg    *stack.Registry
	events *eventlog.Log
	client *http.Client

	mu      sync.Mutex
	handles map[string]*Handle // keyed by name/role
	wg      sync.WaitGroup

	// probeInterval is the health poll cadence. Tests shorten it.
	probeInterval time.Duration

	// cmdFactory builds the exec.Cmd for a spec. Tests can override it to
	// spawn a dummy command.
	cmdFactory func(spec SpawnSpec) *exec.Cmd
}

// New creates a Supervisor writing service logs under home/services/<name>/.
func New(home string, reg *stack.Registry, events *eventlog.Log) *Supervisor {
	s := &Supervisor{
		home:          home,
		reg:           reg,
		events:        events,
		client:        &http.Client{Timeout: 2 * time.Second},
		handles:       make(map[string]*Handle),
		probeInterval: 500 * time.Millisecond,
	}
	s.cmdFactory = func(spec SpawnSpec) *exec.Cmd {
		//nolint:gosec // command comes from operator-controlled service config
		cmd := exec.Command(spec.Command, spec.Args...)
		cmd.Dir = spec.Dir
		cmd.Env = os.Environ()
		for k, v := range spec.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return cmd
	}
	return s
}

// SetCmdFactory replaces the command factory. Used by tests to inject a
// controllable subprocess.
//
//emepath:testonly
func (s *Supervisor) SetCmdFactory(factory func(spec SpawnSpec) *exec.Cmd) {
	s.cmdFactory = factory
}

// SetProbeInterval shortens the health poll cadence.
//
//emepath:testonly
func (s *Supervisor) SetProbeInterval(d time.Duration) {
	s.probeInterval = d
}

// logEvent appends to the event log, best-effort.
func (s *Supervisor) logEvent(ctx context.Context, evType, payload string) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, evType, "supervisor", "", 0, payload); err != nil {
		fmt.Fprintf(os.Stderr, "warning: event log: %v\n", err)
	}
}

// healthURL builds the probe URL for a spec.
func healthURL(port int, path string) string {
	if path == "" {
		path = "/health"
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

// probeOnce reports whether a single health probe succeeds right now.
func (s *Supervisor) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// WaitHealthy polls GET baseURL until it answers 2xx or the timeout elapses.
// A timed-out probe is "not yet healthy", never an error.
func (s *Supervisor) WaitHealthy(ctx context.Context, baseURL string, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	if s.probeOnce(ctx, baseURL) {
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if s.probeOnce(ctx, baseURL) {
				return true
			}
		}
	}
}

// SpawnService starts the child described by spec, wires its output to a
// per-service log file, registers it in the PID registry, and installs an
// exit hook that deregisters it exactly once. If the target port already
// answers its health probe, the running process is adopted instead: a reuse
// entry is registered and no child is spawned.
//
// Spawn I/O errors do not propagate to orchestration: they are logged and
// the returned handle is marked Failed.
func (s *Supervisor) SpawnService(ctx context.Context, spec SpawnSpec) *Handle {
	// Reuse detection: something healthy is already on the port.
	if spec.Port != 0 && s.probeOnce(ctx, healthURL(spec.Port, spec.HealthPath)) {
		return s.adoptRunning(ctx, spec)
	}

	cmd := s.cmdFactory(spec)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logFile, err := s.openServiceLog(spec.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v; %s output goes to control-plane stderr\n", err, spec.Name)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		s.logEvent(ctx, "spawn_failed", fmt.Sprintf(`{"name":%q,"error":%q}`, spec.Name, err.Error()))
		fmt.Fprintf(os.Stderr, "warning: spawn %s: %v\n", spec.Name, err)
		return &Handle{Name: spec.Name, Role: spec.Role, Port: spec.Port, Failed: true}
	}
	// The child inherited the log fd; the parent can close its copy.
	if logFile != nil {
		_ = logFile.Close()
	}

	h := &Handle{
		Name: spec.Name,
		Role: spec.Role,
		PID:  cmd.Process.Pid,
		Port: spec.Port,
		proc: cmd.Process,
		done: make(chan struct{}),
	}

	regID, err := s.reg.Register(ctx, stack.Entry{
		Name:    spec.Name,
		Role:    spec.Role,
		Tag:     spec.Tag,
		PID:     h.PID,
		Port:    spec.Port,
		Command: spec.Command,
		Args:    spec.Args,
		Cwd:     spec.Dir,
		User:    os.Getenv("USER"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: register %s: %v\n", spec.Name, err)
	}
	h.RegistryID = regID

	s.mu.Lock()
	s.handles[spec.Name+"/"+spec.Role] = h
	s.mu.Unlock()

	s.logEvent(ctx, "spawn", fmt.Sprintf(`{"name":%q,"role":%q,"pid":%d,"port":%d}`, spec.Name, spec.Role, h.PID, spec.Port))

	// Exit hook: reap the child and remove its registry entry exactly once.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = cmd.Wait()
		if regID != 0 {
			_ = s.reg.RemoveByID(context.Background(), regID)
		}
		s.mu.Lock()
		if cur, ok := s.handles[spec.Name+"/"+spec.Role]; ok && cur == h {
			delete(s.handles, spec.Name+"/"+spec.Role)
		}
		s.mu.Unlock()
		s.logEvent(context.Background(), "exit", fmt.Sprintf(`{"name":%q,"pid":%d}`, spec.Name, h.PID))
		close(h.done)
	}()

	return h
}

// adoptRunning registers a reuse entry for a service already healthy on its
// target port. PID 0 means "owner unknown"; such entries are stopped via
// port shutdown rather than signals.
func (s *Supervisor) adoptRunning(ctx context.Context, spec SpawnSpec) *Handle {
	h := &Handle{Name: spec.Name, Role: spec.Role, Port: spec.Port, Reused: true}

	regID, err := s.reg.Register(ctx, stack.Entry{
		Name:    spec.Name,
		Role:    spec.Role,
		Tag:     "reuse",
		Port:    spec.Port,
		Command: spec.Command,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: register reuse %s: %v\n", spec.Name, err)
	}
	h.RegistryID = regID
	s.logEvent(ctx, "reuse", fmt.Sprintf(`{"name":%q,"port":%d}`, spec.Name, spec.Port))
	return h
}

// openServiceLog creates home/services/<name>/output.log for appending.
func (s *Supervisor) openServiceLog(name string) (*os.File, error) {
	if s.home == "" {
		return nil, fmt.Errorf("home not set")
	}
	dir := filepath.Join(s.home, "services", name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create service log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, "output.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path is deterministic
	if err != nil {
		return nil, fmt.Errorf("open service log %s: %w", path, err)
	}
	return f, nil
}

// GracefulStop sends SIGTERM to the handle's process group and waits up to
// timeout for it to exit. A timeout is best-effort: GracefulStop proceeds
// without error and leaves forced termination to the caller's policy.
func (s *Supervisor) GracefulStop(h *Handle, timeout time.Duration) {
	if h == nil || h.proc == nil {
		return
	}

	pgid := h.proc.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Process already exited.
		return
	}

	select {
	case <-h.done:
	case <-time.After(timeout):
		// Best effort, proceed anyway.
	}
}

// Kill force-terminates the handle's process group: SIGTERM, a short grace
// period, then SIGKILL.
func (s *Supervisor) Kill(h *Handle, grace time.Duration) {
	if h == nil || h.proc == nil {
		return
	}

	pgid := h.proc.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		_ = h.proc.Kill()
		return
	}

	select {
	case <-h.done:
	case <-time.After(grace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-h.done
	}
}

// Handle returns the tracked handle for a (name, role) pair, if any.
func (s *Supervisor) Handle(name, role string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[name+"/"+role]
	return h, ok
}

// Wait blocks until all exit-hook goroutines have completed.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
