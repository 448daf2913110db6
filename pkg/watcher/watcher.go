package watcher

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"emepath/pkg/eventlog"
	"emepath/pkg/ports"
	"emepath/pkg/stack"
	"emepath/pkg/supervisor"

	"github.com/fsnotify/fsnotify"
)

// Step is the restart cycle phase, surfaced in the watch state snapshot.
type Step string

// Restart cycle phases.
const (
	StepIdle       Step = "idle"       // no change pending
	StepRestarting Step = "restarting" // change detected, countdown armed
	StepStaging    Step = "staging"    // alternate instance starting
	StepSwitching  Step = "switching"  // cutting traffic back to the original port
)

// State is the controller's externally visible snapshot.
type State struct {
	Active           bool `json:"active"`
	CountdownSeconds int  `json:"countdownSeconds"`
	Step             Step `json:"step"`
	TargetPort       int  `json:"targetPort"`
}

// ServiceSupervisor is the subset of supervisor operations the controller
// drives a restart cycle through.
type ServiceSupervisor interface {
	SpawnService(ctx context.Context, spec supervisor.SpawnSpec) *supervisor.Handle
	WaitHealthy(ctx context.Context, baseURL string, timeout time.Duration) bool
	GracefulStop(h *supervisor.Handle, timeout time.Duration)
	Kill(h *supervisor.Handle, grace time.Duration)
	Handle(name, role string) (*supervisor.Handle, bool)
}

// Relauncher restarts the original entry point on the original port. The
// final swap is delegated so an external supervisor (restart script, init
// system) can own it.
type Relauncher interface {
	Relaunch(ctx context.Context, port int) error
}

// RelaunchFunc adapts a function to the Relauncher interface.
type RelaunchFunc func(ctx context.Context, port int) error

// Relaunch implements Relauncher.
func (f RelaunchFunc) Relaunch(ctx context.Context, port int) error { return f(ctx, port) }

// Config holds Controller configuration.
type Config struct {
	Root        string   // source tree to fingerprint
	IgnoreGlobs []string // extra ignore patterns on top of the built-in dirs
	IgnoreFile  string   // optional ignore file, one pattern per line

	Interval      time.Duration // fingerprint poll interval (default 5s)
	Debounce      time.Duration // countdown before acting on a change (default 10s)
	StageTimeout  time.Duration // staged instance health deadline (default 30s)
	SwitchTimeout time.Duration // relaunched original health deadline (default 30s)
	StopTimeout   time.Duration // graceful stop wait during the switch (default 10s)

	PortStart, PortEnd int // alternate port search range

	// Service is the primary entry point being watched. Port is the
	// original port; staged instances get an alternate port, the child
	// role, and EMEPATH_WATCH_CHILD=1 so they never arm their own watcher.
	Service supervisor.SpawnSpec

	// ChildMode marks this instance as a staged child; Run is then a no-op.
	ChildMode bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Interval == 0 {
		out.Interval = 5 * time.Second
	}
	if out.Debounce == 0 {
		out.Debounce = 10 * time.Second
	}
	if out.StageTimeout == 0 {
		out.StageTimeout = 30 * time.Second
	}
	if out.SwitchTimeout == 0 {
		out.SwitchTimeout = 30 * time.Second
	}
	if out.StopTimeout == 0 {
		out.StopTimeout = 10 * time.Second
	}
	return out
}

// Controller watches the source tree and runs staged blue/green restarts of
// the primary service. At most one restart cycle is in flight at a time; the
// polling loop never blocks on a cycle.
type Controller struct {
	cfg    Config
	rules  *ignoreRules
	sup    ServiceSupervisor
	rel    Relauncher
	db     *sql.DB // restart_history; nil disables history rows
	events *eventlog.Log

	mu        sync.Mutex
	st        State
	busy      bool
	baselined bool
	baseline  time.Time
	deadline  time.Time // debounce deadline; zero when no countdown is armed
	cycleWG   sync.WaitGroup

	// nowFunc allows tests to control time.
	nowFunc func() time.Time

	// pickAlternate selects the staging port. Tests can override it.
	pickAlternate func(current, start, end int) int
}

// New creates a Controller. It does not start watching; call Run.
func New(cfg Config, sup ServiceSupervisor, rel Relauncher, db *sql.DB, events *eventlog.Log) *Controller {
	resolved := cfg.withDefaults()
	return &Controller{
		cfg:           resolved,
		rules:         newIgnoreRules(resolved.IgnoreGlobs, resolved.IgnoreFile),
		sup:           sup,
		rel:           rel,
		db:            db,
		events:        events,
		st:            State{Step: StepIdle},
		nowFunc:       time.Now,
		pickAlternate: ports.FindAlternate,
	}
}

// SetNowFunc overrides the clock.
//
//emepath:testonly
func (c *Controller) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = now
}

// State returns the current watch state snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

func (c *Controller) logEvent(ctx context.Context, evType, payload string) {
	if c.events == nil {
		return
	}
	if err := c.events.Append(ctx, evType, "watcher", "", 0, payload); err != nil {
		fmt.Fprintf(os.Stderr, "warning: event log: %v\n", err)
	}
}

// Run blocks until ctx is cancelled. The first fingerprint only establishes
// a baseline. Staged child instances return immediately and never watch.
func (c *Controller) Run(ctx context.Context) {
	if c.cfg.ChildMode {
		return
	}

	c.mu.Lock()
	c.st.Active = true
	c.mu.Unlock()
	defer func() {
		c.cycleWG.Wait()
		c.mu.Lock()
		c.st.Active = false
		c.mu.Unlock()
	}()

	// fsnotify is an accelerator only. Nil channels block forever in the
	// select, so a failed watcher degrades to pure polling.
	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	if w, err := fsnotify.NewWatcher(); err == nil {
		if addErr := w.Add(c.cfg.Root); addErr == nil {
			fsEvents = w.Events
			fsErrors = w.Errors
		}
		defer func() { _ = w.Close() }()
	}

	poll := time.NewTicker(c.cfg.Interval)
	defer poll.Stop()
	countdown := time.NewTicker(time.Second)
	defer countdown.Stop()

	c.checkOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fsEvents:
			c.checkOnce(ctx)
		case err := <-fsErrors:
			if err != nil {
				c.logEvent(ctx, "watch_error", err.Error())
			}
		case <-poll.C:
			c.checkOnce(ctx)
		case <-countdown.C:
			c.tickCountdown(ctx)
		}
	}
}

// checkOnce fingerprints the tree and arms the debounce countdown when the
// maximum mtime moved past the baseline. Changes seen while a restart is in
// flight are left for the next check, so they trigger a fresh cycle after
// the current one ends.
func (c *Controller) checkOnce(ctx context.Context) {
	fp := fingerprint(c.cfg.Root, c.rules)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.baselined {
		c.baselined = true
		c.baseline = fp
		return
	}
	if !fp.After(c.baseline) {
		return
	}
	if c.busy {
		return
	}

	c.baseline = fp
	if !c.deadline.IsZero() {
		// Countdown already armed; the burst coalesces into one restart.
		return
	}
	c.deadline = c.nowFunc().Add(c.cfg.Debounce)
	c.st.Step = StepRestarting
	c.st.CountdownSeconds = int(c.cfg.Debounce / time.Second)
	c.logEvent(ctx, "change_detected", fmt.Sprintf(`{"countdown_s":%d}`, c.st.CountdownSeconds))
}

// tickCountdown updates the visible countdown and starts the restart cycle
// when the debounce deadline passes.
func (c *Controller) tickCountdown(ctx context.Context) {
	c.mu.Lock()
	if c.deadline.IsZero() || c.busy {
		c.mu.Unlock()
		return
	}
	if remaining := c.deadline.Sub(c.nowFunc()); remaining > 0 {
		c.st.CountdownSeconds = int((remaining + time.Second - 1) / time.Second)
		c.mu.Unlock()
		return
	}
	c.deadline = time.Time{}
	c.busy = true
	c.st.CountdownSeconds = 0
	c.cycleWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.cycleWG.Done()
		c.runCycle(ctx)
	}()
}

// --- Restart cycle ---

// runCycle executes one staged blue/green restart. It always resets the
// state to idle, success or failure.
func (c *Controller) runCycle(ctx context.Context) {
	started := c.nowFunc()
	defer c.reset()

	orig := c.cfg.Service.Port
	alt := c.pickAlternate(orig, c.cfg.PortStart, c.cfg.PortEnd)
	if alt == orig {
		// Nothing free; staging would collide with the live listener.
		c.recordCycle(ctx, "no_alternate_port", 0, "port range exhausted", started)
		return
	}

	// Staging: the original instance keeps serving the whole time.
	c.setStep(StepStaging, alt)
	staged := c.sup.SpawnService(ctx, c.stageSpec(alt))
	if staged.Failed {
		c.recordCycle(ctx, "stage_spawn_failed", alt, "", started)
		return
	}
	if !c.sup.WaitHealthy(ctx, probeURL(alt, c.cfg.Service.HealthPath), c.cfg.StageTimeout) {
		c.sup.Kill(staged, 2*time.Second)
		c.recordCycle(ctx, "stage_unhealthy", alt, "staged instance never became healthy", started)
		return
	}

	// Switching: stop the original listener, hand the relaunch to the
	// external process manager, and health-gate the original port.
	c.setStep(StepSwitching, alt)
	if cur, ok := c.sup.Handle(c.cfg.Service.Name, c.cfg.Service.Role); ok {
		c.sup.GracefulStop(cur, c.cfg.StopTimeout)
	}

	relaunchErr := c.rel.Relaunch(ctx, orig)
	healthy := relaunchErr == nil &&
		c.sup.WaitHealthy(ctx, probeURL(orig, c.cfg.Service.HealthPath), c.cfg.SwitchTimeout)
	if !healthy {
		// The staged instance stays up on the alternate port. Killing it
		// here could leave zero live listeners.
		detail := fmt.Sprintf("original port %d not healthy; staged instance kept on %d", orig, alt)
		if relaunchErr != nil {
			detail = fmt.Sprintf("relaunch: %v; staged instance kept on %d", relaunchErr, alt)
		}
		fmt.Fprintf(os.Stderr, "warning: restart rollback: %s\n", detail)
		c.recordCycle(ctx, "rollback_standby", alt, detail, started)
		return
	}

	c.sup.Kill(staged, 2*time.Second)
	c.recordCycle(ctx, "switched", alt, "", started)
}

// stageSpec derives the staged child's spawn spec: alternate port, child
// role, and the child marker so it does not watch its own tree.
func (c *Controller) stageSpec(altPort int) supervisor.SpawnSpec {
	spec := c.cfg.Service
	spec.Role = stack.RoleChild
	spec.Tag = "watch-blue"
	spec.Port = altPort

	env := make(map[string]string, len(spec.Env)+2)
	for k, v := range c.cfg.Service.Env {
		env[k] = v
	}
	env["EMEPATH_WATCH_CHILD"] = "1"
	env["EMEPATH_PORT"] = fmt.Sprintf("%d", altPort)
	spec.Env = env
	return spec
}

func (c *Controller) setStep(step Step, targetPort int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Step = step
	c.st.TargetPort = targetPort
}

func (c *Controller) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
	c.st.Step = StepIdle
	c.st.TargetPort = 0
	c.st.CountdownSeconds = 0
}

// recordCycle persists one restart_history row and mirrors it to the event
// log. Both are best-effort.
func (c *Controller) recordCycle(ctx context.Context, outcome string, targetPort int, detail string, started time.Time) {
	c.logEvent(ctx, "restart_"+outcome, fmt.Sprintf(`{"target_port":%d,"detail":%q}`, targetPort, detail))
	if c.db == nil {
		return
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO restart_history (outcome, target_port, detail, started_at, finished_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		outcome, targetPort, detail, started.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: restart history: %v\n", err)
	}
}

func probeURL(port int, path string) string {
	if path == "" {
		path = "/health"
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}
