package supervisor

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"emepath/pkg/stack"
)

// StopScope selects which processes a forced stop may signal.
type StopScope string

// Forced-stop scopes. Strict is the default and the safety-preferred path:
// only PIDs present in the registry are signaled. Wide additionally
// discovers listeners on the known port list and processes matching the
// configured name patterns, and must be explicitly opted into.
const (
	ScopeStrict StopScope = "strict"
	ScopeWide   StopScope = "wide"
)

// ForcedStopOpts configures a forced stop.
type ForcedStopOpts struct {
	Scope StopScope

	// Ports and NamePatterns feed wide-scope discovery. Ignored under strict.
	Ports        []int
	NamePatterns []string

	// Runner executes lsof/pgrep for wide discovery. Defaults to ExecRunner.
	Runner stack.CommandRunner
}

// ForcedStop signals every process the scope permits with SIGKILL and clears
// their registry entries. The supervisor's own process id is never a valid
// kill target in either mode, even if a malformed discovery result includes
// it. Returns the PIDs actually signaled.
func (s *Supervisor) ForcedStop(ctx context.Context, opts ForcedStopOpts) []int {
	self := os.Getpid()
	seen := map[int]bool{0: true}
	var targets []int

	entries, err := s.reg.ListAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: forced stop registry list: %v\n", err)
	}
	for _, e := range entries {
		if !seen[e.PID] {
			seen[e.PID] = true
			targets = append(targets, e.PID)
		}
	}

	if opts.Scope == ScopeWide {
		runner := opts.Runner
		if runner == nil {
			runner = stack.ExecRunner{}
		}
		for _, pid := range stack.ListenersOnPorts(ctx, runner, opts.Ports) {
			if !seen[pid] {
				seen[pid] = true
				targets = append(targets, pid)
			}
		}
		for _, pid := range stack.MatchProcessNames(ctx, runner, opts.NamePatterns) {
			if !seen[pid] {
				seen[pid] = true
				targets = append(targets, pid)
			}
		}
	}

	var killed []int
	for _, pid := range targets {
		if pid == self {
			// Self-protection: never signal our own process, no matter
			// what the registry or a malformed discovery result claims.
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
			continue
		}
		killed = append(killed, pid)
		_ = s.reg.RemoveByPID(ctx, pid)
	}

	s.logEvent(ctx, "forced_stop", fmt.Sprintf(`{"scope":%q,"killed":%d}`, opts.Scope, len(killed)))
	return killed
}
