package stack

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes an external command and returns its combined output.
// Production impl shells out; tests inject canned output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is the production CommandRunner.
type ExecRunner struct{}

// Run executes name with args and returns stdout.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", name, err)
	}
	return out, nil
}

// ListenersOnPorts discovers PIDs listening on the given TCP ports by
// shelling out to lsof. This is a best-effort, opt-in discovery path for
// wide-scope forced stops only. lsof may be missing on minimal hosts, and
// the result can include unrelated processes. Never use it as the default
// discovery mechanism.
func ListenersOnPorts(ctx context.Context, runner CommandRunner, tcpPorts []int) []int {
	var pids []int
	seen := make(map[int]bool)
	for _, port := range tcpPorts {
		out, err := runner.Run(ctx, "lsof", "-t", "-i", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			pid, err := strconv.Atoi(line)
			if err != nil || seen[pid] {
				continue
			}
			seen[pid] = true
			pids = append(pids, pid)
		}
	}
	return pids
}

// MatchProcessNames discovers PIDs whose command line matches any of the
// given patterns via pgrep -f. Best-effort and opt-in, same caveats as
// ListenersOnPorts.
func MatchProcessNames(ctx context.Context, runner CommandRunner, patterns []string) []int {
	var pids []int
	seen := make(map[int]bool)
	for _, pattern := range patterns {
		out, err := runner.Run(ctx, "pgrep", "-f", pattern)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			pid, err := strconv.Atoi(line)
			if err != nil || seen[pid] {
				continue
			}
			seen[pid] = true
			pids = append(pids, pid)
		}
	}
	return pids
}
