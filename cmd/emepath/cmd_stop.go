package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"emepath/pkg/config"
	"emepath/pkg/eventlog"
	"emepath/pkg/stack"
	"emepath/pkg/state"
	"emepath/pkg/supervisor"
)

// newStopCmd creates the "emepath stop" subcommand.
func newStopCmd() *cobra.Command {
	var (
		force bool
		wide  bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Graceful shutdown of the daemon",
		Long:  "Signals the daemon via its PID file. The daemon stops the service fleet\nand removes the PID file on exit.\n\nWith --force, SIGKILLs every process in the stack registry directly,\nfor when the daemon itself is wedged. --wide additionally discovers\nlisteners on the configured port range.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := config.ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			if force {
				return runForcedStop(cmd, paths, wide)
			}

			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}

			switch status {
			case StatusStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "emepath is not running")
				return nil
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return RemovePIDFile(paths.PIDPath)
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to emepath (PID %d)\n", pid)
				if err := StopDaemon(paths.PIDPath); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "SIGKILL registered stack processes instead of signaling the daemon")
	cmd.Flags().BoolVar(&wide, "wide", false, "with --force, also kill listeners on the configured port range")

	return cmd
}

// runForcedStop kills registered stack processes directly from the state
// database. Used when the daemon cannot be reached.
func runForcedStop(cmd *cobra.Command, paths *config.Paths, wide bool) error {
	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return err
	}
	db, err := state.Open(paths.StateDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sup := supervisor.New(paths.Home, stack.NewRegistry(db), eventlog.New(db))

	opts := supervisor.ForcedStopOpts{Scope: supervisor.ScopeStrict}
	if wide || cfg.WideKill {
		opts.Scope = supervisor.ScopeWide
		opts.Ports = portRange(cfg)
	}

	killed := sup.ForcedStop(cmd.Context(), opts)
	fmt.Fprintf(cmd.OutOrStdout(), "forced stop (%s scope): killed %d process(es)\n", opts.Scope, len(killed))

	if err := RemovePIDFile(paths.PIDPath); err != nil {
		return err
	}
	return nil
}

// portRange expands the configured service and alternate ports for wide
// discovery.
func portRange(cfg config.Config) []int {
	ports := []int{cfg.Port}
	for _, svc := range cfg.Services {
		if svc.Port > 0 {
			ports = append(ports, svc.Port)
		}
	}
	for p := cfg.PortStart; p <= cfg.PortEnd; p++ {
		ports = append(ports, p)
	}
	return ports
}
