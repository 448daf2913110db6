package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"emepath/pkg/config"
)

// healthReply mirrors the control API health payload.
type healthReply struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	Version string `json:"version"`
	Paused  bool   `json:"paused"`
	Running int    `json:"running"`
}

// watchReply mirrors the watcher state payload.
type watchReply struct {
	Active           bool   `json:"active"`
	CountdownSeconds int    `json:"countdownSeconds"`
	Step             string `json:"step"`
	TargetPort       int    `json:"targetPort"`
}

// newStatusCmd creates the "emepath status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and watcher state",
		Long:  "Displays daemon liveness from the PID file, then queries the control API\nfor queue and watcher state when the daemon is running.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()

			paths, err := config.ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}
			status, pid, err := DaemonStatus(paths.PIDPath)
			if err != nil {
				return err
			}
			switch status {
			case StatusStopped:
				fmt.Fprintln(w, "emepath: not running")
				return nil
			case StatusStale:
				fmt.Fprintf(w, "emepath: stale PID file (PID %d is dead)\n", pid)
				return nil
			case StatusRunning:
				fmt.Fprintf(w, "emepath: running (PID %d)\n", pid)
			}

			base, err := apiBase()
			if err != nil {
				return err
			}

			var h healthReply
			if err := apiCall(cmd.Context(), "GET", base+"/health", &h); err != nil {
				fmt.Fprintf(w, "control API: unreachable (%v)\n", err)
				return nil
			}
			queueState := "running"
			if h.Paused {
				queueState = "paused"
			}
			fmt.Fprintf(w, "version: %s\n", h.Version)
			fmt.Fprintf(w, "queue: %s, %d job(s) active\n", queueState, h.Running)

			// The watch snapshot arrives wrapped: {"ok":true,"watch":{...}}.
			var wrap struct {
				Watch watchReply `json:"watch"`
			}
			if err := apiCall(cmd.Context(), "GET", base+"/watch/state", &wrap); err != nil {
				return nil
			}
			ws := wrap.Watch
			switch {
			case !ws.Active:
				fmt.Fprintln(w, "watcher: off")
			case ws.CountdownSeconds > 0:
				fmt.Fprintf(w, "watcher: restart in %ds\n", ws.CountdownSeconds)
			case ws.Step != "idle" && ws.Step != "":
				fmt.Fprintf(w, "watcher: %s (target port %d)\n", ws.Step, ws.TargetPort)
			default:
				fmt.Fprintln(w, "watcher: idle")
			}
			return nil
		},
	}
}
