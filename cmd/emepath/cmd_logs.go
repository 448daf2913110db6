package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"emepath/pkg/config"
	"emepath/pkg/eventlog"
)

// logsConfig holds configuration for the logs command.
type logsConfig struct {
	tail   int
	follow bool
	jobID  string
	evType string
}

// newLogsCmd creates the "emepath logs" subcommand.
func newLogsCmd() *cobra.Command {
	var cfg logsConfig

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query and tail control-plane events",
		Long:  "Displays events from the control-plane event log.\nOptionally filter by job ID or event type and follow new events.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := config.ResolvePaths()
			if err != nil {
				return fmt.Errorf("resolve paths: %w", err)
			}

			reader, err := eventlog.NewReader(paths.StateDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = reader.Close() }()

			w := cmd.OutOrStdout()
			if cfg.follow {
				return followEvents(cmd.Context(), reader, w, cfg)
			}
			return printEvents(cmd.Context(), reader, w, cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.tail, "tail", 20, "number of recent events to show")
	cmd.Flags().BoolVarP(&cfg.follow, "follow", "f", false, "poll for new events every 1s")
	cmd.Flags().StringVar(&cfg.jobID, "job", "", "filter by job ID")
	cmd.Flags().StringVar(&cfg.evType, "type", "", "filter by event type")

	return cmd
}

// printEvents displays the last N matching events in chronological order.
func printEvents(ctx context.Context, reader *eventlog.Reader, w io.Writer, cfg logsConfig) error {
	events, err := reader.Query(ctx, eventlog.QueryOpts{
		JobID:     cfg.jobID,
		EventType: cfg.evType,
		Limit:     cfg.tail,
	})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "no events found")
		return nil
	}
	// Query returns newest first.
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
	}
	return nil
}

// followEvents prints the initial tail then polls for newer events.
func followEvents(ctx context.Context, reader *eventlog.Reader, w io.Writer, cfg logsConfig) error {
	events, err := reader.Query(ctx, eventlog.QueryOpts{
		JobID:     cfg.jobID,
		EventType: cfg.evType,
		Limit:     cfg.tail,
	})
	if err != nil {
		return err
	}

	var since time.Time
	for i := len(events) - 1; i >= 0; i-- {
		formatEvent(w, &events[i])
		since = events[i].CreatedAt
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			after := since.Add(time.Nanosecond)
			batch, err := reader.Query(ctx, eventlog.QueryOpts{
				JobID:     cfg.jobID,
				EventType: cfg.evType,
				After:     &after,
				Limit:     100,
			})
			if err != nil {
				return err
			}
			for i := len(batch) - 1; i >= 0; i-- {
				formatEvent(w, &batch[i])
				since = batch[i].CreatedAt
			}
		}
	}
}

// formatEvent prints one event as a single aligned line.
func formatEvent(w io.Writer, evt *eventlog.Event) {
	var tags []string
	if evt.JobID != "" {
		tags = append(tags, "job="+evt.JobID)
	}
	if evt.AgentID != 0 {
		tags = append(tags, fmt.Sprintf("agent=%d", evt.AgentID))
	}
	suffix := ""
	if len(tags) > 0 {
		suffix = " [" + strings.Join(tags, " ") + "]"
	}
	payload := evt.Payload
	if len(payload) > 120 {
		payload = payload[:117] + "..."
	}
	fmt.Fprintf(w, "%s  %-20s %s%s\n",
		evt.CreatedAt.Local().Format("15:04:05"), evt.Type, payload, suffix)
}
