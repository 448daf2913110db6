// Package main implements the emepath-dash interactive dashboard.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	jsonMode := flag.Bool("json", false, "print a one-shot JSON snapshot and exit")
	flag.Parse()

	client := newClient(defaultBaseURL())

	if *jsonMode {
		if err := printSnapshot(os.Stdout, client); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	p := tea.NewProgram(newModel(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

// printSnapshot writes one JSON document with everything the dashboard shows.
// Intended for scripts and non-interactive callers.
func printSnapshot(w *os.File, client *apiClient) error {
	ctx := context.Background()
	snap := map[string]any{}

	health, err := client.fetchHealth(ctx)
	if err != nil {
		return fmt.Errorf("control API unreachable: %w", err)
	}
	snap["health"] = health

	if agents, err := client.fetchAgents(ctx); err == nil {
		snap["agents"] = agents
	}
	if jobs, err := client.fetchJobs(ctx); err == nil {
		snap["jobs"] = jobs
	}
	if watch, err := client.fetchWatch(ctx); err == nil {
		snap["watch"] = watch
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
