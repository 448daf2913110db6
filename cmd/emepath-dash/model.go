package main

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// tickMsg triggers a periodic refresh from the control API.
type tickMsg time.Time

// healthMsg carries the daemon health. nil means the daemon is offline.
type healthMsg *HealthInfo

// agentsMsg carries the fetched agent list.
type agentsMsg []AgentRow

// jobsMsg carries the fetched job list.
type jobsMsg []JobRow

// watchMsg carries the watcher state. nil means it could not be fetched.
type watchMsg *WatchInfo

// toggledMsg reports the outcome of a pause/resume request.
type toggledMsg struct{ err error }

// tickCmd returns a command that sends a tickMsg after 2 seconds.
func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the Bubble Tea model for the emepath dashboard.
type Model struct {
	client *apiClient
	theme  Theme

	health *HealthInfo
	agents []AgentRow
	jobs   []JobRow
	watch  *WatchInfo

	width   int
	height  int
	offline bool

	spin spinner.Model
}

// newModel creates a Model polling the given client.
func newModel(client *apiClient) Model {
	theme := DefaultTheme()
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.Primary)
	return Model{
		client: client,
		theme:  theme,
		spin:   s,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmds(), m.spin.Tick, tickCmd())
}

// refreshCmds fetches everything the dashboard shows in parallel.
func (m Model) refreshCmds() tea.Cmd {
	client := m.client
	return tea.Batch(
		func() tea.Msg {
			h, err := client.fetchHealth(context.Background())
			if err != nil {
				return healthMsg(nil)
			}
			return healthMsg(h)
		},
		func() tea.Msg {
			agents, _ := client.fetchAgents(context.Background())
			return agentsMsg(agents)
		},
		func() tea.Msg {
			jobs, _ := client.fetchJobs(context.Background())
			return jobsMsg(jobs)
		},
		func() tea.Msg {
			w, _ := client.fetchWatch(context.Background())
			return watchMsg(w)
		},
	)
}

// togglePauseCmd flips the queue between paused and running.
func (m Model) togglePauseCmd() tea.Cmd {
	client := m.client
	paused := m.health != nil && m.health.Paused
	return func() tea.Msg {
		ctx := context.Background()
		if paused {
			return toggledMsg{err: client.resume(ctx)}
		}
		return toggledMsg{err: client.pause(ctx)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "p":
			return m, m.togglePauseCmd()
		case "r":
			return m, m.refreshCmds()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case healthMsg:
		m.health = (*HealthInfo)(msg)
		m.offline = msg == nil

	case agentsMsg:
		m.agents = []AgentRow(msg)

	case jobsMsg:
		m.jobs = []JobRow(msg)

	case watchMsg:
		m.watch = (*WatchInfo)(msg)

	case toggledMsg:
		return m, m.refreshCmds()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.refreshCmds(), tickCmd())
	}

	return m, nil
}
