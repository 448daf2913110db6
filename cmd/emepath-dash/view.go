package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// View implements tea.Model.
func (m Model) View() string {
	var sb strings.Builder

	sb.WriteString(m.renderHeader())
	sb.WriteString("\n")
	sb.WriteString(m.renderWatchLine())
	sb.WriteString("\n\n")
	sb.WriteString(m.renderAgentsTable())
	sb.WriteString("\n")
	sb.WriteString(m.renderJobs())
	sb.WriteString("\n")
	sb.WriteString(m.renderFooter())

	return sb.String()
}

func (m Model) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary).Render("emepath")

	if m.offline || m.health == nil {
		status := lipgloss.NewStyle().Foreground(m.theme.Error).Render("offline")
		return fmt.Sprintf("%s %s %s", title, m.spin.View(), status)
	}

	state := lipgloss.NewStyle().Foreground(m.theme.Success).Render("running")
	if m.health.Paused {
		state = lipgloss.NewStyle().Foreground(m.theme.Warning).Render("paused")
	}
	version := lipgloss.NewStyle().Foreground(m.theme.Muted).Render(m.health.Version)
	return fmt.Sprintf("%s %s  queue %s  %d job(s) active", title, version, state, m.health.Running)
}

func (m Model) renderWatchLine() string {
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)
	if m.watch == nil || !m.watch.Active {
		return muted.Render("watcher: off")
	}
	switch {
	case m.watch.CountdownSeconds > 0:
		warn := lipgloss.NewStyle().Foreground(m.theme.Warning)
		return warn.Render(fmt.Sprintf("watcher: restart in %ds", m.watch.CountdownSeconds))
	case m.watch.Step != "" && m.watch.Step != "idle":
		warn := lipgloss.NewStyle().Foreground(m.theme.Warning)
		return warn.Render(fmt.Sprintf("watcher: %s (port %d)", m.watch.Step, m.watch.TargetPort))
	default:
		return muted.Render("watcher: idle")
	}
}

func (m Model) renderAgentsTable() string {
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)
	if len(m.agents) == 0 {
		return muted.Render("no agents")
	}

	var sb strings.Builder
	header := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Primary)
	sb.WriteString(header.Render(fmt.Sprintf("%-5s %-8s %-24s %-10s %6s  %s",
		"ID", "Kind", "Goal", "Status", "EOTs", "Note")))
	sb.WriteString("\n")
	sb.WriteString(muted.Render(strings.Repeat("-", 72)))
	sb.WriteString("\n")

	for _, a := range m.agents {
		sb.WriteString(fmt.Sprintf("%-5d %-8s %-24s %-10s %6d  %s\n",
			a.ID, a.Kind, clip(a.Goal, 24), m.renderStatus(a.Status), a.EOTs, clip(a.LastNote, 30)))
	}
	return sb.String()
}

func (m Model) renderStatus(status string) string {
	var color lipgloss.Color
	switch status {
	case "done":
		color = m.theme.Success
	case "failed":
		color = m.theme.Error
	case "running":
		color = m.theme.Primary
	case "paused", "skipped":
		color = m.theme.Warning
	default:
		color = m.theme.Muted
	}
	return lipgloss.NewStyle().Foreground(color).Render(status)
}

func (m Model) renderJobs() string {
	muted := lipgloss.NewStyle().Foreground(m.theme.Muted)
	if len(m.jobs) == 0 {
		return muted.Render("no jobs")
	}

	var sb strings.Builder
	// Most recent jobs first, capped so the board stays above the fold.
	shown := m.jobs
	if len(shown) > 8 {
		shown = shown[:8]
	}
	for _, j := range shown {
		line := fmt.Sprintf("%s  %s", clip(j.ID, 12), m.renderStatus(j.Status))
		if j.Error != "" {
			line += "  " + lipgloss.NewStyle().Foreground(m.theme.Error).Render(clip(j.Error, 40))
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m Model) renderFooter() string {
	return lipgloss.NewStyle().Foreground(m.theme.Muted).
		Render("q quit · p pause/resume · r refresh")
}

// clip shortens s to at most n characters, appending "…" when truncated.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	return s[:n-1] + "…"
}
