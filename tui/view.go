package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("238"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	running, queued, finished := m.counts()
	header := fmt.Sprintf(" Subagents │ Running: %d │ Queued: %d │ Finished: %d │ Completions: %d ",
		running, queued, finished, len(m.completions))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabJobs:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderJobs()))
		b.WriteString("\n")
		if m.showDetail {
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderDetail()))
			b.WriteString("\n")
		}
	case tabCompleted:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderCompletions()))
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Jobs", "Completed"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderJobs() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("JOBS"))
	b.WriteString("\n")

	if len(m.jobs) == 0 {
		b.WriteString(queuedStyle.Render("  No async jobs"))
		return b.String()
	}

	for i, job := range m.jobs {
		line := m.formatJobLine(job)
		switch job.State {
		case domain.JobRunning:
			line = runningStyle.Render(line)
		case domain.JobFailed:
			line = failedStyle.Render(line)
		case domain.JobComplete:
			line = dimmedStyle.Render(line)
		default:
			line = queuedStyle.Render(line)
		}
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) formatJobLine(job async.JobInfo) string {
	icon := "○"
	switch job.State {
	case domain.JobRunning:
		icon = "●"
	case domain.JobComplete:
		icon = "✓"
	case domain.JobFailed:
		icon = "✗"
	}

	step := ""
	if job.StepCount > 1 {
		step = fmt.Sprintf("step %d/%d", job.CurrentStep+1, job.StepCount)
	}
	agents := truncate(strings.Join(job.Agents, " → "), 30)
	elapsed := ""
	if job.StartedAt > 0 {
		end := m.now()
		if job.State.Terminal() {
			end = time.UnixMilli(job.LastUpdate)
		}
		elapsed = formatDuration(end.Sub(time.UnixMilli(job.StartedAt)))
	}

	line := fmt.Sprintf("  %s %-12s %-8s %-30s %-10s %6s", icon, job.ID, job.State, agents, step, elapsed)
	if job.Error != "" {
		line += "  " + truncate(job.Error, 40)
	}
	return line
}

func (m Model) renderDetail() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("DETAIL"))
	b.WriteString("\n")
	b.WriteString(m.detail)
	return b.String()
}

func (m Model) renderCompletions() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("COMPLETED THIS SESSION"))
	b.WriteString("\n")

	if len(m.completions) == 0 {
		b.WriteString(queuedStyle.Render("  No completions yet"))
		return b.String()
	}

	for i, res := range m.completions {
		icon, style := "✓", runningStyle
		if !res.Success {
			icon, style = "✗", warningStyle
		}
		when := humanize.Time(time.UnixMilli(res.Timestamp))
		line := fmt.Sprintf("  %s %-12s %-30s %-14s %s", icon, res.ID, truncate(res.Agent, 30), when,
			truncate(firstLine(res.Summary), 50))
		line = style.Render(line)
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	refreshed := "never"
	if !m.lastRefresh.IsZero() {
		refreshed = humanize.Time(m.lastRefresh)
	}
	bar := fmt.Sprintf(" tab: switch │ j/k: move │ enter: detail │ esc: close │ q: quit │ updated %s ", refreshed)
	return statusBarStyle.Width(m.width).Render(bar)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return strings.ToValidUTF8(s[:max], "")
	}
	return strings.ToValidUTF8(s[:max-3], "") + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
