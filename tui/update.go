package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			if m.selectedRow < m.rows()-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
			m.showDetail = false
		case "enter":
			if m.activeTab == tabJobs && m.selectedRow < len(m.jobs) {
				job := m.jobs[m.selectedRow]
				return m, loadDetail(job.ID, job.Dir)
			}
		case "esc":
			m.showDetail = false
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tickCmd()

	case JobsMsg:
		m.jobs = msg
		m.lastRefresh = m.now()
		if m.selectedRow >= m.rows() {
			m.selectedRow = max(m.rows()-1, 0)
		}

	case CompletionMsg:
		m.completions = append([]domain.AsyncResult{domain.AsyncResult(msg)}, m.completions...)
		if len(m.completions) > maxCompletions {
			m.completions = m.completions[:maxCompletions]
		}

	case DetailMsg:
		m.showDetail = true
		if msg.Err != nil {
			m.detail = "Error: " + msg.Err.Error()
		} else {
			m.detail = msg.Text
		}
	}

	return m, nil
}

// loadDetail reads the status file of a job off the UI goroutine
func loadDetail(id, dir string) tea.Cmd {
	return func() tea.Msg {
		text, err := async.FormatStatus(dir)
		return DetailMsg{ID: id, Text: text, Err: err}
	}
}
