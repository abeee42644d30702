package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

const (
	tabJobs = iota
	tabCompleted
	tabCount
)

// maxCompletions bounds the completion history shown in the Completed tab
const maxCompletions = 50

// Model is the job monitor model
type Model struct {
	// Data
	jobs        []async.JobInfo
	completions []domain.AsyncResult
	asyncRoot   string

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	detail      string
	showDetail  bool

	lastRefresh time.Time
	now         func() time.Time
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	AsyncRoot string
	Jobs      []async.JobInfo
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	return Model{
		asyncRoot: cfg.AsyncRoot,
		jobs:      cfg.Jobs,
		now:       time.Now,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// TickMsg re-renders elapsed times
type TickMsg time.Time

// JobsMsg carries a fresh job list from the poller
type JobsMsg []async.JobInfo

// CompletionMsg carries a completion event for the owning session
type CompletionMsg domain.AsyncResult

// DetailMsg carries the formatted status of one job
type DetailMsg struct {
	ID   string
	Text string
	Err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// JobSink forwards poller updates into a running program
func JobSink(p *tea.Program) async.JobSink {
	return func(jobs []async.JobInfo) {
		p.Send(JobsMsg(jobs))
	}
}

// CompletionSink forwards watcher completion events into a running program
func CompletionSink(p *tea.Program) async.CompletionHandler {
	return func(res domain.AsyncResult) {
		p.Send(CompletionMsg(res))
	}
}

func (m Model) counts() (running, queued, finished int) {
	for _, j := range m.jobs {
		switch {
		case j.State == domain.JobRunning:
			running++
		case j.State == domain.JobQueued:
			queued++
		case j.State.Terminal():
			finished++
		}
	}
	return running, queued, finished
}

func (m Model) rows() int {
	if m.activeTab == tabCompleted {
		return len(m.completions)
	}
	return len(m.jobs)
}
