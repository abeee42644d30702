package domain

import (
	"strings"
	"time"
)

// ProgressStatus is the lifecycle of one in-flight run
type ProgressStatus string

const (
	ProgressPending   ProgressStatus = "pending"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// Ring buffer bounds for AgentProgress
const (
	MaxRecentTools  = 5
	MaxRecentOutput = 50
)

// ToolCall records a recently started tool
type ToolCall struct {
	Tool    string    `json:"tool"`
	Args    string    `json:"args"`
	EndedAt time.Time `json:"endedAt"`
}

// AgentProgress is the live state of one run. Only the owning executor
// mutates it; sinks receive copies via Snapshot.
type AgentProgress struct {
	Index           int            `json:"index"`
	Agent           string         `json:"agent"`
	Status          ProgressStatus `json:"status"`
	Task            string         `json:"task"`
	CurrentTool     string         `json:"currentTool,omitempty"`
	CurrentToolArgs string         `json:"currentToolArgs,omitempty"`
	RecentTools     []ToolCall     `json:"recentTools"`
	RecentOutput    []string       `json:"recentOutput"`
	ToolCount       int            `json:"toolCount"`
	Tokens          int            `json:"tokens"`
	DurationMs      int64          `json:"durationMs"`
	Error           string         `json:"error,omitempty"`
	SkillsMissing   []string       `json:"skillsMissing,omitempty"`
}

// NewAgentProgress returns a pending progress record
func NewAgentProgress(index int, agent, task string) *AgentProgress {
	return &AgentProgress{
		Index:  index,
		Agent:  agent,
		Task:   task,
		Status: ProgressPending,
	}
}

// Transition moves the state machine forward. Terminal states never change.
func (p *AgentProgress) Transition(to ProgressStatus) bool {
	switch p.Status {
	case ProgressCompleted, ProgressFailed:
		return false
	case ProgressRunning:
		if to == ProgressPending {
			return false
		}
	}
	p.Status = to
	return true
}

// PushTool appends a finished tool call, keeping the last MaxRecentTools
func (p *AgentProgress) PushTool(call ToolCall) {
	p.RecentTools = append(p.RecentTools, call)
	if n := len(p.RecentTools); n > MaxRecentTools {
		p.RecentTools = append([]ToolCall(nil), p.RecentTools[n-MaxRecentTools:]...)
	}
}

// PushOutput appends non-blank lines of text, keeping the last MaxRecentOutput
func (p *AgentProgress) PushOutput(text string) {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		p.RecentOutput = append(p.RecentOutput, line)
	}
	if n := len(p.RecentOutput); n > MaxRecentOutput {
		p.RecentOutput = append([]string(nil), p.RecentOutput[n-MaxRecentOutput:]...)
	}
}

// Snapshot returns a deep copy safe to hand to another goroutine
func (p *AgentProgress) Snapshot() AgentProgress {
	cp := *p
	cp.RecentTools = append([]ToolCall(nil), p.RecentTools...)
	cp.RecentOutput = append([]string(nil), p.RecentOutput...)
	cp.SkillsMissing = append([]string(nil), p.SkillsMissing...)
	return cp
}
