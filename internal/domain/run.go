package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Usage accumulates token and cost accounting for one run
type Usage struct {
	Input      int             `json:"input"`
	Output     int             `json:"output"`
	CacheRead  int             `json:"cacheRead"`
	CacheWrite int             `json:"cacheWrite"`
	Cost       decimal.Decimal `json:"cost"`
	Turns      int             `json:"turns"`
}

// Add folds other into u
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
	u.Cost = u.Cost.Add(other.Cost)
	u.Turns += other.Turns
}

// Tokens returns input plus output tokens
func (u Usage) Tokens() int {
	return u.Input + u.Output
}

// Message roles emitted by the subordinate agent
const (
	RoleAssistant  = "assistant"
	RoleToolResult = "toolResult"
	RoleUser       = "user"
)

// Message is one transcript entry of a run
type Message struct {
	Role         string `json:"role"`
	Text         string `json:"text,omitempty"`
	ToolName     string `json:"toolName,omitempty"`
	IsError      bool   `json:"isError,omitempty"`
	StopReason   string `json:"stopReason,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Model        string `json:"model,omitempty"`
}

// ArtifactPaths locates the files kept for one run
type ArtifactPaths struct {
	InputPath    string `json:"inputPath"`
	OutputPath   string `json:"outputPath"`
	JSONLPath    string `json:"jsonlPath"`
	MetadataPath string `json:"metadataPath"`
}

// Truncation describes how the final output was shortened
type Truncation struct {
	Truncated     bool   `json:"truncated"`
	OriginalBytes int    `json:"originalBytes,omitempty"`
	OriginalLines int    `json:"originalLines,omitempty"`
	ArtifactPath  string `json:"artifactPath,omitempty"`
}

// RunResult is the outcome of one subordinate agent invocation
type RunResult struct {
	Agent    string    `json:"agent"`
	Task     string    `json:"task"`
	ExitCode int       `json:"exitCode"`
	Messages []Message `json:"messages"`
	Usage    Usage     `json:"usage"`
	Model    string    `json:"model,omitempty"`
	Error    string    `json:"error,omitempty"`

	// Position of the run inside a chain; TaskIndex is -1 outside parallel steps
	Step      int `json:"step"`
	TaskIndex int `json:"taskIndex"`

	DurationMs int64 `json:"durationMs"`
	Cancelled  bool  `json:"cancelled,omitempty"`
	Skipped    bool  `json:"skipped,omitempty"`

	Skills        []string `json:"skills,omitempty"`
	SkillsMissing []string `json:"skillsMissing,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`

	Progress   *AgentProgress `json:"progress,omitempty"`
	Artifacts  *ArtifactPaths `json:"artifactPaths,omitempty"`
	Truncation *Truncation    `json:"truncation,omitempty"`

	// OutputText replaces the final assistant text when truncation applied
	OutputText string `json:"outputText,omitempty"`
}

// Failed reports whether the run did not succeed
func (r *RunResult) Failed() bool {
	return r.ExitCode != 0
}

// FinalOutput returns the text handed to the next chain step: the truncated
// text when truncation applied, otherwise the last assistant text.
func (r *RunResult) FinalOutput() string {
	if r.Truncation != nil {
		return r.OutputText
	}
	return LastAssistantText(r.Messages)
}

// LastAssistantText returns the text of the last assistant message that has any
func LastAssistantText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == RoleAssistant && strings.TrimSpace(m.Text) != "" {
			return m.Text
		}
	}
	return ""
}
