package executor

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// runState accumulates everything learned from the record stream. It is
// driven synchronously by apply and never touched by more than one goroutine.
type runState struct {
	messages []domain.Message
	usage    domain.Usage
	model    string
	progress *domain.AgentProgress
	started  time.Time
}

func newRunState(progress *domain.AgentProgress, started time.Time) *runState {
	return &runState{progress: progress, started: started}
}

// apply folds one record into the state. changed reports whether progress
// moved; force marks tool boundaries that should be shown immediately.
func (s *runState) apply(rec Record, now time.Time) (changed, force bool) {
	s.progress.DurationMs = now.Sub(s.started).Milliseconds()

	switch rec.Type {
	case RecordToolStart:
		s.progress.CurrentTool = rec.Get("toolName").String()
		s.progress.CurrentToolArgs = summarizeArgs(rec.Get("args").Raw)
		return true, true

	case RecordToolEnd:
		s.progress.PushTool(domain.ToolCall{
			Tool:    firstNonEmpty(rec.Get("toolName").String(), s.progress.CurrentTool),
			Args:    s.progress.CurrentToolArgs,
			EndedAt: now,
		})
		s.progress.ToolCount++
		s.progress.CurrentTool = ""
		s.progress.CurrentToolArgs = ""
		return true, true

	case RecordMessageEnd:
		msg := rec.Get("message")
		if !msg.Exists() {
			return false, false
		}
		m := parseMessage(msg)
		if m.Role != domain.RoleAssistant {
			return false, false
		}
		s.messages = append(s.messages, m)
		s.usage.Add(parseUsage(msg))
		if m.Model != "" {
			s.model = m.Model
		}
		s.progress.Tokens = s.usage.Tokens()
		return true, false

	case RecordToolResultEnd:
		msg := rec.Get("message")
		if !msg.Exists() {
			return false, false
		}
		m := parseMessage(msg)
		if m.Role == "" {
			m.Role = domain.RoleToolResult
		}
		s.messages = append(s.messages, m)
		s.progress.PushOutput(m.Text)
		return true, false
	}
	return false, false
}

// summarizeArgs shortens tool arguments for progress display
func summarizeArgs(raw string) string {
	const max = 120
	if len(raw) <= max {
		return raw
	}
	return strings.ToValidUTF8(raw[:max], "") + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func decimalFromJSON(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
