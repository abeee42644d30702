package executor

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

var exitCodePattern = regexp.MustCompile(`(?i)(?:exit code|exited with code|exit status|process exited with)[:\s]+(-?\d+)`)

var failurePhrases = []string{
	"command not found",
	"permission denied",
	"segmentation fault",
	"core dumped",
	"fatal error",
}

// detectError looks for an in-band failure the child reported while still
// exiting 0. Only the final assistant message and the tool results after the
// last assistant text are inspected, so failures the agent recovered from do
// not count.
func detectError(messages []domain.Message) (string, bool) {
	lastText := -1
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != domain.RoleAssistant {
			continue
		}
		if m.StopReason == "error" || m.ErrorMessage != "" {
			return firstNonEmpty(m.ErrorMessage, "agent stopped with an error"), true
		}
		if strings.TrimSpace(m.Text) != "" {
			lastText = i
			break
		}
	}

	for i := len(messages) - 1; i > lastText; i-- {
		m := messages[i]
		if m.Role != domain.RoleToolResult {
			continue
		}
		if msg, ok := toolResultError(m); ok {
			return msg, true
		}
		break
	}
	return "", false
}

func toolResultError(m domain.Message) (string, bool) {
	text := m.Text
	if match := exitCodePattern.FindStringSubmatch(text); match != nil {
		if code, err := strconv.Atoi(match[1]); err == nil && code != 0 {
			return describe(m, "exit code "+match[1]), true
		}
	}
	lower := strings.ToLower(text)
	for _, phrase := range failurePhrases {
		if strings.Contains(lower, phrase) {
			return describe(m, phrase), true
		}
	}
	if m.IsError {
		return describe(m, firstLine(text)), true
	}
	return "", false
}

func describe(m domain.Message, what string) string {
	if m.ToolName != "" {
		return m.ToolName + " failed: " + what
	}
	return "tool failed: " + what
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = strings.ToValidUTF8(s[:200], "") + "..."
	}
	return s
}
