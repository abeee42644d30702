package executor

import (
	"fmt"
	"os"
	"strings"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/skills"
)

// BuildSystemPrompt constructs the system prompt handed to the subordinate
// agent: the agent's own prompt followed by any injected skills
func BuildSystemPrompt(agent domain.AgentDefinition, loaded []skills.Skill) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(agent.SystemPrompt))
	sb.WriteString(skills.PromptSection(loaded))
	return strings.TrimSpace(sb.String())
}

// writePromptFile writes the system prompt to a temp file and returns its
// path along with a cleanup func. An empty prompt writes nothing.
func writePromptFile(agentName, prompt string) (string, func(), error) {
	if prompt == "" {
		return "", func() {}, nil
	}
	f, err := os.CreateTemp("", fmt.Sprintf("subagent-%s-*.md", sanitizeName(agentName)))
	if err != nil {
		return "", nil, fmt.Errorf("creating system prompt file: %w", err)
	}
	if _, err := f.WriteString(prompt); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("writing system prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '*' || r == ' ' {
			return '-'
		}
		return r
	}, s)
}
