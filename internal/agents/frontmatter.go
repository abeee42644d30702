package agents

import (
	"bytes"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header of an agent definition file
type Frontmatter struct {
	Name            string              `yaml:"name"`
	Description     string              `yaml:"description"`
	Model           string              `yaml:"model"`
	Tools           domain.ListOverride `yaml:"tools"`
	Skills          domain.ListOverride `yaml:"skills"`
	Output          string              `yaml:"output"`
	DefaultReads    domain.ListOverride `yaml:"defaultReads"`
	DefaultProgress bool                `yaml:"defaultProgress"`
}

// ParseFrontmatter extracts YAML frontmatter from markdown content.
// Returns the frontmatter, remaining content, and any error
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Frontmatter{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Frontmatter{}, content, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:] // skip \n---

	var fm Frontmatter
	if err := yaml.Unmarshal(fmData, &fm); err != nil {
		return nil, nil, err
	}

	return &fm, bytes.TrimLeft(remaining, "\n"), nil
}
