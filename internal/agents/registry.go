// Package agents discovers agent definitions and serves them read-only.
package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// ErrUnknownAgent is returned when a chain or call names an agent that was not discovered
var ErrUnknownAgent = errors.New("unknown agent")

// Scope selects which agent directories are searched
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeBoth    Scope = "both"
)

// ProjectAgentsDir is the project-local agents directory relative to a project root
var ProjectAgentsDir = filepath.Join(".subagents", "agents")

// Registry holds the agent definitions discovered at orchestration start
type Registry struct {
	agents map[string]domain.AgentDefinition
}

// NewRegistry builds a registry from explicit definitions. Later definitions
// shadow earlier ones with the same name.
func NewRegistry(defs ...domain.AgentDefinition) *Registry {
	r := &Registry{agents: make(map[string]domain.AgentDefinition, len(defs))}
	for _, d := range defs {
		r.agents[d.Name] = d
	}
	return r
}

// Discover loads definitions from userDir and projectDir according to scope.
// Project definitions win on name collisions.
func Discover(userDir, projectDir string, scope Scope) (*Registry, error) {
	var defs []domain.AgentDefinition

	if scope != ScopeProject && userDir != "" {
		found, err := LoadDir(userDir, domain.SourceUser)
		if err != nil {
			return nil, err
		}
		defs = append(defs, found...)
	}
	if scope != ScopeUser && projectDir != "" {
		found, err := LoadDir(projectDir, domain.SourceProject)
		if err != nil {
			return nil, err
		}
		defs = append(defs, found...)
	}

	return NewRegistry(defs...), nil
}

// LoadDir parses every markdown file in dir. A missing directory yields no agents.
func LoadDir(dir string, source domain.AgentSource) ([]domain.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading agents dir %s: %w", dir, err)
	}

	var defs []domain.AgentDefinition
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := ParseAgentFile(path, source)
		if err != nil {
			slog.Warn("skipping agent file", "path", path, "error", err)
			continue
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// ParseAgentFile parses one agent definition. The body after the front matter
// becomes the system prompt; the name defaults to the file name.
func ParseAgentFile(path string, source domain.AgentSource) (*domain.AgentDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}

	name := fm.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	return &domain.AgentDefinition{
		Name:            name,
		Description:     fm.Description,
		Model:           fm.Model,
		Tools:           fm.Tools.Values,
		SystemPrompt:    strings.TrimSpace(string(body)),
		Skills:          fm.Skills.Values,
		Output:          fm.Output,
		DefaultReads:    fm.DefaultReads.Values,
		DefaultProgress: fm.DefaultProgress,
		Source:          source,
		FilePath:        path,
	}, nil
}

// FindProjectAgentsDir walks up from dir looking for rel, which defaults to
// .subagents/agents
func FindProjectAgentsDir(dir, rel string) string {
	if rel == "" {
		rel = ProjectAgentsDir
	}
	for {
		candidate := filepath.Join(dir, rel)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Get returns the definition with the given name
func (r *Registry) Get(name string) (domain.AgentDefinition, bool) {
	def, ok := r.agents[name]
	return def, ok
}

// Lookup is Get with an error listing the available agents
func (r *Registry) Lookup(name string) (domain.AgentDefinition, error) {
	if def, ok := r.agents[name]; ok {
		return def, nil
	}
	available := r.Names()
	if len(available) == 0 {
		return domain.AgentDefinition{}, fmt.Errorf("%w: %q (no agents discovered)", ErrUnknownAgent, name)
	}
	return domain.AgentDefinition{}, fmt.Errorf("%w: %q (available: %s)", ErrUnknownAgent, name, strings.Join(available, ", "))
}

// Names returns all agent names sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all definitions sorted by name
func (r *Registry) List() []domain.AgentDefinition {
	defs := make([]domain.AgentDefinition, 0, len(r.agents))
	for _, name := range r.Names() {
		defs = append(defs, r.agents[name])
	}
	return defs
}
