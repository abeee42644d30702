// Package skills resolves skill names to SKILL.md files on disk.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SkillFile is the file name a skill directory must contain
const SkillFile = "SKILL.md"

// Skill is a resolved skill
type Skill struct {
	Name    string
	Path    string
	Content string
}

// Resolver looks skills up in an ordered list of directories. Earlier
// directories win.
type Resolver struct {
	dirs []string
}

// NewResolver creates a resolver over dirs
func NewResolver(dirs ...string) *Resolver {
	return &Resolver{dirs: dirs}
}

// DefaultDirs returns the skill directories searched when none are configured
func DefaultDirs(cwd string) []string {
	dirs := []string{filepath.Join(cwd, ".subagents", "skills")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(home, ".config", "claude-subagents", "skills"),
			filepath.Join(home, ".claude", "skills"),
		)
	}
	return dirs
}

// Resolve loads the named skills. Names that cannot be found are returned in
// missing rather than as an error.
func (r *Resolver) Resolve(names []string) (found []Skill, missing []string) {
	for _, name := range names {
		skill, ok := r.find(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		found = append(found, skill)
	}
	return found, missing
}

func (r *Resolver) find(name string) (Skill, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return Skill{}, false
	}
	for _, dir := range r.dirs {
		path := filepath.Join(dir, name, SkillFile)
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return Skill{Name: name, Path: path, Content: strings.TrimSpace(string(content))}, true
	}
	return Skill{}, false
}

// PromptSection renders skills for inclusion in a system prompt
func PromptSection(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range skills {
		fmt.Fprintf(&sb, "\n\n<skill name=%q path=%q>\n%s\n</skill>", s.Name, s.Path, s.Content)
	}
	return sb.String()
}

// Names returns the names of skills
func Names(skills []Skill) []string {
	names := make([]string, len(skills))
	for i, s := range skills {
		names[i] = s.Name
	}
	return names
}
