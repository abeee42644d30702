// Package resolve computes per-step task templates and effective behaviors
// for chain runs.
package resolve

import (
	"strings"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// Placeholders recognised in task templates
const (
	PlaceholderTask     = "{task}"
	PlaceholderPrevious = "{previous}"
	PlaceholderChainDir = "{chain_dir}"
)

// StepTemplate holds the unsubstituted template(s) of one chain step. Task is
// set for sequential steps, Items (one per parallel item) for parallel steps.
type StepTemplate struct {
	Kind  domain.StepKind
	Task  string
	Items []string
}

// Templates returns the template of every step. Explicit tasks are used
// verbatim; otherwise the first step defaults to {task} and every later step
// to {previous}.
func Templates(steps []domain.ChainStep) []StepTemplate {
	out := make([]StepTemplate, len(steps))
	for i, step := range steps {
		def := PlaceholderPrevious
		if i == 0 {
			def = PlaceholderTask
		}

		if step.Kind == domain.StepParallel {
			items := make([]string, len(step.Parallel.Items))
			for j, item := range step.Parallel.Items {
				items[j] = orDefault(item.Task, def)
			}
			out[i] = StepTemplate{Kind: domain.StepParallel, Items: items}
			continue
		}
		out[i] = StepTemplate{Kind: domain.StepSequential, Task: orDefault(step.Sequential.Task, def)}
	}
	return out
}

func orDefault(task, def string) string {
	if strings.TrimSpace(task) == "" {
		return def
	}
	return task
}

// Substitute replaces the three placeholders in template
func Substitute(template, task, previous, chainDir string) string {
	r := strings.NewReplacer(
		PlaceholderTask, task,
		PlaceholderPrevious, previous,
		PlaceholderChainDir, chainDir,
	)
	return r.Replace(template)
}

// UsesPrevious reports whether template references the previous output
func UsesPrevious(template string) bool {
	return strings.Contains(template, PlaceholderPrevious)
}
