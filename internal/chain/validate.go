package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// ErrInvalidChain marks a malformed chain detected before anything runs
var ErrInvalidChain = errors.New("invalid chain")

// Validate checks a chain before any process is spawned: every step names a
// known agent, parallel steps have items, and the first unit carries an
// explicit task.
func Validate(steps []domain.ChainStep, registry *agents.Registry) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: chain has no steps", ErrInvalidChain)
	}

	for i, step := range steps {
		switch step.Kind {
		case domain.StepSequential:
			if step.Sequential == nil {
				return fmt.Errorf("%w: step %d has no agent", ErrInvalidChain, i+1)
			}
			if err := validateItem(registry, step.Sequential, fmt.Sprintf("step %d", i+1)); err != nil {
				return err
			}
		case domain.StepParallel:
			if step.Parallel == nil || len(step.Parallel.Items) == 0 {
				return fmt.Errorf("%w: parallel step %d has no items", ErrInvalidChain, i+1)
			}
			if step.Parallel.Concurrency < 0 {
				return fmt.Errorf("%w: parallel step %d has negative concurrency", ErrInvalidChain, i+1)
			}
			for j := range step.Parallel.Items {
				if err := validateItem(registry, &step.Parallel.Items[j], fmt.Sprintf("step %d task %d", i+1, j+1)); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: step %d has unknown kind %q", ErrInvalidChain, i+1, step.Kind)
		}
	}

	first := steps[0]
	firstTask := ""
	if first.Kind == domain.StepParallel {
		firstTask = first.Parallel.Items[0].Task
	} else {
		firstTask = first.Sequential.Task
	}
	if strings.TrimSpace(firstTask) == "" {
		return fmt.Errorf("%w: the first step must define a task", ErrInvalidChain)
	}
	return nil
}

func validateItem(registry *agents.Registry, item *domain.TaskItem, where string) error {
	if strings.TrimSpace(item.Agent) == "" {
		return fmt.Errorf("%w: %s has no agent", ErrInvalidChain, where)
	}
	if _, err := registry.Lookup(item.Agent); err != nil {
		return fmt.Errorf("%s: %w", where, err)
	}
	return nil
}

// firstTask returns the explicit task of the chain's first unit
func firstTask(steps []domain.ChainStep) string {
	if len(steps) == 0 {
		return ""
	}
	if steps[0].Kind == domain.StepParallel {
		return steps[0].Parallel.Items[0].Task
	}
	return steps[0].Sequential.Task
}
