package chain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/executor"
	"github.com/hochfrequenz/claude-subagents/internal/pool"
	"github.com/hochfrequenz/claude-subagents/internal/resolve"
)

// SkippedError is the error of parallel items never started because a
// sibling failed under fail-fast
const SkippedError = "Skipped due to fail-fast"

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// parallelUnit is one prepared parallel item
type parallelUnit struct {
	item     domain.TaskItem
	agent    domain.AgentDefinition
	behavior domain.ResolvedBehavior
	task     string
	dir      string
	before   map[string]bool
}

func (o *Orchestrator) runParallelStep(ctx context.Context, rc *runContext, step int, group *domain.ParallelGroup, templates []string) (StepResult, error) {
	stepDir := filepath.Join(rc.chainDir, fmt.Sprintf("parallel-%d", step))

	units := make([]parallelUnit, len(group.Items))
	anyProgress := false
	for j, item := range group.Items {
		agent, err := o.Agents.Lookup(item.Agent)
		if err != nil {
			return StepResult{}, err
		}
		dir := filepath.Join(stepDir, fmt.Sprintf("%d-%s", j, unsafeDirChars.ReplaceAllString(item.Agent, "-")))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return StepResult{}, fmt.Errorf("creating parallel task dir: %w", err)
		}
		units[j] = parallelUnit{
			item:     item,
			agent:    agent,
			behavior: resolve.Behavior(agent, item.Overrides(), rc.req.Skills),
			dir:      dir,
		}
		anyProgress = anyProgress || units[j].behavior.Progress
	}

	// progress.md must exist before any worker can write to it
	if anyProgress && rc.progressPath == "" {
		path, err := ensureProgressFile(rc.chainDir)
		if err != nil {
			return StepResult{}, err
		}
		rc.progressPath = path
	}

	for j := range units {
		u := &units[j]
		text := taskText{
			Task:      resolve.Substitute(templates[j], rc.originalTask, rc.previous, rc.chainDir),
			Behavior:  u.behavior,
			ReadDir:   rc.chainDir,
			OutputDir: u.dir,
		}
		if step > 0 && !resolve.UsesPrevious(templates[j]) {
			text.Previous = rc.previous
		}
		if u.behavior.Progress {
			text.Progress = rc.progressPath
			text.FirstUse = !rc.progressUsed
		}
		u.task = text.String()
		u.before = markdownFiles(u.dir)
	}
	rc.progressUsed = rc.progressUsed || anyProgress

	results := o.fanOut(ctx, units, group.Concurrency, group.FailFast, func(u parallelUnit, j int) executor.Request {
		return executor.Request{
			Agent:      u.agent,
			Task:       u.task,
			Cwd:        firstNonEmpty(u.item.Cwd, rc.req.Cwd),
			Skills:     u.behavior.Skills,
			RunID:      rc.req.RunID,
			Step:       step,
			Index:      j,
			SessionDir: rc.req.SessionDir,
			Sink:       rc.sink(step),
			Limits:     rc.req.Limits,
		}
	})

	for j, r := range results {
		r.Step = step
		u := units[j]
		if !r.Failed() && u.behavior.Output != "" {
			if w := checkOutput(resolvePath(u.dir, u.behavior.Output), u.dir, u.before); w != "" {
				r.Warnings = append(r.Warnings, w)
			}
		}
		o.record(rc.req.RunID, domain.ModeChain, r)
	}

	return StepResult{Index: step, Kind: domain.StepParallel, Results: results, Output: Aggregate(results)}, nil
}

// fanOut runs units on the bounded pool. With failFast a failure stops
// further claims; units never claimed come back as skipped results.
func (o *Orchestrator) fanOut(ctx context.Context, units []parallelUnit, concurrency int, failFast bool,
	build func(u parallelUnit, j int) executor.Request) []*domain.RunResult {

	var abort atomic.Bool
	opts := pool.Options[parallelUnit, *domain.RunResult]{
		Skipped: func(u parallelUnit, j int) *domain.RunResult {
			return skippedResult(u.agent.Name, u.task, j)
		},
	}
	if failFast {
		opts.Abort = &abort
	}

	return pool.Map(ctx, units, o.concurrency(concurrency), func(ctx context.Context, u parallelUnit, j int) *domain.RunResult {
		r := o.Runner.Run(ctx, build(u, j))
		r.TaskIndex = j
		if r.Failed() && failFast {
			abort.Store(true)
		}
		return r
	}, opts)
}

func skippedResult(agent, task string, index int) *domain.RunResult {
	return &domain.RunResult{
		Agent:     agent,
		Task:      task,
		ExitCode:  -1,
		Error:     SkippedError,
		TaskIndex: index,
		Skipped:   true,
	}
}

// Aggregate joins parallel outputs in input order, each under a header
func Aggregate(results []*domain.RunResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		out := r.FinalOutput()
		if r.Failed() {
			out = fmt.Sprintf("(failed: %s)", firstNonEmpty(r.Error, fmt.Sprintf("exit code %d", r.ExitCode)))
		}
		parts[i] = fmt.Sprintf("=== Parallel Task %d (%s) ===\n%s", i+1, r.Agent, out)
	}
	return strings.Join(parts, "\n\n")
}
