// Package chain drives single runs, parallel batches and multi-step chains
// through a Runner.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/executor"
	"github.com/hochfrequenz/claude-subagents/internal/resolve"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// ErrCancelled is returned when a chain stops because its context was cancelled
var ErrCancelled = errors.New("chain cancelled")

// Defaults for Orchestrator fields left zero
const (
	DefaultConcurrency      = 4
	DefaultMaxParallelTasks = 8
)

// Runner executes one subordinate agent run
type Runner interface {
	Run(ctx context.Context, req executor.Request) *domain.RunResult
}

// Recorder persists finished runs
type Recorder interface {
	RecordRun(runID string, mode domain.JobMode, res *domain.RunResult) error
}

// ProgressSink receives progress of the run at step (and task index inside
// parallel steps)
type ProgressSink func(step int, p domain.AgentProgress)

// Hooks observe step boundaries
type Hooks struct {
	StepStarted  func(step int, agents []string)
	StepFinished func(step int, results []*domain.RunResult)
}

// Orchestrator runs chains against an agent registry
type Orchestrator struct {
	Runner             Runner
	Agents             *agents.Registry
	ChainRoot          string
	ArtifactsDir       string
	DefaultConcurrency int
	MaxParallelTasks   int
	Recorder           Recorder
}

// Request is a chain to execute
type Request struct {
	RunID      string
	Task       string // value of {task}; defaults to the first unit's task
	Steps      []domain.ChainStep
	Cwd        string
	Skills     []string // chain-wide skills added to every step
	Limits     *truncate.Limits
	SessionDir string
	Sink       ProgressSink
	Hooks      Hooks
}

// StepResult holds the runs of one chain step
type StepResult struct {
	Index   int
	Kind    domain.StepKind
	Results []*domain.RunResult
	Output  string
}

// Result is the outcome of a chain
type Result struct {
	RunID      string
	ChainDir   string
	Steps      []StepResult
	Results    []*domain.RunResult
	Output     string // final output threaded out of the last step
	Failed     bool
	FailedStep int // 1-based, 0 when nothing failed
	Cancelled  bool
	Error      string
	DurationMs int64
	Summary    string
}

// runContext is the state threaded through one chain run
type runContext struct {
	req          Request
	chainDir     string
	originalTask string
	previous     string
	progressPath string
	progressUsed bool
}

// Run executes the chain. Validation errors are returned before anything is
// spawned; execution failures are reported in the Result. A cancelled chain
// returns its partial Result together with ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req.Steps, o.Agents); err != nil {
		return nil, err
	}

	started := time.Now()
	if req.RunID == "" {
		req.RunID = NewRunID()
	}
	chainDir := filepath.Join(o.chainRoot(), req.RunID)
	if err := os.MkdirAll(chainDir, 0755); err != nil {
		return nil, fmt.Errorf("creating chain dir: %w", err)
	}

	rc := &runContext{
		req:          req,
		chainDir:     chainDir,
		originalTask: req.Task,
	}
	if rc.originalTask == "" {
		rc.originalTask = firstTask(req.Steps)
	}

	res := &Result{RunID: req.RunID, ChainDir: chainDir}
	templates := resolve.Templates(req.Steps)

	for i, step := range req.Steps {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if req.Hooks.StepStarted != nil {
			req.Hooks.StepStarted(i, step.Agents())
		}

		var sr StepResult
		var err error
		if step.Kind == domain.StepParallel {
			sr, err = o.runParallelStep(ctx, rc, i, step.Parallel, templates[i].Items)
		} else {
			sr, err = o.runSequentialStep(ctx, rc, i, *step.Sequential, templates[i].Task)
		}
		if err != nil {
			res.Failed = true
			res.FailedStep = i + 1
			res.Error = err.Error()
			break
		}

		res.Steps = append(res.Steps, sr)
		res.Results = append(res.Results, sr.Results...)
		if req.Hooks.StepFinished != nil {
			req.Hooks.StepFinished(i, sr.Results)
		}

		if cancelled(sr.Results) {
			res.Cancelled = true
			break
		}
		if msg := failureMessage(sr); msg != "" {
			res.Failed = true
			res.FailedStep = i + 1
			res.Error = msg
			break
		}
		rc.previous = sr.Output
	}

	res.Output = rc.previous
	res.DurationMs = time.Since(started).Milliseconds()
	res.Summary = o.summarize(rc, res)
	if res.Cancelled {
		return res, ErrCancelled
	}
	return res, nil
}

func (o *Orchestrator) runSequentialStep(ctx context.Context, rc *runContext, step int, item domain.TaskItem, template string) (StepResult, error) {
	agent, err := o.Agents.Lookup(item.Agent)
	if err != nil {
		return StepResult{}, err
	}
	behavior := resolve.Behavior(agent, item.Overrides(), rc.req.Skills)

	text := taskText{
		Task:      resolve.Substitute(template, rc.originalTask, rc.previous, rc.chainDir),
		Behavior:  behavior,
		ReadDir:   rc.chainDir,
		OutputDir: rc.chainDir,
	}
	if step > 0 && !resolve.UsesPrevious(template) {
		text.Previous = rc.previous
	}
	if err := rc.prepareProgress(&text); err != nil {
		return StepResult{}, err
	}
	rc.progressUsed = rc.progressUsed || behavior.Progress

	before := markdownFiles(rc.chainDir)
	r := o.Runner.Run(ctx, executor.Request{
		Agent:      agent,
		Task:       text.String(),
		Cwd:        firstNonEmpty(item.Cwd, rc.req.Cwd),
		Skills:     behavior.Skills,
		RunID:      rc.req.RunID,
		Step:       step,
		Index:      -1,
		SessionDir: rc.req.SessionDir,
		Sink:       rc.sink(step),
		Limits:     rc.req.Limits,
	})
	r.Step = step
	r.TaskIndex = -1
	if !r.Failed() && behavior.Output != "" {
		if w := checkOutput(resolvePath(rc.chainDir, behavior.Output), rc.chainDir, before); w != "" {
			r.Warnings = append(r.Warnings, w)
		}
	}
	o.record(rc.req.RunID, domain.ModeChain, r)

	return StepResult{Index: step, Kind: domain.StepSequential, Results: []*domain.RunResult{r}, Output: r.FinalOutput()}, nil
}

// prepareProgress creates progress.md on first use and points the directive at it
func (rc *runContext) prepareProgress(text *taskText) error {
	if !text.Behavior.Progress {
		return nil
	}
	if rc.progressPath == "" {
		path, err := ensureProgressFile(rc.chainDir)
		if err != nil {
			return err
		}
		rc.progressPath = path
	}
	text.Progress = rc.progressPath
	text.FirstUse = !rc.progressUsed
	return nil
}

func (rc *runContext) sink(step int) executor.ProgressSink {
	if rc.req.Sink == nil {
		return nil
	}
	return func(p domain.AgentProgress) { rc.req.Sink(step, p) }
}

func (o *Orchestrator) record(runID string, mode domain.JobMode, r *domain.RunResult) {
	if o.Recorder == nil || r == nil || r.Skipped {
		return
	}
	if err := o.Recorder.RecordRun(runID, mode, r); err != nil {
		slog.Warn("recording run", "run", runID, "agent", r.Agent, "error", err)
	}
}

func (o *Orchestrator) chainRoot() string {
	if o.ChainRoot != "" {
		return o.ChainRoot
	}
	return filepath.Join(os.TempDir(), "subagent-chains")
}

func (o *Orchestrator) concurrency(n int) int {
	if n > 0 {
		return n
	}
	if o.DefaultConcurrency > 0 {
		return o.DefaultConcurrency
	}
	return DefaultConcurrency
}

// NewRunID returns a short random run id
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func cancelled(results []*domain.RunResult) bool {
	for _, r := range results {
		if r.Cancelled {
			return true
		}
	}
	return false
}

// failureMessage describes the genuine failures of a step, ignoring items
// skipped by fail-fast
func failureMessage(sr StepResult) string {
	var failed []string
	for _, r := range sr.Results {
		if !r.Failed() || r.Skipped {
			continue
		}
		if sr.Kind == domain.StepSequential {
			return fmt.Sprintf("%s: %s", r.Agent, clip(r.Error, 500))
		}
		failed = append(failed, fmt.Sprintf("task %d (%s): %s", r.TaskIndex+1, r.Agent, clip(r.Error, 300)))
	}
	if len(failed) == 0 {
		return ""
	}
	return "parallel tasks failed:\n  - " + strings.Join(failed, "\n  - ")
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
