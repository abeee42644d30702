package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/executor"
	"github.com/hochfrequenz/claude-subagents/internal/resolve"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// SingleRequest is one agent invocation outside a chain
type SingleRequest struct {
	RunID      string
	Agent      string
	Task       string
	Cwd        string
	Overrides  domain.StepOverrides
	Limits     *truncate.Limits
	SessionDir string
	Sink       executor.ProgressSink
}

// RunSingle runs one agent. Reads and output resolve against the working
// directory; progress tracking only applies inside chains.
func (o *Orchestrator) RunSingle(ctx context.Context, req SingleRequest) (*domain.RunResult, error) {
	agent, err := o.Agents.Lookup(req.Agent)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, fmt.Errorf("%w: task is required", ErrInvalidChain)
	}
	if req.RunID == "" {
		req.RunID = NewRunID()
	}

	behavior := resolve.Behavior(agent, req.Overrides, nil)
	text := taskText{Task: req.Task, Behavior: behavior, ReadDir: req.Cwd, OutputDir: req.Cwd}

	r := o.Runner.Run(ctx, executor.Request{
		Agent:      agent,
		Task:       text.String(),
		Cwd:        req.Cwd,
		Skills:     behavior.Skills,
		RunID:      req.RunID,
		Index:      -1,
		SessionDir: req.SessionDir,
		Sink:       req.Sink,
		Limits:     req.Limits,
	})
	r.TaskIndex = -1
	o.record(req.RunID, domain.ModeSingle, r)
	return r, nil
}

// ParallelRequest is a top-level batch of independent tasks
type ParallelRequest struct {
	RunID       string
	Tasks       []domain.TaskItem
	Concurrency int
	FailFast    bool
	Cwd         string
	Skills      []string
	Limits      *truncate.Limits
	SessionDir  string
	Sink        ProgressSink
}

// ParallelResult is the outcome of a top-level batch
type ParallelResult struct {
	RunID      string
	Results    []*domain.RunResult
	Output     string
	Failed     bool
	Cancelled  bool
	DurationMs int64
	Summary    string
}

// RunParallel runs independent tasks on the bounded pool and returns their
// results in input order
func (o *Orchestrator) RunParallel(ctx context.Context, req ParallelRequest) (*ParallelResult, error) {
	limit := o.MaxParallelTasks
	if limit <= 0 {
		limit = DefaultMaxParallelTasks
	}
	if len(req.Tasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks given", ErrInvalidChain)
	}
	if len(req.Tasks) > limit {
		return nil, fmt.Errorf("%w: %d tasks exceed the limit of %d", ErrInvalidChain, len(req.Tasks), limit)
	}

	units := make([]parallelUnit, len(req.Tasks))
	for j, item := range req.Tasks {
		where := fmt.Sprintf("task %d", j+1)
		if err := validateItem(o.Agents, &item, where); err != nil {
			return nil, err
		}
		if strings.TrimSpace(item.Task) == "" {
			return nil, fmt.Errorf("%w: %s has no task", ErrInvalidChain, where)
		}
		agent, _ := o.Agents.Lookup(item.Agent)
		behavior := resolve.Behavior(agent, item.Overrides(), req.Skills)
		cwd := firstNonEmpty(item.Cwd, req.Cwd)
		units[j] = parallelUnit{
			item:     item,
			agent:    agent,
			behavior: behavior,
			task:     taskText{Task: item.Task, Behavior: behavior, ReadDir: cwd, OutputDir: cwd}.String(),
		}
	}
	if req.RunID == "" {
		req.RunID = NewRunID()
	}

	started := time.Now()
	var sink executor.ProgressSink
	if req.Sink != nil {
		sink = func(p domain.AgentProgress) { req.Sink(0, p) }
	}
	results := o.fanOut(ctx, units, req.Concurrency, req.FailFast, func(u parallelUnit, j int) executor.Request {
		return executor.Request{
			Agent:      u.agent,
			Task:       u.task,
			Cwd:        firstNonEmpty(u.item.Cwd, req.Cwd),
			Skills:     u.behavior.Skills,
			RunID:      req.RunID,
			Index:      j,
			SessionDir: req.SessionDir,
			Sink:       sink,
			Limits:     req.Limits,
		}
	})

	res := &ParallelResult{
		RunID:      req.RunID,
		Results:    results,
		Output:     Aggregate(results),
		Cancelled:  cancelled(results),
		DurationMs: time.Since(started).Milliseconds(),
	}
	for _, r := range results {
		o.record(req.RunID, domain.ModeParallel, r)
		if r.Failed() {
			res.Failed = true
		}
	}
	res.Summary = summarizeParallel(res)
	if res.Cancelled {
		return res, ErrCancelled
	}
	return res, nil
}
