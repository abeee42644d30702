package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/chain"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// Step status values inside AsyncStatus.Steps
const (
	StepPending  = "pending"
	StepRunning  = "running"
	StepComplete = "complete"
	StepFailed   = "failed"
)

// Runner executes one job directory. It runs inside the detached process and
// is the only writer of the job's status file.
type Runner struct {
	Orchestrator *chain.Orchestrator
	// Root is the async root; completion records go to Root/results
	Root     string
	Defaults truncate.Limits
}

// outcome is what a job produced, independent of its mode
type outcome struct {
	results  []*domain.RunResult
	output   string
	summary  string
	failed   bool
	errMsg   string
	exitCode int
}

// Run executes the job in jobDir to completion. The returned error covers
// problems with the job directory itself; agent failures end up in the
// status and result files.
func (r *Runner) Run(ctx context.Context, jobDir string) error {
	req, err := ReadRequest(jobDir)
	if err != nil {
		return err
	}
	id := filepath.Base(jobDir)

	initial, err := ReadStatus(jobDir)
	if err != nil {
		initial = &domain.AsyncStatus{RunID: id, Mode: req.Mode, State: domain.JobQueued, StartedAt: time.Now().UnixMilli()}
	}
	sw := newStatusWriter(jobDir, *initial)

	events, err := openEventLog(filepath.Join(jobDir, EventsFile), id)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer events.Close()

	started := time.Now()
	zero := 0
	if err := sw.update(func(st *domain.AsyncStatus) {
		st.State = domain.JobRunning
		st.PID = os.Getpid()
		st.CurrentStep = &zero
	}); err != nil {
		return err
	}
	events.append(EventRunStarted, nil, map[string]any{"mode": req.Mode, "agents": req.agents()})
	slog.Info("async job started", "id", id, "mode", req.Mode, "cwd", req.Cwd)

	var out outcome
	if err := req.Validate(); err != nil {
		out = outcome{failed: true, errMsg: err.Error(), exitCode: 1, summary: err.Error()}
	} else if req.Mode == domain.ModeSingle {
		out = r.runSingle(ctx, id, req, sw, events)
	} else {
		out = r.runChain(ctx, id, req, sw, events)
	}

	outputPath := filepath.Join(jobDir, OutputFile)
	body := out.output
	if body == "" && out.errMsg != "" {
		body = "Error: " + out.errMsg
	}
	if err := os.WriteFile(outputPath, []byte(body), 0644); err != nil {
		slog.Warn("writing job output", "id", id, "error", err)
	}

	var total domain.Usage
	for _, res := range out.results {
		total.Add(res.Usage)
	}
	state := domain.JobComplete
	if out.failed {
		state = domain.JobFailed
	}
	ended := time.Now()
	if err := sw.update(func(st *domain.AsyncStatus) {
		st.State = state
		st.EndedAt = ended.UnixMilli()
		st.TotalTokens = &total
		st.OutputFile = outputPath
		st.Error = out.errMsg
	}); err != nil {
		return err
	}
	events.append(EventRunCompleted, nil, map[string]any{
		"success":    !out.failed,
		"durationMs": ended.Sub(started).Milliseconds(),
		"error":      out.errMsg,
	})

	result := domain.AsyncResult{
		ID:          id,
		Agent:       strings.Join(req.agents(), " -> "),
		Mode:        req.Mode,
		Success:     !out.failed,
		Summary:     out.summary,
		ExitCode:    out.exitCode,
		Timestamp:   ended.UnixMilli(),
		DurationMs:  ended.Sub(started).Milliseconds(),
		SessionFile: req.SessionFile,
		Cwd:         req.Cwd,
		AsyncDir:    jobDir,
	}
	if err := WriteResult(r.Root, result); err != nil {
		return err
	}
	slog.Info("async job finished", "id", id, "state", state, "duration", ended.Sub(started).Round(time.Millisecond))
	return nil
}

func (r *Runner) runSingle(ctx context.Context, id string, req *JobRequest, sw *statusWriter, events *eventLog) outcome {
	item := *req.Single
	step := 0
	r.stepStarted(sw, events, step)

	res, err := r.Orchestrator.RunSingle(ctx, chain.SingleRequest{
		RunID:      id,
		Agent:      item.Agent,
		Task:       item.Task,
		Cwd:        firstNonEmpty(item.Cwd, req.Cwd),
		Overrides:  item.Overrides(),
		Limits:     req.MaxOutput.Limits(r.Defaults),
		SessionDir: req.SessionDir,
	})
	if err != nil {
		r.stepFailed(sw, events, step, err.Error())
		return outcome{failed: true, errMsg: err.Error(), exitCode: 1, summary: err.Error()}
	}
	r.stepFinished(sw, events, step, []*domain.RunResult{res})

	out := outcome{results: []*domain.RunResult{res}, output: res.FinalOutput(), exitCode: res.ExitCode}
	if res.Failed() {
		out.failed = true
		out.errMsg = firstNonEmpty(res.Error, fmt.Sprintf("exit code %d", res.ExitCode))
		out.summary = out.errMsg
	} else {
		out.summary = summaryText(out.output)
	}
	return out
}

func (r *Runner) runChain(ctx context.Context, id string, req *JobRequest, sw *statusWriter, events *eventLog) outcome {
	res, err := r.Orchestrator.Run(ctx, chain.Request{
		RunID:      id,
		Task:       req.Task,
		Steps:      req.Steps,
		Cwd:        req.Cwd,
		Skills:     req.Skills,
		Limits:     req.MaxOutput.Limits(r.Defaults),
		SessionDir: req.SessionDir,
		Hooks: chain.Hooks{
			StepStarted: func(step int, _ []string) { r.stepStarted(sw, events, step) },
			StepFinished: func(step int, results []*domain.RunResult) {
				r.stepFinished(sw, events, step, results)
			},
		},
	})
	if res == nil {
		return outcome{failed: true, errMsg: err.Error(), exitCode: 1, summary: err.Error()}
	}

	out := outcome{results: res.Results, output: res.Output, summary: res.Summary}
	switch {
	case errors.Is(err, chain.ErrCancelled):
		out.failed = true
		out.errMsg = "cancelled"
		out.exitCode = 1
	case res.Failed:
		out.failed = true
		out.errMsg = res.Error
		out.exitCode = 1
		for _, rr := range res.Results {
			if rr.Failed() {
				out.exitCode = rr.ExitCode
			}
		}
	}
	return out
}

func (r *Runner) stepStarted(sw *statusWriter, events *eventLog, step int) {
	now := time.Now().UnixMilli()
	err := sw.update(func(st *domain.AsyncStatus) {
		st.CurrentStep = &step
		if step < len(st.Steps) {
			st.Steps[step].Status = StepRunning
			st.Steps[step].StartedAt = now
		}
	})
	if err != nil {
		slog.Warn("updating step status", "step", step, "error", err)
	}
	events.append(EventStepStarted, &step, nil)
}

func (r *Runner) stepFinished(sw *statusWriter, events *eventLog, step int, results []*domain.RunResult) {
	res := results[0]
	status := StepComplete
	if res.Failed() {
		status = StepFailed
	}
	usage := res.Usage
	err := sw.update(func(st *domain.AsyncStatus) {
		if step >= len(st.Steps) {
			return
		}
		s := &st.Steps[step]
		s.Status = status
		s.DurationMs = res.DurationMs
		s.Tokens = &usage
		s.Skills = res.Skills
		s.Error = res.Error
	})
	if err != nil {
		slog.Warn("updating step status", "step", step, "error", err)
	}
	events.append(EventStepCompleted, &step, map[string]any{
		"agent":      res.Agent,
		"exitCode":   res.ExitCode,
		"durationMs": res.DurationMs,
		"tokens":     usage.Tokens(),
	})
}

func (r *Runner) stepFailed(sw *statusWriter, events *eventLog, step int, msg string) {
	_ = sw.update(func(st *domain.AsyncStatus) {
		if step < len(st.Steps) {
			st.Steps[step].Status = StepFailed
			st.Steps[step].Error = msg
		}
	})
	events.append(EventStepCompleted, &step, map[string]any{"error": msg})
}

// summaryText shortens output to the one-paragraph summary carried by the
// completion record
func summaryText(output string) string {
	s := strings.TrimSpace(output)
	if i := strings.Index(s, "\n\n"); i > 0 {
		s = s[:i]
	}
	if len(s) > 500 {
		s = strings.ToValidUTF8(s[:500], "") + "..."
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
