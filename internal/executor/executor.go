// Package executor runs one subordinate agent process and turns its record
// stream into a RunResult.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/artifacts"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/skills"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// Defaults for Executor fields left zero
const (
	DefaultCommand   = "pi"
	DefaultKillGrace = 3 * time.Second
)

// ErrCancelled is the error text of runs stopped by their context
var ErrCancelled = errors.New("cancelled")

// Executor spawns subordinate agent processes. It holds no per-run state and
// is safe for concurrent use.
type Executor struct {
	Command          string
	ExtraArgs        []string
	Env              []string
	DefaultModel     string
	KillGrace        time.Duration
	ProgressInterval time.Duration

	Skills    *skills.Resolver
	Artifacts *artifacts.Store
	Limits    *truncate.Limits
}

// Request is one run to execute
type Request struct {
	Agent      domain.AgentDefinition
	Task       string
	Cwd        string
	Skills     []string
	RunID      string
	Step       int
	Index      int // -1 outside parallel steps
	SessionDir string
	Sink       ProgressSink

	// Limits overrides the executor's output budget for this run
	Limits *truncate.Limits
}

// Run executes req to completion. Execution failures are reported in the
// result, never as a Go error.
func (e *Executor) Run(ctx context.Context, req Request) *domain.RunResult {
	started := time.Now()
	result := &domain.RunResult{
		Agent:     req.Agent.Name,
		Task:      req.Task,
		Step:      req.Step,
		TaskIndex: req.Index,
		Model:     e.model(req.Agent),
	}
	progress := domain.NewAgentProgress(max(req.Index, 0), req.Agent.Name, req.Task)
	emit := newEmitter(req.Sink, e.ProgressInterval)

	loaded := e.resolveSkills(req.Skills, result)
	progress.SkillsMissing = result.SkillsMissing

	if ctx.Err() != nil {
		result.Cancelled = true
		return e.finish(req, result, progress, emit, started, nil, 1, ErrCancelled.Error())
	}

	promptPath, cleanup, err := writePromptFile(req.Agent.Name, BuildSystemPrompt(req.Agent, loaded))
	if err != nil {
		return e.finish(req, result, progress, emit, started, nil, 1, err.Error())
	}
	defer cleanup()

	var eventLog io.Writer
	if e.Artifacts != nil {
		paths := e.Artifacts.Paths(req.RunID, req.Agent.Name, req.Index)
		result.Artifacts = &paths
		if err := e.Artifacts.WriteInput(paths, req.Task); err != nil {
			slog.Warn("writing input artifact", "agent", req.Agent.Name, "error", err)
		}
		if f, err := e.Artifacts.CreateEventLog(paths); err != nil {
			slog.Warn("creating event log", "agent", req.Agent.Name, "error", err)
		} else {
			defer f.Close()
			eventLog = f
		}
	}

	cmd := exec.CommandContext(ctx, e.command(), e.Args(req, promptPath)...)
	cmd.Dir = req.Cwd
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = e.killGrace()

	stderr := &tailBuffer{max: 8 * 1024}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return e.finish(req, result, progress, emit, started, nil, 1, err.Error())
	}
	if err := cmd.Start(); err != nil {
		return e.finish(req, result, progress, emit, started, nil, 1, fmt.Sprintf("starting %s: %v", e.command(), err))
	}
	slog.Debug("spawned agent", "agent", req.Agent.Name, "pid", cmd.Process.Pid, "cwd", req.Cwd)

	progress.Transition(domain.ProgressRunning)
	emit.update(progress.Snapshot(), true)

	var src io.Reader = stdout
	if eventLog != nil {
		src = io.TeeReader(stdout, eventLog)
	}
	state := newRunState(progress, started)
	reader := NewRecordReader(src)
	for {
		rec, err := reader.Next()
		if err != nil {
			// the pipe is closed under us once the kill grace expires
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && ctx.Err() == nil {
				slog.Warn("reading agent output", "agent", req.Agent.Name, "error", err)
			}
			break
		}
		if changed, force := state.apply(rec, time.Now()); changed {
			emit.update(progress.Snapshot(), force)
		}
	}

	waitErr := cmd.Wait()
	exitCode := exitCodeOf(waitErr)

	var errMsg string
	switch {
	case ctx.Err() != nil:
		result.Cancelled = true
		if exitCode == 0 {
			exitCode = 1
		}
		errMsg = ErrCancelled.Error()
	case exitCode != 0:
		if msg, ok := detectError(state.messages); ok {
			errMsg = msg
		} else if tail := strings.TrimSpace(stderr.String()); tail != "" {
			errMsg = tail
		} else {
			errMsg = fmt.Sprintf("%s exited with code %d", e.command(), exitCode)
		}
	default:
		if msg, ok := detectError(state.messages); ok {
			exitCode = 1
			errMsg = msg
		}
	}

	return e.finish(req, result, progress, emit, started, state, exitCode, errMsg)
}

// finish fills the result, applies truncation, writes the remaining
// artifacts and emits the terminal progress snapshot
func (e *Executor) finish(req Request, result *domain.RunResult, progress *domain.AgentProgress, emit *emitter,
	started time.Time, state *runState, exitCode int, errMsg string) *domain.RunResult {

	result.ExitCode = exitCode
	result.Error = errMsg
	result.DurationMs = time.Since(started).Milliseconds()
	if state != nil {
		result.Messages = state.messages
		result.Usage = state.usage
		if state.model != "" {
			result.Model = state.model
		}
	}

	final := domain.LastAssistantText(result.Messages)
	if result.Artifacts != nil {
		if err := e.Artifacts.WriteOutput(*result.Artifacts, final); err != nil {
			slog.Warn("writing output artifact", "agent", req.Agent.Name, "error", err)
		}
	}

	if limits := e.limits(req); limits != nil {
		pointer := ""
		if result.Artifacts != nil {
			pointer = result.Artifacts.OutputPath
		}
		if tr := truncate.Truncate(final, *limits, pointer); tr.Truncated {
			result.OutputText = tr.Text
			result.Truncation = &domain.Truncation{
				Truncated:     true,
				OriginalBytes: tr.OriginalBytes,
				OriginalLines: tr.OriginalLines,
				ArtifactPath:  pointer,
			}
		}
	}

	progress.DurationMs = result.DurationMs
	progress.Error = errMsg
	if result.Failed() {
		progress.Transition(domain.ProgressFailed)
	} else {
		progress.Transition(domain.ProgressCompleted)
	}
	snap := progress.Snapshot()
	result.Progress = &snap
	emit.close(snap)

	if result.Artifacts != nil {
		meta := artifacts.Metadata{
			RunID:         req.RunID,
			Agent:         req.Agent.Name,
			Task:          req.Task,
			ExitCode:      result.ExitCode,
			Model:         result.Model,
			Usage:         result.Usage,
			DurationMs:    result.DurationMs,
			ToolCount:     progress.ToolCount,
			Error:         result.Error,
			Cancelled:     result.Cancelled,
			Skills:        result.Skills,
			SkillsMissing: result.SkillsMissing,
			Truncated:     result.Truncation != nil,
			Timestamp:     time.Now().UnixMilli(),
		}
		if req.Index >= 0 {
			idx := req.Index
			meta.Index = &idx
		}
		if err := e.Artifacts.WriteMetadata(*result.Artifacts, meta); err != nil {
			slog.Warn("writing metadata artifact", "agent", req.Agent.Name, "error", err)
		}
	}

	return result
}

func (e *Executor) resolveSkills(names []string, result *domain.RunResult) []skills.Skill {
	if len(names) == 0 {
		return nil
	}
	var loaded []skills.Skill
	if e.Skills != nil {
		loaded, result.SkillsMissing = e.Skills.Resolve(names)
	} else {
		result.SkillsMissing = append([]string(nil), names...)
	}
	result.Skills = skills.Names(loaded)
	for _, name := range result.SkillsMissing {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Skill not found: %s", name))
	}
	return loaded
}

// Args builds the child's argument list
func (e *Executor) Args(req Request, promptPath string) []string {
	args := append([]string(nil), e.ExtraArgs...)
	args = append(args, "--mode", "json", "-p")
	if model := e.model(req.Agent); model != "" {
		args = append(args, "--model", model)
	}
	if len(req.Agent.Tools) > 0 {
		args = append(args, "--tools", strings.Join(req.Agent.Tools, ","))
	}
	if promptPath != "" {
		args = append(args, "--append-system-prompt", promptPath)
	}
	if req.SessionDir != "" {
		args = append(args, "--session-dir", req.SessionDir)
	} else {
		args = append(args, "--no-session")
	}
	return append(args, req.Task)
}

func (e *Executor) command() string {
	if e.Command == "" {
		return DefaultCommand
	}
	return e.Command
}

func (e *Executor) model(agent domain.AgentDefinition) string {
	if agent.Model != "" {
		return agent.Model
	}
	return e.DefaultModel
}

func (e *Executor) killGrace() time.Duration {
	if e.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return e.KillGrace
}

func (e *Executor) limits(req Request) *truncate.Limits {
	if req.Limits != nil {
		return req.Limits
	}
	return e.Limits
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = append([]byte(nil), t.buf[len(t.buf)-t.max:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
