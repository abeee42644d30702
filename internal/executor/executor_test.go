package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/claude-subagents/internal/artifacts"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/skills"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// TestHelperProcess is not a real test. It stands in for the agent binary
// when the executor re-executes the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	task := args[len(args)-1]

	emit := func(line string) { fmt.Println(line) }
	assistant := func(text string) {
		emit(fmt.Sprintf(`{"type":"message_end","message":{"role":"assistant","model":"fake-model","content":[{"type":"text","text":%q}],"usage":{"input":3,"output":4,"cost":{"total":0.01}}}}`, text))
	}

	switch {
	case task == "echo args":
		assistant(strings.Join(args[:len(args)-1], " "))
	case strings.HasPrefix(task, "say "):
		emit(`{"type":"tool_execution_start","toolName":"read","args":{"path":"x"}}`)
		emit(`{"type":"tool_execution_end","toolName":"read"}`)
		assistant(strings.TrimPrefix(task, "say "))
	case task == "lines":
		var lines []string
		for i := 1; i <= 10; i++ {
			lines = append(lines, fmt.Sprintf("line %d", i))
		}
		assistant(strings.Join(lines, "\n"))
	case task == "inband":
		emit(`{"type":"tool_result_end","message":{"role":"toolResult","toolName":"bash","content":[{"type":"text","text":"make: *** [test] Error 2\nexit code: 2"}]}}`)
	case task == "exit3":
		fmt.Fprintln(os.Stderr, "boom on stderr")
		os.Exit(3)
	case task == "stubborn":
		signal.Ignore(syscall.SIGTERM)
		emit(`{"type":"tool_execution_start","toolName":"bash","args":{}}`)
		time.Sleep(30 * time.Second)
	case task == "hang":
		emit(`{"type":"tool_execution_start","toolName":"bash","args":{}}`)
		time.Sleep(30 * time.Second)
	}
	os.Exit(0)
}

func helperExecutor(t *testing.T) *Executor {
	t.Helper()
	return &Executor{
		Command:          os.Args[0],
		ExtraArgs:        []string{"-test.run=TestHelperProcess", "--"},
		Env:              []string{"GO_WANT_HELPER_PROCESS=1"},
		KillGrace:        500 * time.Millisecond,
		ProgressInterval: 10 * time.Millisecond,
	}
}

func TestExecutor_Args(t *testing.T) {
	e := &Executor{DefaultModel: "default-model"}
	req := Request{
		Agent: domain.AgentDefinition{Name: "scout", Tools: []string{"read", "grep"}},
		Task:  "find things",
	}

	args := e.Args(req, "/tmp/prompt.md")
	assert.Equal(t, []string{
		"--mode", "json", "-p",
		"--model", "default-model",
		"--tools", "read,grep",
		"--append-system-prompt", "/tmp/prompt.md",
		"--no-session",
		"find things",
	}, args)

	req.Agent.Model = "agent-model"
	req.SessionDir = "/sessions"
	args = e.Args(req, "")
	assert.Contains(t, strings.Join(args, " "), "--model agent-model")
	assert.Contains(t, strings.Join(args, " "), "--session-dir /sessions")
	assert.NotContains(t, args, "--append-system-prompt")
}

func TestExecutor_RunSuccess(t *testing.T) {
	e := helperExecutor(t)
	e.Artifacts = artifacts.NewStore(t.TempDir())

	var mu sync.Mutex
	var snapshots []domain.AgentProgress
	res := e.Run(context.Background(), Request{
		Agent: domain.AgentDefinition{Name: "scout", SystemPrompt: "be brief"},
		Task:  "say FOO",
		RunID: "run1",
		Index: -1,
		Sink: func(p domain.AgentProgress) {
			mu.Lock()
			snapshots = append(snapshots, p)
			mu.Unlock()
		},
	})

	require.Equal(t, 0, res.ExitCode, "error: %s", res.Error)
	assert.Equal(t, "FOO", res.FinalOutput())
	assert.Equal(t, "fake-model", res.Model)
	assert.Equal(t, 7, res.Usage.Tokens())
	assert.Equal(t, -1, res.TaskIndex)
	require.NotNil(t, res.Progress)
	assert.Equal(t, domain.ProgressCompleted, res.Progress.Status)
	assert.Equal(t, 1, res.Progress.ToolCount)

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	mu.Unlock()
	assert.Equal(t, domain.ProgressCompleted, last.Status, "final state is always emitted")

	require.NotNil(t, res.Artifacts)
	output, err := os.ReadFile(res.Artifacts.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "FOO", string(output))
	events, err := os.ReadFile(res.Artifacts.JSONLPath)
	require.NoError(t, err)
	assert.Contains(t, string(events), `"tool_execution_start"`)
	meta, err := artifacts.ReadMetadata(res.Artifacts.MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.ToolCount)
}

func TestExecutor_RunPassesPromptFile(t *testing.T) {
	e := helperExecutor(t)
	res := e.Run(context.Background(), Request{
		Agent: domain.AgentDefinition{Name: "scout", SystemPrompt: "be brief", Tools: []string{"read"}},
		Task:  "echo args",
		Index: -1,
	})
	require.Equal(t, 0, res.ExitCode, res.Error)
	out := res.FinalOutput()
	assert.Contains(t, out, "--tools read")
	assert.Contains(t, out, "--append-system-prompt")
}

func TestExecutor_RunInBandError(t *testing.T) {
	res := helperExecutor(t).Run(context.Background(), Request{
		Agent: domain.AgentDefinition{Name: "worker"},
		Task:  "inband",
		Index: 2,
	})
	assert.Equal(t, 1, res.ExitCode, "zero exit with an in-band error is a failure")
	assert.Contains(t, res.Error, "exit code 2")
	assert.Equal(t, domain.ProgressFailed, res.Progress.Status)
	assert.Equal(t, 2, res.TaskIndex)
}

func TestExecutor_RunNonZeroExit(t *testing.T) {
	res := helperExecutor(t).Run(context.Background(), Request{
		Agent: domain.AgentDefinition{Name: "worker"},
		Task:  "exit3",
		Index: -1,
	})
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Error, "boom on stderr")
	assert.False(t, res.Cancelled)
}

func TestExecutor_RunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	running := make(chan struct{})
	var once sync.Once

	go func() {
		<-running
		cancel()
	}()

	start := time.Now()
	res := helperExecutor(t).Run(ctx, Request{
		Agent: domain.AgentDefinition{Name: "worker"},
		Task:  "hang",
		Index: -1,
		Sink: func(p domain.AgentProgress) {
			if p.CurrentTool != "" {
				once.Do(func() { close(running) })
			}
		},
	})

	assert.True(t, res.Cancelled)
	assert.NotZero(t, res.ExitCode)
	assert.Equal(t, ErrCancelled.Error(), res.Error)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecutor_RunCancelEscalatesToKill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	running := make(chan struct{})
	var once sync.Once

	cancelledAt := make(chan time.Time, 1)
	go func() {
		<-running
		cancelledAt <- time.Now()
		cancel()
	}()

	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := helperExecutor(t)
	res := e.Run(ctx, Request{
		Agent: domain.AgentDefinition{Name: "worker"},
		Task:  "stubborn",
		Index: -1,
		Sink: func(p domain.AgentProgress) {
			if p.CurrentTool != "" {
				once.Do(func() { close(running) })
			}
		},
	})
	elapsed := time.Since(<-cancelledAt)

	assert.True(t, res.Cancelled)
	assert.NotZero(t, res.ExitCode)
	assert.Equal(t, ErrCancelled.Error(), res.Error)
	assert.GreaterOrEqual(t, elapsed, e.KillGrace, "child ignoring SIGTERM survives the grace window")
	assert.Less(t, elapsed, e.KillGrace+5*time.Second, "child is killed once the grace window expires")
	assert.NotContains(t, logs.String(), "reading agent output", "closing the pipe on kill is not a read failure")
}

func TestExecutor_RunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := helperExecutor(t).Run(ctx, Request{Agent: domain.AgentDefinition{Name: "worker"}, Task: "say hi", Index: -1})
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Messages)
}

func TestExecutor_RunTruncates(t *testing.T) {
	e := helperExecutor(t)
	e.Artifacts = artifacts.NewStore(t.TempDir())

	res := e.Run(context.Background(), Request{
		Agent:  domain.AgentDefinition{Name: "writer"},
		Task:   "lines",
		RunID:  "r",
		Index:  -1,
		Limits: &truncate.Limits{Bytes: truncate.Unlimited, Lines: 5},
	})

	require.NotNil(t, res.Truncation)
	assert.Equal(t, 10, res.Truncation.OriginalLines)
	assert.Equal(t, res.Artifacts.OutputPath, res.Truncation.ArtifactPath)
	lines := strings.Split(res.FinalOutput(), "\n")
	assert.Len(t, lines, 6)
	assert.Contains(t, lines[0], "first 5 of 10 lines")

	full, err := os.ReadFile(res.Artifacts.OutputPath)
	require.NoError(t, err)
	assert.Len(t, strings.Split(string(full), "\n"), 10, "artifact keeps the untruncated output")
}

func TestExecutor_RunZeroBudgetKeepsNothing(t *testing.T) {
	e := helperExecutor(t)
	e.Artifacts = artifacts.NewStore(t.TempDir())

	res := e.Run(context.Background(), Request{
		Agent:  domain.AgentDefinition{Name: "writer"},
		Task:   "lines",
		RunID:  "r",
		Index:  -1,
		Limits: &truncate.Limits{Bytes: truncate.Unlimited, Lines: 0},
	})

	require.Equal(t, 0, res.ExitCode, res.Error)
	require.NotNil(t, res.Truncation)
	assert.Equal(t, 10, res.Truncation.OriginalLines)
	assert.Empty(t, res.FinalOutput(), "a zero line budget keeps no output")

	full, err := os.ReadFile(res.Artifacts.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(full), "line 10", "artifact keeps the untruncated output")
}

func TestExecutor_MissingSkillsAreWarnings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "git", skills.SkillFile), []byte("use git"), 0644))

	e := helperExecutor(t)
	e.Skills = skills.NewResolver(dir)
	res := e.Run(context.Background(), Request{
		Agent:  domain.AgentDefinition{Name: "scout"},
		Task:   "say ok",
		Skills: []string{"git", "ghost"},
		Index:  -1,
	})

	assert.Equal(t, 0, res.ExitCode, res.Error)
	assert.Equal(t, []string{"git"}, res.Skills)
	assert.Equal(t, []string{"ghost"}, res.SkillsMissing)
	assert.Equal(t, []string{"Skill not found: ghost"}, res.Warnings)
}

func TestBuildSystemPrompt(t *testing.T) {
	got := BuildSystemPrompt(
		domain.AgentDefinition{SystemPrompt: "  You are a scout.\n"},
		[]skills.Skill{{Name: "git", Path: "/g/SKILL.md", Content: "use git"}},
	)
	assert.True(t, strings.HasPrefix(got, "You are a scout."))
	assert.Contains(t, got, "use git")
}
