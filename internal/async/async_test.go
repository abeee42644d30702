package async

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/chain"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/executor"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// gatedRunner blocks every run until release is closed
type gatedRunner struct {
	started chan executor.Request
	release chan struct{}
	reply   string
	exit    int
}

func newGatedRunner(reply string) *gatedRunner {
	return &gatedRunner{started: make(chan executor.Request, 8), release: make(chan struct{}), reply: reply}
}

func (g *gatedRunner) Run(ctx context.Context, req executor.Request) *domain.RunResult {
	g.started <- req
	select {
	case <-g.release:
	case <-ctx.Done():
		return &domain.RunResult{Agent: req.Agent.Name, ExitCode: 1, Cancelled: true, Error: "cancelled"}
	}
	res := &domain.RunResult{
		Agent:    req.Agent.Name,
		Task:     req.Task,
		ExitCode: g.exit,
		Messages: []domain.Message{{Role: domain.RoleAssistant, Text: g.reply}},
		Usage:    domain.Usage{Input: 10, Output: 5, Turns: 1},
	}
	if g.exit != 0 {
		res.Error = "boom"
	}
	return res
}

// inProcessSpawn runs the job in a goroutine instead of a detached child
func inProcessSpawn(t *testing.T, root string, runner chain.Runner, queued chan<- domain.AsyncStatus) (SpawnFunc, *sync.WaitGroup) {
	t.Helper()
	var wg sync.WaitGroup
	orch := &chain.Orchestrator{
		Runner:    runner,
		Agents:    agents.NewRegistry(domain.AgentDefinition{Name: "worker"}, domain.AgentDefinition{Name: "reviewer"}),
		ChainRoot: t.TempDir(),
	}
	r := &Runner{Orchestrator: orch, Root: root, Defaults: truncate.DefaultLimits()}
	spawn := func(jobDir string, _ *os.File) (int, error) {
		if queued != nil {
			st, err := ReadStatus(jobDir)
			require.NoError(t, err)
			queued <- *st
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Run(context.Background(), jobDir))
		}()
		return 4242, nil
	}
	return spawn, &wg
}

func singleRequest(task string) JobRequest {
	return JobRequest{Mode: domain.ModeSingle, Single: &domain.TaskItem{Agent: "worker", Task: task}}
}

func TestAsyncSingle_StatusAndSessionScopedCompletion(t *testing.T) {
	root := t.TempDir()
	cwd := t.TempDir()
	runner := newGatedRunner("all done")
	queued := make(chan domain.AsyncStatus, 1)
	spawn, wg := inProcessSpawn(t, root, runner, queued)

	owner := NewManager(root, spawn)
	owner.ResetSession(Session{File: "/sessions/a.jsonl", Cwd: cwd})
	other := NewManager(root, spawn)
	other.ResetSession(Session{File: "/sessions/b.jsonl", Cwd: cwd})

	var mu sync.Mutex
	var ownerEvents, otherEvents []domain.AsyncResult
	ownerGot := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wOther, err := other.Watch(ctx, func(res domain.AsyncResult) {
		mu.Lock()
		otherEvents = append(otherEvents, res)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer wOther.Stop()

	wOwner, err := owner.Watch(ctx, func(res domain.AsyncResult) {
		mu.Lock()
		ownerEvents = append(ownerEvents, res)
		mu.Unlock()
		_, statErr := os.Stat(filepath.Join(root, ResultsDir, res.ID+".json"))
		ownerGot <- statErr
	})
	require.NoError(t, err)
	defer wOwner.Stop()

	id, err := owner.Launch(singleRequest("write the report"))
	require.NoError(t, err)
	jobDir := filepath.Join(root, id)

	st := <-queued
	assert.Equal(t, domain.JobQueued, st.State)
	assert.Equal(t, "/sessions/a.jsonl", st.SessionFile)

	<-runner.started
	st2, err := ReadStatus(jobDir)
	require.NoError(t, err)
	assert.Equal(t, domain.JobRunning, st2.State)
	assert.Equal(t, StepRunning, st2.Steps[0].Status)
	assert.Equal(t, os.Getpid(), st2.PID)

	close(runner.release)
	wg.Wait()

	final, err := ReadStatus(jobDir)
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, final.State)
	assert.Equal(t, StepComplete, final.Steps[0].Status)
	require.NotNil(t, final.TotalTokens)
	assert.Equal(t, 15, final.TotalTokens.Tokens())

	select {
	case statErr := <-ownerGot:
		// the record is gone before the handler runs
		assert.True(t, os.IsNotExist(statErr), "result file still present: %v", statErr)
	case <-time.After(5 * time.Second):
		t.Fatal("owning session never received the completion event")
	}

	// give the other watcher time to (not) react
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ownerEvents, 1)
	assert.Equal(t, id, ownerEvents[0].ID)
	assert.True(t, ownerEvents[0].Success)
	assert.Equal(t, "all done", ownerEvents[0].Summary)
	assert.Empty(t, otherEvents)

	_, err = os.Stat(filepath.Join(root, ResultsDir, id+".json"))
	assert.True(t, os.IsNotExist(err))

	output, err := os.ReadFile(filepath.Join(jobDir, OutputFile))
	require.NoError(t, err)
	assert.Equal(t, "all done", string(output))
}

func TestRunner_ChainStepsAndEvents(t *testing.T) {
	root := t.TempDir()
	runner := newGatedRunner("ok")
	close(runner.release)
	spawn, wg := inProcessSpawn(t, root, runner, nil)
	m := NewManager(root, spawn)

	id, err := m.Launch(JobRequest{
		Mode: domain.ModeChain,
		Steps: []domain.ChainStep{
			domain.Sequential(domain.TaskItem{Agent: "worker", Task: "build it"}),
			domain.Sequential(domain.TaskItem{Agent: "reviewer"}),
		},
		Cwd: t.TempDir(),
	})
	require.NoError(t, err)
	wg.Wait()

	st, err := ReadStatus(filepath.Join(root, id))
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, st.State)
	require.Len(t, st.Steps, 2)
	assert.Equal(t, "worker", st.Steps[0].Agent)
	assert.Equal(t, StepComplete, st.Steps[1].Status)
	require.NotNil(t, st.CurrentStep)
	assert.Equal(t, 1, *st.CurrentStep)

	data, err := os.ReadFile(filepath.Join(root, id, EventsFile))
	require.NoError(t, err)
	for _, typ := range []string{EventRunStarted, EventStepStarted, EventStepCompleted, EventRunCompleted} {
		assert.Contains(t, string(data), `"type":"`+typ+`"`)
	}
}

func TestRunner_FailedStepFailsJob(t *testing.T) {
	root := t.TempDir()
	runner := newGatedRunner("")
	runner.exit = 2
	close(runner.release)
	spawn, wg := inProcessSpawn(t, root, runner, nil)

	id, err := NewManager(root, spawn).Launch(singleRequest("try"))
	require.NoError(t, err)
	wg.Wait()

	st, err := ReadStatus(filepath.Join(root, id))
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, st.State)
	assert.Equal(t, StepFailed, st.Steps[0].Status)
	assert.Equal(t, "boom", st.Error)

	var res domain.AsyncResult
	require.NoError(t, readJSON(filepath.Join(root, ResultsDir, id+".json"), &res))
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.ExitCode)
}

func TestLaunch_RejectsParallelSteps(t *testing.T) {
	root := t.TempDir()
	spawned := false
	m := NewManager(root, func(string, *os.File) (int, error) {
		spawned = true
		return 1, nil
	})

	_, err := m.Launch(JobRequest{
		Mode: domain.ModeChain,
		Steps: []domain.ChainStep{
			domain.Parallel(2, false, domain.TaskItem{Agent: "worker", Task: "a"}, domain.TaskItem{Agent: "worker", Task: "b"}),
		},
	})
	assert.ErrorIs(t, err, ErrParallelNotSupported)
	assert.False(t, spawned)

	entries, _ := os.ReadDir(root)
	assert.Empty(t, entries)
}

func TestStatusWriter_StateNeverRegresses(t *testing.T) {
	dir := t.TempDir()
	sw := newStatusWriter(dir, domain.AsyncStatus{RunID: "x", State: domain.JobQueued})

	require.NoError(t, sw.update(func(st *domain.AsyncStatus) { st.State = domain.JobRunning }))
	require.NoError(t, sw.update(func(st *domain.AsyncStatus) { st.State = domain.JobComplete }))
	require.NoError(t, sw.update(func(st *domain.AsyncStatus) { st.State = domain.JobRunning }))

	st, err := ReadStatus(dir)
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, st.State)
	assert.Positive(t, st.LastUpdate)
}

func TestOwns(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		result  domain.AsyncResult
		want    bool
	}{
		{"same session id", Session{File: "a"}, domain.AsyncResult{SessionFile: "a"}, true},
		{"other session id", Session{File: "a"}, domain.AsyncResult{SessionFile: "b"}, false},
		{"id session ignores cwd", Session{File: "a", Cwd: "/p"}, domain.AsyncResult{Cwd: "/p"}, false},
		{"cwd fallback", Session{Cwd: "/p"}, domain.AsyncResult{Cwd: "/p/"}, true},
		{"cwd mismatch", Session{Cwd: "/p"}, domain.AsyncResult{Cwd: "/q"}, false},
		{"record with id never matches cwd session", Session{Cwd: "/p"}, domain.AsyncResult{SessionFile: "a", Cwd: "/p"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Owns(tt.session, tt.result))
		})
	}
}

func TestManager_RefreshIsMtimeGatedAndResetClears(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, func(string, *os.File) (int, error) { return 1, nil })
	m.ResultTTL = time.Hour

	id, err := m.Launch(singleRequest("x"))
	require.NoError(t, err)

	assert.True(t, m.Refresh(), "first refresh loads the status")
	assert.False(t, m.Refresh(), "unchanged file is not re-read")

	dir := filepath.Join(root, id)
	sw := newStatusWriter(dir, domain.AsyncStatus{RunID: id, Mode: domain.ModeSingle, State: domain.JobQueued})
	// mtime resolution on some filesystems is coarse
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sw.update(func(st *domain.AsyncStatus) { st.State = domain.JobRunning }))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(dir, StatusFile), future, future))

	assert.True(t, m.Refresh())
	jobs := m.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.JobRunning, jobs[0].State)

	m.ResetSession(Session{Cwd: "/elsewhere"})
	assert.Empty(t, m.Jobs())
}

func TestPoll_PublishesChanges(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, func(string, *os.File) (int, error) { return 1, nil })
	_, err := m.Launch(singleRequest("x"))
	require.NoError(t, err)

	got := make(chan []JobInfo, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Poll(ctx, 10*time.Millisecond, func(jobs []JobInfo) { got <- jobs })

	select {
	case jobs := <-got:
		require.Len(t, jobs, 1)
		assert.Equal(t, domain.JobQueued, jobs[0].State)
		assert.Equal(t, []string{"worker"}, jobs[0].Agents)
	case <-time.After(2 * time.Second):
		t.Fatal("poller never published")
	}
}

func TestFindJobAndFormatStatus(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, func(string, *os.File) (int, error) { return 1, nil })
	id, err := m.Launch(singleRequest("x"))
	require.NoError(t, err)

	dir, err := FindJob(root, id[:4])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, id), dir)

	dir2, err := FindJob(root, dir)
	require.NoError(t, err)
	assert.Equal(t, dir, dir2)

	_, err = FindJob(root, "zzzz-nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	text, err := FormatStatus(dir)
	require.NoError(t, err)
	assert.Contains(t, text, "State:   queued")
	assert.Contains(t, text, "Step:    1/1 (worker)")
	assert.Contains(t, text, "Log:")

	jobs, err := ListJobs(root)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].RunID)
}

func TestLaunch_SpawnFailureLeavesNoJob(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, func(string, *os.File) (int, error) {
		return 0, errors.New("exec format error")
	})
	m.ResetSession(Session{File: "/sessions/a.jsonl", Cwd: t.TempDir()})

	_, err := m.Launch(singleRequest("never runs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawning runner")

	jobs, err := ListJobs(root)
	require.NoError(t, err)
	assert.Empty(t, jobs, "a job whose runner never started is not listed")
	assert.Empty(t, m.Jobs())
}
