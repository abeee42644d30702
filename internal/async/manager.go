package async

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/chain"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// DefaultResultTTL is how long a finished job stays in the tracked job list
const DefaultResultTTL = 10 * time.Second

// Session identifies the foreground session that owns launched jobs. File
// is the persisted session id; sessions without one are matched by Cwd.
type Session struct {
	File string
	Cwd  string
}

// SpawnFunc starts the detached runner for jobDir with its output going to
// logFile and returns the child pid
type SpawnFunc func(jobDir string, logFile *os.File) (int, error)

// JobInfo is the lightweight job view republished to UI sinks
type JobInfo struct {
	ID          string          `json:"id"`
	Dir         string          `json:"dir"`
	Mode        domain.JobMode  `json:"mode"`
	State       domain.JobState `json:"state"`
	Agents      []string        `json:"agents"`
	CurrentStep int             `json:"currentStep"`
	StepCount   int             `json:"stepCount"`
	StartedAt   int64           `json:"startedAt"`
	LastUpdate  int64           `json:"lastUpdate"`
	Error       string          `json:"error,omitempty"`
}

type trackedJob struct {
	dir    string
	info   JobInfo
	mtime  time.Time
	loaded bool
}

// Manager launches async jobs and tracks the ones owned by the current
// session. All session-scoped state is dropped by ResetSession.
type Manager struct {
	Root      string
	Spawn     SpawnFunc
	ResultTTL time.Duration
	// AdoptAll tracks every job under Root instead of only launched ones
	AdoptAll bool

	mu      sync.Mutex
	session Session
	jobs    map[string]*trackedJob
	timers  map[string]*time.Timer
	watcher *ResultWatcher
}

// NewManager creates a manager for the job store at root
func NewManager(root string, spawn SpawnFunc) *Manager {
	return &Manager{
		Root:      root,
		Spawn:     spawn,
		ResultTTL: DefaultResultTTL,
		jobs:      make(map[string]*trackedJob),
		timers:    make(map[string]*time.Timer),
	}
}

// ResetSession drops all tracked jobs and cleanup timers and switches to a
// new owning session. Call it whenever the hosting session starts, switches
// or branches.
func (m *Manager) ResetSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.timers {
		t.Stop()
	}
	m.session = s
	m.jobs = make(map[string]*trackedJob)
	m.timers = make(map[string]*time.Timer)
	if m.watcher != nil {
		m.watcher.reset()
	}
}

// Session returns the current owning session
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Launch writes the job request and a queued status, then spawns the
// detached runner. It returns once the child is started.
func (m *Manager) Launch(req JobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	session := m.Session()
	if req.SessionFile == "" {
		req.SessionFile = session.File
	}
	if req.Cwd == "" {
		req.Cwd = session.Cwd
	}

	id := chain.NewRunID()
	dir := filepath.Join(m.Root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating job dir: %w", err)
	}
	// a job that never reached the runner must not be listed as queued
	launched := false
	defer func() {
		if !launched {
			if err := os.RemoveAll(dir); err != nil {
				slog.Warn("removing abandoned job dir", "dir", dir, "error", err)
			}
		}
	}()
	if err := writeJSON(filepath.Join(dir, RequestFile), req); err != nil {
		return "", fmt.Errorf("writing job request: %w", err)
	}

	agents := req.agents()
	steps := make([]domain.StepStatus, len(agents))
	for i, a := range agents {
		steps[i] = domain.StepStatus{Agent: a, Status: StepPending}
	}
	now := time.Now().UnixMilli()
	status := domain.AsyncStatus{
		RunID:       id,
		Mode:        req.Mode,
		State:       domain.JobQueued,
		StartedAt:   now,
		LastUpdate:  now,
		Cwd:         req.Cwd,
		Steps:       steps,
		SessionDir:  req.SessionDir,
		SessionFile: req.SessionFile,
	}
	if err := writeJSON(filepath.Join(dir, StatusFile), status); err != nil {
		return "", fmt.Errorf("writing job status: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("creating job log: %w", err)
	}
	defer logFile.Close()

	pid, err := m.Spawn(dir, logFile)
	if err != nil {
		return "", fmt.Errorf("spawning runner: %w", err)
	}
	launched = true
	slog.Info("async job launched", "id", id, "pid", pid, "mode", req.Mode)

	m.mu.Lock()
	m.jobs[id] = &trackedJob{dir: dir, info: infoFromStatus(dir, status)}
	m.mu.Unlock()
	return id, nil
}

// Jobs returns the tracked jobs, newest first
func (m *Manager) Jobs() []JobInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]JobInfo, 0, len(m.jobs))
	for _, j := range m.jobs {
		list = append(list, j.info)
	}
	sort.Slice(list, func(i, k int) bool {
		if list[i].StartedAt != list[k].StartedAt {
			return list[i].StartedAt > list[k].StartedAt
		}
		return list[i].ID < list[k].ID
	})
	return list
}

// Refresh re-reads the status file of every tracked job whose modification
// time changed and reports whether anything changed
func (m *Manager) Refresh() bool {
	if m.AdoptAll {
		m.adopt()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for id, j := range m.jobs {
		info, err := os.Stat(filepath.Join(j.dir, StatusFile))
		if err != nil {
			continue
		}
		if j.loaded && info.ModTime().Equal(j.mtime) {
			continue
		}
		st, err := ReadStatus(j.dir)
		if err != nil {
			continue
		}
		j.mtime = info.ModTime()
		j.loaded = true
		j.info = infoFromStatus(j.dir, *st)
		changed = true

		if st.State.Terminal() {
			m.scheduleRemoval(id)
		}
	}
	return changed
}

// adopt starts tracking job directories not yet known
func (m *Manager) adopt() {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ResultsDir {
			continue
		}
		if _, ok := m.jobs[e.Name()]; ok {
			continue
		}
		dir := filepath.Join(m.Root, e.Name())
		st, err := ReadStatus(dir)
		if err != nil || st.State.Terminal() {
			continue
		}
		m.jobs[e.Name()] = &trackedJob{dir: dir, info: infoFromStatus(dir, *st)}
	}
}

// scheduleRemoval drops a finished job from the list after ResultTTL.
// Callers hold m.mu.
func (m *Manager) scheduleRemoval(id string) {
	if _, ok := m.timers[id]; ok {
		return
	}
	m.timers[id] = time.AfterFunc(m.ResultTTL, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.jobs, id)
		delete(m.timers, id)
	})
}

func infoFromStatus(dir string, st domain.AsyncStatus) JobInfo {
	info := JobInfo{
		ID:         st.RunID,
		Dir:        dir,
		Mode:       st.Mode,
		State:      st.State,
		StepCount:  len(st.Steps),
		StartedAt:  st.StartedAt,
		LastUpdate: st.LastUpdate,
		Error:      st.Error,
	}
	if info.ID == "" {
		info.ID = filepath.Base(dir)
	}
	if st.CurrentStep != nil {
		info.CurrentStep = *st.CurrentStep
	}
	for _, s := range st.Steps {
		info.Agents = append(info.Agents, s.Agent)
	}
	return info
}
