package domain

// JobState is the lifecycle of an async job. States only ever advance.
type JobState string

const (
	JobQueued   JobState = "queued"
	JobRunning  JobState = "running"
	JobComplete JobState = "complete"
	JobFailed   JobState = "failed"
)

func (s JobState) rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobRunning:
		return 1
	case JobComplete, JobFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the job has finished
func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// CanAdvance reports whether moving from s to next keeps the state monotonic
func (s JobState) CanAdvance(next JobState) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank() || (next == s && s == JobRunning)
}

// JobMode is the execution shape of a run. Async jobs are single or chain.
type JobMode string

const (
	ModeSingle   JobMode = "single"
	ModeChain    JobMode = "chain"
	ModeParallel JobMode = "parallel"
)

// StepStatus tracks one step of an async job
type StepStatus struct {
	Agent      string   `json:"agent"`
	Status     string   `json:"status"`
	StartedAt  int64    `json:"startedAt,omitempty"`
	DurationMs int64    `json:"durationMs,omitempty"`
	Tokens     *Usage   `json:"tokens,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// AsyncStatus is the durable record of an async job, written only by the
// detached runner. Timestamps are unix milliseconds.
type AsyncStatus struct {
	RunID       string       `json:"runId"`
	Mode        JobMode      `json:"mode"`
	State       JobState     `json:"state"`
	StartedAt   int64        `json:"startedAt"`
	LastUpdate  int64        `json:"lastUpdate"`
	EndedAt     int64        `json:"endedAt,omitempty"`
	PID         int          `json:"pid,omitempty"`
	Cwd         string       `json:"cwd,omitempty"`
	CurrentStep *int         `json:"currentStep,omitempty"`
	Steps       []StepStatus `json:"steps"`
	SessionDir  string       `json:"sessionDir,omitempty"`
	OutputFile  string       `json:"outputFile,omitempty"`
	TotalTokens *Usage       `json:"totalTokens,omitempty"`
	SessionFile string       `json:"sessionFile,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// AsyncResult is the transient completion record consumed by the owning
// session's watcher.
type AsyncResult struct {
	ID          string  `json:"id"`
	Agent       string  `json:"agent,omitempty"`
	Mode        JobMode `json:"mode,omitempty"`
	Success     bool    `json:"success"`
	Summary     string  `json:"summary"`
	ExitCode    int     `json:"exitCode"`
	Timestamp   int64   `json:"timestamp"`
	DurationMs  int64   `json:"durationMs,omitempty"`
	SessionFile string  `json:"sessionFile,omitempty"`
	Cwd         string  `json:"cwd,omitempty"`
	AsyncDir    string  `json:"asyncDir,omitempty"`
}
