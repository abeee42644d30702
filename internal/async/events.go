package async

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Event types appended to a job's events.jsonl
const (
	EventRunStarted    = "subagent.run.started"
	EventStepStarted   = "subagent.step.started"
	EventStepCompleted = "subagent.step.completed"
	EventRunCompleted  = "subagent.run.completed"
)

// Event is one line of the job event log
type Event struct {
	Type   string         `json:"type"`
	Ts     int64          `json:"ts"`
	RunID  string         `json:"runId"`
	Step   *int           `json:"step,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

type eventLog struct {
	mu    sync.Mutex
	f     *os.File
	runID string
}

func openEventLog(path, runID string) (*eventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &eventLog{f: f, runID: runID}, nil
}

func (l *eventLog) append(typ string, step *int, fields map[string]any) {
	line, err := json.Marshal(Event{Type: typ, Ts: time.Now().UnixMilli(), RunID: l.runID, Step: step, Fields: fields})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.f.Write(append(line, '\n'))
}

func (l *eventLog) Close() error {
	return l.f.Close()
}
