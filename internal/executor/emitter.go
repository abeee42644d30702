package executor

import (
	"sync"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// ProgressSink receives progress snapshots. It is called serially and must
// not block.
type ProgressSink func(domain.AgentProgress)

// DefaultProgressInterval is the minimum time between two emissions
const DefaultProgressInterval = 50 * time.Millisecond

// emitter throttles progress emissions: it emits at once when the interval
// has elapsed and otherwise schedules exactly one trailing emission with the
// latest snapshot. Forced updates reset the window.
type emitter struct {
	sink     ProgressSink
	interval time.Duration
	now      func() time.Time

	mu      sync.Mutex
	last    time.Time
	pending *domain.AgentProgress
	timer   *time.Timer
	closed  bool
}

func newEmitter(sink ProgressSink, interval time.Duration) *emitter {
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	return &emitter{sink: sink, interval: interval, now: time.Now}
}

// update offers a new snapshot
func (e *emitter) update(p domain.AgentProgress, force bool) {
	if e == nil || e.sink == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	now := e.now()
	if force {
		e.last = time.Time{}
	}
	if elapsed := now.Sub(e.last); elapsed >= e.interval {
		e.stopTimer()
		e.pending = nil
		e.last = now
		e.sink(p)
		return
	}

	e.pending = &p
	if e.timer == nil {
		e.timer = time.AfterFunc(e.interval-now.Sub(e.last), e.fire)
	}
}

func (e *emitter) fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timer = nil
	if e.closed || e.pending == nil {
		return
	}
	p := *e.pending
	e.pending = nil
	e.last = e.now()
	e.sink(p)
}

// close drops any scheduled emission and emits final
func (e *emitter) close(final domain.AgentProgress) {
	if e == nil || e.sink == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.stopTimer()
	e.pending = nil
	e.sink(final)
}

func (e *emitter) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
