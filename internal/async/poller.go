package async

import (
	"context"
	"time"
)

// DefaultPollInterval is how often the foreground checks status files
const DefaultPollInterval = 250 * time.Millisecond

// JobSink receives the tracked job list whenever it changes
type JobSink func([]JobInfo)

// Poll refreshes tracked jobs every interval and publishes the job list to
// sinks when something changed. It returns when ctx is done.
func (m *Manager) Poll(ctx context.Context, interval time.Duration, sinks ...JobSink) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	publish := func() {
		jobs := m.Jobs()
		for _, sink := range sinks {
			sink(jobs)
		}
	}

	prev := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed := m.Refresh()
			// expired jobs change the list without touching a status file
			n := len(m.Jobs())
			if changed || n != prev {
				prev = n
				publish()
			}
		}
	}
}
