package artifacts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepTarget is a directory whose entries expire after MaxAge
type SweepTarget struct {
	Name   string
	Dir    string
	MaxAge time.Duration
	// Keep lists entry names that are never swept
	Keep []string
}

// Sweeper periodically purges expired artifacts, chain scratch dirs and job dirs
type Sweeper struct {
	targets []SweepTarget
	cron    *cron.Cron
	lastRun time.Time
	running bool
	mu      sync.Mutex
}

// ParseSchedule parses a standard five-field cron expression or a descriptor
// such as @hourly
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser.Parse(expr)
}

// NewSweeper creates a sweeper for targets
func NewSweeper(targets ...SweepTarget) *Sweeper {
	return &Sweeper{targets: targets}
}

// Sweep runs one pass over all targets. Errors are logged per target.
func (s *Sweeper) Sweep() int {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return 0
	}
	s.running = true
	s.mu.Unlock()

	total := 0
	now := time.Now()
	for _, t := range s.targets {
		if t.Dir == "" || t.MaxAge <= 0 {
			continue
		}
		n, err := RemoveOlderThan(t.Dir, t.MaxAge, now, t.Keep...)
		if err != nil {
			slog.Warn("sweep failed", "target", t.Name, "dir", t.Dir, "error", err)
		}
		if n > 0 {
			slog.Info("swept expired entries", "target", t.Name, "removed", n)
		}
		total += n
	}

	s.mu.Lock()
	s.running = false
	s.lastRun = now
	s.mu.Unlock()
	return total
}

// LastRun returns when the last sweep finished
func (s *Sweeper) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Start schedules Sweep on the given cron expression
func (s *Sweeper) Start(schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("parsing sweep schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	s.cron = cron.New()
	s.cron.Schedule(sched, cron.FuncJob(func() { s.Sweep() }))
	s.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
