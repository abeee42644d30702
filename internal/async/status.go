package async

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// statusWriter owns a job's status file. It is the only writer and keeps
// the state monotonic.
type statusWriter struct {
	path string
	mu   sync.Mutex
	cur  domain.AsyncStatus
}

func newStatusWriter(jobDir string, initial domain.AsyncStatus) *statusWriter {
	return &statusWriter{path: filepath.Join(jobDir, StatusFile), cur: initial}
}

// update applies fn and persists the result. A state change that would move
// backwards is dropped.
func (w *statusWriter) update(fn func(st *domain.AsyncStatus)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.cur
	next.Steps = append([]domain.StepStatus(nil), w.cur.Steps...)
	fn(&next)
	if next.State != w.cur.State && !w.cur.State.CanAdvance(next.State) {
		slog.Warn("ignoring status regression", "from", w.cur.State, "to", next.State)
		next.State = w.cur.State
	}
	next.LastUpdate = time.Now().UnixMilli()

	if err := writeJSON(w.path, next); err != nil {
		return fmt.Errorf("writing status: %w", err)
	}
	w.cur = next
	return nil
}

// FormatStatus renders the human-readable status block of a job
func FormatStatus(jobDir string) (string, error) {
	st, err := ReadStatus(jobDir)
	if err != nil {
		return "", fmt.Errorf("reading status: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:     %s\n", st.RunID)
	fmt.Fprintf(&sb, "State:   %s\n", st.State)
	fmt.Fprintf(&sb, "Mode:    %s\n", st.Mode)
	if n := len(st.Steps); n > 0 {
		current := 0
		if st.CurrentStep != nil {
			current = *st.CurrentStep
		}
		if current >= n {
			current = n - 1
		}
		fmt.Fprintf(&sb, "Step:    %d/%d (%s)\n", current+1, n, st.Steps[current].Agent)
	}
	fmt.Fprintf(&sb, "Started: %s\n", fmtMillis(st.StartedAt))
	fmt.Fprintf(&sb, "Updated: %s\n", fmtMillis(st.LastUpdate))
	if st.EndedAt > 0 {
		fmt.Fprintf(&sb, "Ended:   %s\n", fmtMillis(st.EndedAt))
	}
	if st.TotalTokens != nil {
		fmt.Fprintf(&sb, "Tokens:  %s (cost $%s)\n", humanize.Comma(int64(st.TotalTokens.Tokens())), st.TotalTokens.Cost.StringFixed(4))
	}
	if st.Error != "" {
		fmt.Fprintf(&sb, "Error:   %s\n", st.Error)
	}
	for _, f := range []struct{ label, name string }{
		{"Log:", LogFile},
		{"Events:", EventsFile},
		{"Output:", OutputFile},
	} {
		path := filepath.Join(jobDir, f.name)
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(&sb, "%-8s %s\n", f.label, path)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func fmtMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	t := time.UnixMilli(ms)
	return fmt.Sprintf("%s (%s)", t.Format(time.RFC3339), humanize.Time(t))
}
