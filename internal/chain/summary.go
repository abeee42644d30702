package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// summarize renders the human-readable chain summary. Callers wanting the
// per-step data use Result.Steps instead.
func (o *Orchestrator) summarize(rc *runContext, res *Result) string {
	var sb strings.Builder
	total := fmtDuration(res.DurationMs)

	switch {
	case res.Cancelled:
		fmt.Fprintf(&sb, "Chain cancelled after %s (%d of %d steps finished)\n", total, len(res.Steps), len(rc.req.Steps))
	case res.Failed:
		fmt.Fprintf(&sb, "Chain failed at step %d after %s: %s\n", res.FailedStep, total, res.Error)
	default:
		fmt.Fprintf(&sb, "Chain completed in %s (%d steps)\n", total, len(res.Steps))
	}

	for _, sr := range res.Steps {
		if sr.Kind == domain.StepParallel {
			fmt.Fprintf(&sb, "  %d. parallel:", sr.Index+1)
			for _, r := range sr.Results {
				fmt.Fprintf(&sb, " %s %s", r.Agent, mark(r))
			}
			sb.WriteString("\n")
		} else {
			r := sr.Results[0]
			fmt.Fprintf(&sb, "  %d. %s %s %s\n", sr.Index+1, r.Agent, mark(r), fmtDuration(r.DurationMs))
		}
		for _, r := range sr.Results {
			for _, w := range r.Warnings {
				fmt.Fprintf(&sb, "     Warning: %s\n", w)
			}
		}
	}

	progress := filepath.Join(res.ChainDir, ProgressFile)
	if _, err := os.Stat(progress); err == nil {
		fmt.Fprintf(&sb, "Progress: %s\n", progress)
	}
	if o.ArtifactsDir != "" {
		fmt.Fprintf(&sb, "Artifacts: %s\n", o.ArtifactsDir)
	}
	fmt.Fprintf(&sb, "Chain dir: %s", res.ChainDir)
	return sb.String()
}

func summarizeParallel(res *ParallelResult) string {
	var sb strings.Builder
	ok := 0
	for _, r := range res.Results {
		if !r.Failed() {
			ok++
		}
	}
	fmt.Fprintf(&sb, "Parallel: %d/%d succeeded in %s\n", ok, len(res.Results), fmtDuration(res.DurationMs))
	for i, r := range res.Results {
		fmt.Fprintf(&sb, "  %d. %s %s", i+1, r.Agent, mark(r))
		if r.Failed() && r.Error != "" {
			fmt.Fprintf(&sb, " %s", clip(r.Error, 200))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func mark(r *domain.RunResult) string {
	switch {
	case r.Skipped:
		return "(skipped)"
	case r.Cancelled:
		return "(cancelled)"
	case r.Failed():
		return "✗"
	default:
		return "✓"
	}
}

func fmtDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(100 * time.Millisecond).String()
}
