package chain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// ProgressFile is the shared progress log in the chain directory
const ProgressFile = "progress.md"

const progressHeader = "# Progress\n\n"

// taskText wraps the substituted task with behavior directives. Read and
// write directives go before the task so a filename hardcoded in the task
// cannot override them; progress and previous-output directives go after.
type taskText struct {
	Task      string
	Behavior  domain.ResolvedBehavior
	ReadDir   string // reads resolve against this directory
	OutputDir string // output resolves against this directory
	Progress  string // progress.md path when progress tracking is on
	FirstUse  bool   // no earlier step tracked progress
	Previous  string // appended when non-empty
}

func (t taskText) String() string {
	var prefix []string
	if len(t.Behavior.Reads) > 0 {
		paths := make([]string, len(t.Behavior.Reads))
		for i, r := range t.Behavior.Reads {
			paths[i] = resolvePath(t.ReadDir, r)
		}
		prefix = append(prefix, fmt.Sprintf("[Read from: %s]", strings.Join(paths, ", ")))
	}
	if t.Behavior.Output != "" {
		prefix = append(prefix, fmt.Sprintf("[Write to: %s]", resolvePath(t.OutputDir, t.Behavior.Output)))
	}

	var sb strings.Builder
	if len(prefix) > 0 {
		sb.WriteString(strings.Join(prefix, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(t.Task)

	if t.Behavior.Progress && t.Progress != "" {
		if t.FirstUse {
			fmt.Fprintf(&sb, "\n\n---\nCreate and maintain progress at: %s", t.Progress)
		} else {
			fmt.Fprintf(&sb, "\n\n---\nUpdate progress at: %s", t.Progress)
		}
	}
	if t.Previous != "" {
		fmt.Fprintf(&sb, "\n\nPrevious step output:\n%s", t.Previous)
	}
	return sb.String()
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

// ensureProgressFile creates progress.md once. Creating it before any
// parallel worker starts avoids racing writers.
func ensureProgressFile(chainDir string) (string, error) {
	path := filepath.Join(chainDir, ProgressFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return path, nil
		}
		return "", fmt.Errorf("creating progress file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(progressHeader); err != nil {
		return "", err
	}
	return path, nil
}

// markdownFiles lists *.md files below dir relative to dir
func markdownFiles(dir string) map[string]bool {
	found := make(map[string]bool)
	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.md")
	if err != nil {
		return found
	}
	for _, m := range matches {
		found[m] = true
	}
	return found
}

// checkOutput returns a warning when the expected output file does not exist,
// listing markdown files the run created instead
func checkOutput(expected, searchDir string, before map[string]bool) string {
	if _, err := os.Stat(expected); err == nil {
		return ""
	}

	var unexpected []string
	for f := range markdownFiles(searchDir) {
		if before[f] || filepath.Base(f) == ProgressFile {
			continue
		}
		unexpected = append(unexpected, filepath.Join(searchDir, f))
	}
	sort.Strings(unexpected)

	msg := fmt.Sprintf("Expected output file %s was not created", expected)
	if len(unexpected) > 0 {
		msg += "; found instead: " + strings.Join(unexpected, ", ")
	}
	return msg
}
