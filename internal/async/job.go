// Package async runs single and chain requests in a detached background
// process and reports their progress through files in a job directory.
package async

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/claude-subagents/internal/artifacts"
	"github.com/hochfrequenz/claude-subagents/internal/chain"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// Files inside a job directory
const (
	RequestFile = "request.json"
	StatusFile  = "status.json"
	EventsFile  = "events.jsonl"
	LogFile     = "output.log"
	OutputFile  = "output.md"

	// ResultsDir holds transient completion records below the async root
	ResultsDir = "results"
)

var (
	// ErrParallelNotSupported rejects async chains that contain parallel steps
	ErrParallelNotSupported = errors.New("parallel steps are not supported in async mode")

	// ErrJobNotFound is returned when no job matches an id or prefix
	ErrJobNotFound = errors.New("job not found")
)

// JobRequest is everything the detached runner needs to execute a job
type JobRequest struct {
	Mode        domain.JobMode     `json:"mode"`
	Single      *domain.TaskItem   `json:"single,omitempty"`
	Task        string             `json:"task,omitempty"`
	Steps       []domain.ChainStep `json:"steps,omitempty"`
	Skills      []string           `json:"skills,omitempty"`
	MaxOutput   *chain.MaxOutput   `json:"maxOutput,omitempty"`
	Cwd         string             `json:"cwd"`
	SessionFile string             `json:"sessionFile,omitempty"`
	SessionDir  string             `json:"sessionDir,omitempty"`
}

// Validate rejects requests the runner cannot execute
func (r JobRequest) Validate() error {
	switch r.Mode {
	case domain.ModeSingle:
		if r.Single == nil || r.Single.Agent == "" {
			return fmt.Errorf("%w: single job needs an agent", chain.ErrInvalidChain)
		}
		if strings.TrimSpace(r.Single.Task) == "" {
			return fmt.Errorf("%w: single job needs a task", chain.ErrInvalidChain)
		}
	case domain.ModeChain:
		if domain.HasParallel(r.Steps) {
			return ErrParallelNotSupported
		}
		if len(r.Steps) == 0 {
			return fmt.Errorf("%w: chain has no steps", chain.ErrInvalidChain)
		}
	default:
		return fmt.Errorf("unsupported async mode %q", r.Mode)
	}
	return nil
}

// agents lists the agent of every step in order
func (r JobRequest) agents() []string {
	if r.Mode == domain.ModeSingle {
		return []string{r.Single.Agent}
	}
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Agents()...)
	}
	return names
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return artifacts.WriteFileAtomic(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ReadRequest loads a job's request
func ReadRequest(jobDir string) (*JobRequest, error) {
	var req JobRequest
	if err := readJSON(filepath.Join(jobDir, RequestFile), &req); err != nil {
		return nil, fmt.Errorf("reading job request: %w", err)
	}
	return &req, nil
}

// ReadStatus loads a job's status
func ReadStatus(jobDir string) (*domain.AsyncStatus, error) {
	var st domain.AsyncStatus
	if err := readJSON(filepath.Join(jobDir, StatusFile), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListJobs returns the status of every job under root, newest first
func ListJobs(root string) ([]domain.AsyncStatus, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var jobs []domain.AsyncStatus
	for _, e := range entries {
		if !e.IsDir() || e.Name() == ResultsDir {
			continue
		}
		st, err := ReadStatus(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		jobs = append(jobs, *st)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartedAt > jobs[j].StartedAt })
	return jobs, nil
}

// FindJob resolves an explicit job directory, a job id or a unique id prefix
// to a job directory
func FindJob(root, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty id", ErrJobNotFound)
	}
	if info, err := os.Stat(filepath.Join(ref, StatusFile)); err == nil && !info.IsDir() {
		return ref, nil
	}
	if _, err := os.Stat(filepath.Join(root, ref, StatusFile)); err == nil {
		return filepath.Join(root, ref), nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, ref)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != ResultsDir && strings.HasPrefix(e.Name(), ref) {
			matches = append(matches, e.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, ref)
	case 1:
		return filepath.Join(root, matches[0]), nil
	default:
		return "", fmt.Errorf("ambiguous job id %q matches %s", ref, strings.Join(matches, ", "))
	}
}
