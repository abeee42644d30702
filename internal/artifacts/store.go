// Package artifacts keeps per-run input, output, event log and metadata files.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// cleanupMarker records the last age-based sweep of a directory
const cleanupMarker = ".last-cleanup"

// cleanupEvery is how often CleanupOnce actually sweeps
const cleanupEvery = 24 * time.Hour

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Metadata is the content of a run's _meta.json file
type Metadata struct {
	RunID         string       `json:"runId"`
	Agent         string       `json:"agent"`
	Task          string       `json:"task"`
	Index         *int         `json:"index,omitempty"`
	ExitCode      int          `json:"exitCode"`
	Model         string       `json:"model,omitempty"`
	Usage         domain.Usage `json:"usage"`
	DurationMs    int64        `json:"durationMs"`
	ToolCount     int          `json:"toolCount"`
	Error         string       `json:"error,omitempty"`
	Cancelled     bool         `json:"cancelled,omitempty"`
	Skills        []string     `json:"skills,omitempty"`
	SkillsMissing []string     `json:"skillsMissing,omitempty"`
	Truncated     bool         `json:"truncated,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}

// Store writes artifact files below one directory. Every file is written by
// the run that owns it and never reopened by anyone else.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory
func (s *Store) Dir() string {
	return s.dir
}

// Paths computes the artifact paths of a run. index < 0 omits the index
// component.
func (s *Store) Paths(runID, agent string, index int) domain.ArtifactPaths {
	base := sanitize(runID) + "_" + sanitize(agent)
	if index >= 0 {
		base = fmt.Sprintf("%s_%d", base, index)
	}
	return domain.ArtifactPaths{
		InputPath:    filepath.Join(s.dir, base+"_input.md"),
		OutputPath:   filepath.Join(s.dir, base+"_output.md"),
		JSONLPath:    filepath.Join(s.dir, base+".jsonl"),
		MetadataPath: filepath.Join(s.dir, base+"_meta.json"),
	}
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// WriteInput stores the task text handed to the run
func (s *Store) WriteInput(p domain.ArtifactPaths, text string) error {
	return WriteFileAtomic(p.InputPath, []byte(text), 0644)
}

// WriteOutput stores the untruncated final output of the run
func (s *Store) WriteOutput(p domain.ArtifactPaths, text string) error {
	return WriteFileAtomic(p.OutputPath, []byte(text), 0644)
}

// WriteMetadata stores the run's metadata as indented JSON
func (s *Store) WriteMetadata(p domain.ArtifactPaths, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return WriteFileAtomic(p.MetadataPath, data, 0644)
}

// ReadMetadata loads a _meta.json file
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &meta, nil
}

// CreateEventLog opens the raw event log for writing
func (s *Store) CreateEventLog(p domain.ArtifactPaths) (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifacts dir: %w", err)
	}
	return os.Create(p.JSONLPath)
}

// CleanupOnce sweeps dir at most once per day, tracked by a marker file
func CleanupOnce(dir string, maxAge time.Duration) (int, error) {
	marker := filepath.Join(dir, cleanupMarker)
	if info, err := os.Stat(marker); err == nil && time.Since(info.ModTime()) < cleanupEvery {
		return 0, nil
	}

	removed, err := RemoveOlderThan(dir, maxAge, time.Now())
	if err != nil {
		return removed, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return removed, err
	}
	return removed, os.WriteFile(marker, []byte(time.Now().Format(time.RFC3339)), 0644)
}

// RemoveOlderThan deletes top-level entries of dir whose modification time is
// older than maxAge. Dot-files and the names in keep are never removed. A
// missing dir is not an error.
func RemoveOlderThan(dir string, maxAge time.Duration, now time.Time, keep ...string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || slices.Contains(keep, e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("removing %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
