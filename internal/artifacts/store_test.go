package artifacts

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

func TestStore_Paths(t *testing.T) {
	s := NewStore("/art")

	p := s.Paths("abc123", "scout", -1)
	assert.Equal(t, "/art/abc123_scout_input.md", p.InputPath)
	assert.Equal(t, "/art/abc123_scout_output.md", p.OutputPath)
	assert.Equal(t, "/art/abc123_scout.jsonl", p.JSONLPath)
	assert.Equal(t, "/art/abc123_scout_meta.json", p.MetadataPath)

	indexed := s.Paths("abc123", "code/reviewer", 2)
	assert.Equal(t, "/art/abc123_code-reviewer_2_meta.json", indexed.MetadataPath)

	assert.Equal(t, p, s.Paths("abc123", "scout", -1), "paths must be deterministic")
}

func TestStore_WriteAndRead(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "artifacts"))
	p := s.Paths("run1", "scout", -1)

	require.NoError(t, s.WriteInput(p, "task text"))
	require.NoError(t, s.WriteOutput(p, "final output"))
	require.NoError(t, s.WriteMetadata(p, Metadata{
		RunID:     "run1",
		Agent:     "scout",
		ExitCode:  0,
		Usage:     domain.Usage{Input: 10, Output: 20, Cost: decimal.RequireFromString("0.0123")},
		ToolCount: 3,
		Timestamp: 1700000000000,
	}))

	f, err := s.CreateEventLog(p)
	require.NoError(t, err)
	_, err = io.WriteString(f, `{"type":"message_end"}`+"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	input, err := os.ReadFile(p.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "task text", string(input))

	meta, err := ReadMetadata(p.MetadataPath)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.ToolCount)
	assert.True(t, meta.Usage.Cost.Equal(decimal.RequireFromString("0.0123")))

	leftovers, _ := filepath.Glob(filepath.Join(s.Dir(), ".*tmp*"))
	assert.Empty(t, leftovers)
}

func TestRemoveOlderThan(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old_scout_output.md")
	fresh := filepath.Join(dir, "fresh_scout_output.md")
	oldDir := filepath.Join(dir, "chain-old")
	hidden := filepath.Join(dir, ".last-cleanup")

	for _, f := range []string{old, fresh, hidden} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(oldDir, "nested"), 0755))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(oldDir, past, past))
	require.NoError(t, os.Chtimes(hidden, past, past))

	removed, err := RemoveOlderThan(dir, 24*time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, old)
	assert.NoDirExists(t, oldDir)
	assert.FileExists(t, fresh)
	assert.FileExists(t, hidden)
}

func TestRemoveOlderThan_Keep(t *testing.T) {
	dir := t.TempDir()
	results := filepath.Join(dir, "results")
	job := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(results, 0755))
	require.NoError(t, os.MkdirAll(job, 0755))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(results, past, past))
	require.NoError(t, os.Chtimes(job, past, past))

	removed, err := RemoveOlderThan(dir, time.Hour, time.Now(), "results")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.DirExists(t, results)
	assert.NoDirExists(t, job)
}

func TestRemoveOlderThan_MissingDir(t *testing.T) {
	n, err := RemoveOlderThan(filepath.Join(t.TempDir(), "nope"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupOnce(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.md")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	n, err := CleanupOnce(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dir, cleanupMarker))

	// a second stale file survives because the marker is fresh
	stale2 := filepath.Join(dir, "stale2.md")
	require.NoError(t, os.WriteFile(stale2, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(stale2, past, past))

	n, err = CleanupOnce(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.FileExists(t, stale2)
}

func TestSweeper(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	past := time.Now().Add(-2 * time.Hour)
	for _, dir := range []string{a, b} {
		f := filepath.Join(dir, "entry")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
		require.NoError(t, os.Chtimes(f, past, past))
	}

	s := NewSweeper(
		SweepTarget{Name: "artifacts", Dir: a, MaxAge: time.Hour},
		SweepTarget{Name: "chains", Dir: b, MaxAge: 24 * time.Hour},
	)
	assert.Equal(t, 1, s.Sweep())
	assert.False(t, s.LastRun().IsZero())

	require.NoError(t, s.Start("@hourly"))
	assert.Error(t, s.Start("@hourly"))
	s.Stop()
}

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"@hourly", "0 3 * * *", "*/15 * * * *"} {
		_, err := ParseSchedule(expr)
		assert.NoError(t, err, expr)
	}
	_, err := ParseSchedule("not a schedule")
	assert.Error(t, err)
}
