// Package runstore keeps a SQLite history of finished subagent runs.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// Store provides SQLite-backed run history
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at dbPath, creating it and its directory if needed
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// parallel steps record concurrently; sqlite wants a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is one recorded run
type Run struct {
	ID         int64
	RunID      string
	Mode       domain.JobMode
	Agent      string
	Task       string
	Step       int
	TaskIndex  int
	ExitCode   int
	Error      string
	Model      string
	Cancelled  bool
	Skipped    bool
	Usage      domain.Usage
	DurationMs int64
	Skills     []string
	OutputPath string
	FinishedAt time.Time
}

// RecordRun stores a finished run
func (s *Store) RecordRun(runID string, mode domain.JobMode, res *domain.RunResult) error {
	skillsJSON, err := json.Marshal(res.Skills)
	if err != nil {
		return err
	}
	var outputPath string
	if res.Artifacts != nil {
		outputPath = res.Artifacts.OutputPath
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, mode, agent, task, step, task_index, exit_code, error, model, cancelled, skipped,
			tokens_input, tokens_output, cache_read, cache_write, cost, turns, duration_ms, skills, output_path, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		string(mode),
		res.Agent,
		res.Task,
		res.Step,
		res.TaskIndex,
		res.ExitCode,
		res.Error,
		res.Model,
		res.Cancelled,
		res.Skipped,
		res.Usage.Input,
		res.Usage.Output,
		res.Usage.CacheRead,
		res.Usage.CacheWrite,
		res.Usage.Cost.String(),
		res.Usage.Turns,
		res.DurationMs,
		string(skillsJSON),
		outputPath,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	RunID  string
	Agent  string
	Mode   domain.JobMode
	Failed bool
	Since  time.Time
	Limit  int
}

// ListRuns returns runs matching opts, newest first
func (s *Store) ListRuns(opts ListOptions) ([]*Run, error) {
	query := `SELECT id, run_id, mode, agent, task, step, task_index, exit_code, error, model, cancelled, skipped,
		tokens_input, tokens_output, cache_read, cache_write, cost, turns, duration_ms, skills, output_path, finished_at
		FROM runs WHERE 1=1`
	var args []interface{}

	if opts.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, opts.RunID)
	}
	if opts.Agent != "" {
		query += " AND agent = ?"
		args = append(args, opts.Agent)
	}
	if opts.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(opts.Mode))
	}
	if opts.Failed {
		query += " AND exit_code != 0"
	}
	if !opts.Since.IsZero() {
		query += " AND finished_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Totals aggregates usage over a set of runs
type Totals struct {
	Runs     int
	Failed   int
	Usage    domain.Usage
	Duration time.Duration
}

// Summarize totals the runs matching opts
func (s *Store) Summarize(opts ListOptions) (*Totals, error) {
	opts.Limit = 0
	runs, err := s.ListRuns(opts)
	if err != nil {
		return nil, err
	}
	t := &Totals{}
	for _, r := range runs {
		t.Runs++
		if r.ExitCode != 0 {
			t.Failed++
		}
		t.Usage.Add(r.Usage)
		t.Duration += time.Duration(r.DurationMs) * time.Millisecond
	}
	return t, nil
}

// Prune deletes runs finished before cutoff and returns how many were removed
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE finished_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var run Run
	var mode, cost string
	var task, errMsg, model, skillsJSON, outputPath sql.NullString

	err := rows.Scan(&run.ID, &run.RunID, &mode, &run.Agent, &task, &run.Step, &run.TaskIndex, &run.ExitCode,
		&errMsg, &model, &run.Cancelled, &run.Skipped,
		&run.Usage.Input, &run.Usage.Output, &run.Usage.CacheRead, &run.Usage.CacheWrite, &cost, &run.Usage.Turns,
		&run.DurationMs, &skillsJSON, &outputPath, &run.FinishedAt)
	if err != nil {
		return nil, err
	}

	run.Mode = domain.JobMode(mode)
	run.Task = task.String
	run.Error = errMsg.String
	run.Model = model.String
	run.OutputPath = outputPath.String
	if cost != "" {
		if run.Usage.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("parsing cost %q: %w", cost, err)
		}
	}
	if skillsJSON.Valid && skillsJSON.String != "" && skillsJSON.String != "null" {
		if err := json.Unmarshal([]byte(skillsJSON.String), &run.Skills); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
