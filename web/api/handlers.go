package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/runstore"
)

// JobResponse is the API response for one async job
type JobResponse struct {
	Status domain.AsyncStatus `json:"status"`
	Output string             `json:"output,omitempty"`
}

// RunResponse is the API response for a recorded run
type RunResponse struct {
	RunID        string   `json:"run_id"`
	Mode         string   `json:"mode"`
	Agent        string   `json:"agent"`
	Step         int      `json:"step"`
	TaskIndex    int      `json:"task_index"`
	ExitCode     int      `json:"exit_code"`
	Error        string   `json:"error,omitempty"`
	Model        string   `json:"model,omitempty"`
	TokensInput  int      `json:"tokens_input"`
	TokensOutput int      `json:"tokens_output"`
	CostUSD      string   `json:"cost_usd"`
	Duration     string   `json:"duration"`
	Skills       []string `json:"skills,omitempty"`
	FinishedAt   string   `json:"finished_at"`
}

// AgentResponse is the API response for an agent definition
type AgentResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Model       string   `json:"model,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Source      string   `json:"source"`
}

func runToResponse(r *runstore.Run) RunResponse {
	return RunResponse{
		RunID:        r.RunID,
		Mode:         string(r.Mode),
		Agent:        r.Agent,
		Step:         r.Step,
		TaskIndex:    r.TaskIndex,
		ExitCode:     r.ExitCode,
		Error:        r.Error,
		Model:        r.Model,
		TokensInput:  r.Usage.Input,
		TokensOutput: r.Usage.Output,
		CostUSD:      r.Usage.Cost.StringFixed(4),
		Duration:     (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond).String(),
		Skills:       r.Skills,
		FinishedAt:   r.FinishedAt.Format(time.RFC3339),
	}
}

func (s *Server) listJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// all=1 lists every job on disk instead of the tracked ones
		if r.URL.Query().Get("all") == "1" {
			jobs, err := async.ListJobs(s.asyncRoot)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if jobs == nil {
				jobs = []domain.AsyncStatus{}
			}
			writeJSON(w, jobs)
			return
		}
		writeJSON(w, s.Jobs())
	}
}

func (s *Server) getJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}

		dir, err := async.FindJob(s.asyncRoot, id)
		if err != nil {
			if errors.Is(err, async.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		st, err := async.ReadStatus(dir)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := JobResponse{Status: *st}
		if st.State.Terminal() {
			resp.Output = readOutput(st.OutputFile)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.history == nil {
			writeError(w, http.StatusServiceUnavailable, "run history not available")
			return
		}

		q := r.URL.Query()
		opts := runstore.ListOptions{
			RunID:  q.Get("run"),
			Agent:  q.Get("agent"),
			Mode:   domain.JobMode(q.Get("mode")),
			Failed: q.Get("failed") == "1",
			Limit:  50,
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		runs, err := s.history.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			resp = append(resp, runToResponse(run))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) listAgentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		resp := []AgentResponse{}
		if s.agents != nil {
			for _, a := range s.agents.List() {
				resp = append(resp, AgentResponse{
					Name:        a.Name,
					Description: a.Description,
					Model:       a.Model,
					Tools:       a.Tools,
					Skills:      a.Skills,
					Source:      string(a.Source),
				})
			}
		}
		writeJSON(w, resp)
	}
}

const maxOutputBytes = 256 * 1024

// readOutput returns the head of a job's output file, or "" when missing
func readOutput(path string) string {
	if path == "" {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxOutputBytes))
	if err != nil {
		return ""
	}
	return string(data)
}
