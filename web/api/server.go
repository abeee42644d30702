package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/runstore"
)

// HistoryStore is the run history the API reads from
type HistoryStore interface {
	ListRuns(opts runstore.ListOptions) ([]*runstore.Run, error)
}

// Server is the HTTP API server
type Server struct {
	asyncRoot string
	history   HistoryStore
	agents    *agents.Registry
	addr      string
	mux       *http.ServeMux
	sseHub    *SSEHub
	wsHub     *WSHub

	mu   sync.RWMutex
	jobs []async.JobInfo
}

// NewServer creates a new API server. history and registry may be nil.
func NewServer(asyncRoot string, history HistoryStore, registry *agents.Registry, addr string) *Server {
	s := &Server{
		asyncRoot: asyncRoot,
		history:   history,
		agents:    registry,
		addr:      addr,
		mux:       http.NewServeMux(),
		sseHub:    NewSSEHub(),
	}
	s.wsHub = NewWSHub(s.Jobs)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/jobs", s.listJobsHandler())
	s.mux.HandleFunc("/api/jobs/", s.getJobHandler())
	s.mux.HandleFunc("/api/runs", s.listRunsHandler())
	s.mux.HandleFunc("/api/agents", s.listAgentsHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/ws/jobs", s.wsHub.HandleWebSocket)
}

// Handler exposes the routes for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	go s.sseHub.Run(ctx)
	go s.wsHub.heartbeatLoop(ctx, 30*time.Second)

	srv := &http.Server{Addr: s.addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.wsHub.CloseAll()
	}()

	slog.Info("web server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// PublishJobs stores the latest job list and pushes it to every SSE and
// WebSocket client. It satisfies async.JobSink.
func (s *Server) PublishJobs(jobs []async.JobInfo) {
	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()

	s.sseHub.Broadcast(SSEEvent{Type: "jobs", Data: jobs})
	s.wsHub.Broadcast(jobs)
}

// PublishCompletion pushes a completion event to SSE clients. It satisfies
// async.CompletionHandler.
func (s *Server) PublishCompletion(res domain.AsyncResult) {
	s.sseHub.Broadcast(SSEEvent{Type: "completion", Data: res})
}

// Jobs returns the latest published job list
func (s *Server) Jobs() []async.JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.jobs == nil {
		return []async.JobInfo{}
	}
	return s.jobs
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
