package async

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// CompletionHandler receives completion events for the owning session
type CompletionHandler func(domain.AsyncResult)

// WriteResult stores the completion record of a job below root/results
func WriteResult(root string, res domain.AsyncResult) error {
	dir := filepath.Join(root, ResultsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, res.ID+".json"), res); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

// Owns reports whether a completion record belongs to session. Sessions
// with a persisted id match by id; others match records without an id by
// working directory.
func Owns(s Session, res domain.AsyncResult) bool {
	if s.File != "" {
		return res.SessionFile == s.File
	}
	if res.SessionFile != "" || s.Cwd == "" {
		return false
	}
	return filepath.Clean(res.Cwd) == filepath.Clean(s.Cwd)
}

// ResultWatcher forwards completion records of the owning session and
// deletes them once delivered. Records of other sessions are left alone.
type ResultWatcher struct {
	dir     string
	session func() Session
	handler CompletionHandler

	mu      sync.Mutex
	seen    map[string]bool
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch starts a result watcher scoped to the manager's current session.
// ResetSession also clears the watcher's delivery bookkeeping.
func (m *Manager) Watch(ctx context.Context, handler CompletionHandler) (*ResultWatcher, error) {
	w := NewResultWatcher(m.Root, m.Session, handler)
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.watcher = w
	m.mu.Unlock()
	return w, nil
}

// NewResultWatcher creates a watcher over root/results
func NewResultWatcher(root string, session func() Session, handler CompletionHandler) *ResultWatcher {
	return &ResultWatcher{
		dir:     filepath.Join(root, ResultsDir),
		session: session,
		handler: handler,
		seen:    make(map[string]bool),
	}
}

// Start begins watching. Records already present are processed first.
func (w *ResultWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("creating results dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.watcher = watcher
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.Scan()
	go w.loop(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine
func (w *ResultWatcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Scan processes every record currently in the results dir
func (w *ResultWatcher) Scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.handle(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *ResultWatcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.handle(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("result watcher error", "error", err)
		}
	}
}

func (w *ResultWatcher) handle(path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
		return
	}
	session := w.session()

	w.mu.Lock()
	if w.seen[name] {
		w.mu.Unlock()
		return
	}
	var res domain.AsyncResult
	if err := readJSON(path, &res); err != nil {
		// rename events for the source name and partial reads land here
		w.mu.Unlock()
		return
	}
	if !Owns(session, res) {
		w.mu.Unlock()
		return
	}
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("removing result file", "path", path, "error", err)
		}
		w.mu.Unlock()
		return
	}
	w.seen[name] = true
	w.mu.Unlock()

	if w.handler != nil {
		w.handler(res)
	}
}

func (w *ResultWatcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen = make(map[string]bool)
}
