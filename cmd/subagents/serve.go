package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/notify"
	"github.com/hochfrequenz/claude-subagents/web/api"
)

var (
	servePort int
	serveHost string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job list, run history and agents over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "host to bind (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(agents.ScopeBoth)
	if err != nil {
		return err
	}
	defer a.Close()

	host, port := a.cfg.Web.Host, a.cfg.Web.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	var history api.HistoryStore
	if a.history != nil {
		history = a.history
	}
	server := api.NewServer(a.cfg.Async.Root, history, a.registry, addr)

	ctx, cancel := signalContext()
	defer cancel()

	m := newManager(a.cfg, a.cwd)
	m.AdoptAll = true
	m.Refresh()
	server.PublishJobs(m.Jobs())

	toNotifier := notify.OnCompletion(buildNotifier(a.cfg))
	watcher, err := m.Watch(ctx, func(res domain.AsyncResult) {
		slog.Info("async job finished", "id", res.ID, "agent", res.Agent, "success", res.Success)
		server.PublishCompletion(res)
		toNotifier(res)
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	go m.Poll(ctx, a.cfg.Async.PollInterval.Std(), server.PublishJobs)

	sweeper := newSweeper(a.cfg)
	if err := sweeper.Start(a.cfg.Artifacts.SweepSchedule); err != nil {
		slog.Warn("sweeper not started", "error", err)
	} else {
		defer sweeper.Stop()
	}

	fmt.Printf("Serving subagents API at http://%s\n", addr)
	return server.Start(ctx)
}
