package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/artifacts"
	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/config"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/notify"
	"github.com/hochfrequenz/claude-subagents/internal/runstore"
	"github.com/hochfrequenz/claude-subagents/tui"
)

var (
	jobsLimit   int
	watchAll    bool
	cleanupAll  bool
	runnerJob   string
	historyKeep time.Duration
)

func init() {
	statusCmd := &cobra.Command{
		Use:   "status [JOB]",
		Short: "Show the status of an async job",
		Long: `Show the status of an async job. JOB may be a job id, a unique id
prefix or a job directory. Without JOB the most recent job is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List async jobs",
		RunE:  runJobs,
	}
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list (0 for all)")
	rootCmd.AddCommand(jobsCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor async jobs and deliver their completions",
		Long: `Monitor async jobs in a terminal UI. Completion events of jobs owned
by this session are shown and forwarded to the configured notifiers.`,
		RunE: runWatch,
	}
	watchCmd.Flags().BoolVar(&watchAll, "all", true, "show jobs of every session, not only launched ones")
	rootCmd.AddCommand(watchCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired artifacts, chain dirs, job dirs and run history",
		RunE:  runCleanup,
	}
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "remove everything regardless of age")
	cleanupCmd.Flags().DurationVar(&historyKeep, "history", 30*24*time.Hour, "run history retention (0 keeps all)")
	rootCmd.AddCommand(cleanupCmd)

	runnerCmd := &cobra.Command{
		Use:    async.RunnerCommand,
		Short:  "Execute a job directory (internal)",
		Hidden: true,
		RunE:   runRunner,
	}
	runnerCmd.Flags().StringVar(&runnerJob, "job", "", "job directory")
	runnerCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(runnerCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var dir string
	if len(args) == 1 {
		dir, err = async.FindJob(cfg.Async.Root, args[0])
		if err != nil {
			return err
		}
	} else {
		jobs, err := async.ListJobs(cfg.Async.Root)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No async jobs")
			return nil
		}
		dir = filepath.Join(cfg.Async.Root, jobs[0].RunID)
	}

	text, err := async.FormatStatus(dir)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

func stateLabel(s domain.JobState) string {
	switch s {
	case domain.JobRunning:
		return cyan(string(s))
	case domain.JobComplete:
		return green(string(s))
	case domain.JobFailed:
		return red(string(s))
	default:
		return dim(string(s))
	}
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	jobs, err := async.ListJobs(cfg.Async.Root)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No async jobs")
		return nil
	}
	if jobsLimit > 0 && len(jobs) > jobsLimit {
		jobs = jobs[:jobsLimit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tMODE\tSTEP\tAGENTS\tSTARTED\tERROR")
	for _, st := range jobs {
		agentNames := make([]string, len(st.Steps))
		for i, s := range st.Steps {
			agentNames[i] = s.Agent
		}
		step := "-"
		if st.CurrentStep != nil && len(st.Steps) > 0 {
			step = fmt.Sprintf("%d/%d", *st.CurrentStep+1, len(st.Steps))
		}
		errText := st.Error
		if len(errText) > 40 {
			errText = errText[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			st.RunID, stateLabel(st.State), st.Mode, step, strings.Join(agentNames, " -> "),
			humanize.Time(time.UnixMilli(st.StartedAt)), errText)
	}
	w.Flush()
	return nil
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var list []notify.Notifier
	if cfg.Notifications.Desktop {
		list = append(list, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		list = append(list, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	if len(list) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(list...)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	// the alt screen owns the terminal; keep logs out of it
	if err := os.MkdirAll(cfg.Async.Root, 0755); err != nil {
		return err
	}
	if logFile, err := os.OpenFile(filepath.Join(cfg.Async.Root, ".watch.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		defer logFile.Close()
		setupLogging(logFile)
	}

	m := newManager(cfg, cwd)
	m.AdoptAll = watchAll
	m.Refresh()

	p := tea.NewProgram(tui.NewModel(tui.ModelConfig{
		AsyncRoot: cfg.Async.Root,
		Jobs:      m.Jobs(),
	}), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	toUI := tui.CompletionSink(p)
	toNotifier := notify.OnCompletion(buildNotifier(cfg))
	watcher, err := m.Watch(ctx, func(res domain.AsyncResult) {
		toUI(res)
		toNotifier(res)
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	go m.Poll(ctx, cfg.Async.PollInterval.Std(), tui.JobSink(p))

	sweeper := newSweeper(cfg)
	if err := sweeper.Start(cfg.Artifacts.SweepSchedule); err != nil {
		slog.Warn("sweeper not started", "error", err)
	} else {
		defer sweeper.Stop()
	}

	_, err = p.Run()
	return err
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	maxAge := func(d config.Duration) time.Duration {
		if cleanupAll {
			return 0
		}
		return d.Std()
	}
	targets := []struct {
		name string
		dir  string
		age  time.Duration
	}{
		{"artifacts", cfg.Artifacts.Root, maxAge(cfg.Artifacts.MaxAge)},
		{"chains", cfg.Chain.Root, maxAge(cfg.Chain.MaxAge)},
		{"jobs", cfg.Async.Root, maxAge(cfg.Chain.MaxAge)},
	}
	now := time.Now()
	for _, t := range targets {
		n, err := artifacts.RemoveOlderThan(t.dir, t.age, now, async.ResultsDir)
		if err != nil {
			return fmt.Errorf("cleaning %s: %w", t.name, err)
		}
		fmt.Printf("%-10s removed %d from %s\n", t.name, n, dim(t.dir))
	}

	if historyKeep > 0 {
		store, err := runstore.New(cfg.Store.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		n, err := store.Prune(now.Add(-historyKeep))
		if err != nil {
			return err
		}
		fmt.Printf("%-10s removed %d runs older than %s\n", "history", n, historyKeep)
	}
	return nil
}

// runRunner executes a job in the detached child. Its stdout and stderr are
// the job's output.log.
func runRunner(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := async.ReadRequest(runnerJob)
	if err != nil {
		return err
	}

	cwd := req.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	registry, err := discoverAgents(cfg, cwd, agents.ScopeBoth)
	if err != nil {
		return err
	}

	var history *runstore.Store
	if store, err := runstore.New(cfg.Store.DatabasePath); err != nil {
		slog.Warn("run history disabled", "error", err)
	} else {
		history = store
		defer store.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	runner := &async.Runner{
		Orchestrator: newOrchestrator(cfg, cwd, registry, history),
		Root:         filepath.Dir(filepath.Clean(runnerJob)),
		Defaults:     defaultLimits(cfg),
	}
	slog.Info("runner started", "job", runnerJob, "pid", os.Getpid())
	if err := runner.Run(ctx, runnerJob); err != nil {
		slog.Error("runner failed", "job", runnerJob, "error", err)
		return err
	}
	slog.Info("runner finished", "job", runnerJob)
	return nil
}
