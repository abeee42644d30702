package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/runstore"
)

var (
	historyRun    string
	historyAgent  string
	historyMode   string
	historyFailed bool
	historySince  time.Duration
	historyLimit  int

	agentsScope string
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyRun, "run", "", "filter by run id")
	historyCmd.Flags().StringVar(&historyAgent, "agent", "", "filter by agent")
	historyCmd.Flags().StringVar(&historyMode, "mode", "", "filter by mode (single, parallel, chain)")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "only failed runs")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only runs newer than this")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(historyCmd)

	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "List available agents",
		RunE:  runAgents,
	}
	agentsCmd.Flags().StringVar(&agentsScope, "scope", string(agents.ScopeBoth), "agent scope: user, project or both")
	rootCmd.AddCommand(agentsCmd)
}

func historyOptions() runstore.ListOptions {
	opts := runstore.ListOptions{
		RunID:  historyRun,
		Agent:  historyAgent,
		Mode:   domain.JobMode(historyMode),
		Failed: historyFailed,
		Limit:  historyLimit,
	}
	if historySince > 0 {
		opts.Since = time.Now().Add(-historySince)
	}
	return opts
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runstore.New(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := historyOptions()
	runs, err := store.ListRuns(opts)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODE\tSTEP\tAGENT\tSTATUS\tTOKENS\tCOST\tDURATION\tFINISHED")
	for _, r := range runs {
		status := green("ok")
		switch {
		case r.Cancelled:
			status = yellow("cancelled")
		case r.Skipped:
			status = dim("skipped")
		case r.ExitCode != 0:
			status = red(fmt.Sprintf("exit %d", r.ExitCode))
		}
		step := "-"
		if r.Mode == domain.ModeChain {
			step = fmt.Sprintf("%d", r.Step+1)
		}
		if r.TaskIndex >= 0 {
			step += fmt.Sprintf("[%d]", r.TaskIndex+1)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t$%s\t%s\t%s\n",
			r.RunID, r.Mode, step, r.Agent, status,
			humanize.Comma(int64(r.Usage.Tokens())), r.Usage.Cost.StringFixed(4),
			(time.Duration(r.DurationMs) * time.Millisecond).Round(100*time.Millisecond),
			humanize.Time(r.FinishedAt))
	}
	w.Flush()

	totals, err := store.Summarize(opts)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s runs, %s failed, %s tokens, $%s, %s total\n",
		bold(totals.Runs), red(totals.Failed), humanize.Comma(int64(totals.Usage.Tokens())),
		totals.Usage.Cost.StringFixed(4), totals.Duration.Round(time.Second))
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(agentsScope)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	registry, err := discoverAgents(cfg, cwd, scope)
	if err != nil {
		return err
	}

	list := registry.List()
	if len(list) == 0 {
		fmt.Println("No agents found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCE\tMODEL\tTOOLS\tDESCRIPTION")
	for _, a := range list {
		model := a.Model
		if model == "" {
			model = "-"
		}
		tools := strings.Join(a.Tools, ",")
		if tools == "" {
			tools = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", bold(a.Name), a.Source, model, tools, a.Description)
	}
	w.Flush()
	return nil
}
