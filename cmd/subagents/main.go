package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	sessionFile string
	verbose     bool
	rootCmd     = &cobra.Command{
		Use:   "subagents",
		Short: "Delegate work to subordinate agent runs",
		Long: `subagents runs subordinate agents as a single task, a parallel batch,
or a chain whose steps feed each other. Jobs can run detached in the
background and report back to the session that launched them.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(os.Stderr)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&sessionFile, "session", os.Getenv("SUBAGENTS_SESSION"), "session file that owns async jobs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogging(w *os.File) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
