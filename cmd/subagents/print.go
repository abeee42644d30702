package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// printRun writes the final output of a single run followed by a status line
func printRun(res *domain.RunResult) {
	if out := res.FinalOutput(); out != "" {
		fmt.Println(out)
		fmt.Println()
	}

	duration := (time.Duration(res.DurationMs) * time.Millisecond).Round(100 * time.Millisecond)
	status := green("✓ " + res.Agent)
	switch {
	case res.Cancelled:
		status = yellow("⊘ " + res.Agent + " cancelled")
	case res.Failed():
		status = red(fmt.Sprintf("✗ %s failed (exit %d)", res.Agent, res.ExitCode))
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", status, dim(fmt.Sprintf("%s, %s tokens, $%s",
		duration, humanize.Comma(int64(res.Usage.Tokens())), res.Usage.Cost.StringFixed(4))))

	if res.Error != "" {
		fmt.Fprintf(os.Stderr, "  %s %s\n", red("Error:"), res.Error)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "  %s %s\n", yellow("Warning:"), w)
	}
	if len(res.SkillsMissing) > 0 {
		fmt.Fprintf(os.Stderr, "  %s skills not found: %s\n", yellow("Warning:"), strings.Join(res.SkillsMissing, ", "))
	}
	if res.Truncation != nil && res.Truncation.Truncated {
		fmt.Fprintf(os.Stderr, "  %s\n", dim("output truncated"))
	}
	if res.Artifacts != nil {
		fmt.Fprintf(os.Stderr, "  %s %s\n", dim("Artifacts:"), res.Artifacts.OutputPath)
	}
}

// printSummary colors the headline of a multi-run summary
func printSummary(summary string, failed, cancelled bool) {
	head, rest, _ := strings.Cut(summary, "\n")
	switch {
	case cancelled:
		head = yellow(head)
	case failed:
		head = red(head)
	default:
		head = green(head)
	}
	fmt.Fprintln(os.Stderr, head)
	if rest = strings.TrimRight(rest, "\n"); rest != "" {
		for _, line := range strings.Split(rest, "\n") {
			if strings.Contains(line, "Warning:") {
				line = yellow(line)
			}
			fmt.Fprintln(os.Stderr, line)
		}
	}
}
