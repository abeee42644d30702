package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/chain"
	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

var (
	runAsync    bool
	runCwd      string
	runOutput   string
	runNoOutput bool
	runReads    []string
	runNoReads  bool
	runSkills   []string
	runNoSkills bool
	runMaxBytes int
	runMaxLines int
	runScope    string
	runJSON     bool

	parallelTasks       []string
	parallelFile        string
	parallelConcurrency int
	parallelFailFast    bool
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run AGENT TASK...",
		Short: "Run one agent on a task",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runAsync, "async", false, "run detached in the background")
	runCmd.Flags().StringVar(&runOutput, "output", "", "file the agent should write its result to")
	runCmd.Flags().BoolVar(&runNoOutput, "no-output", false, "disable the agent's default output file")
	runCmd.Flags().StringSliceVar(&runReads, "reads", nil, "files the agent should read first")
	runCmd.Flags().BoolVar(&runNoReads, "no-reads", false, "disable the agent's default reads")
	runCmd.Flags().StringSliceVar(&runSkills, "skill", nil, "skills to inject")
	runCmd.Flags().BoolVar(&runNoSkills, "no-skills", false, "disable the agent's default skills")
	addCommonRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)

	parallelCmd := &cobra.Command{
		Use:   "parallel",
		Short: "Run independent tasks concurrently",
		Long: `Run independent tasks concurrently. Tasks are given as repeated
--task "agent: task text" flags or in a YAML file with a tasks list.`,
		RunE: runParallel,
	}
	parallelCmd.Flags().StringArrayVar(&parallelTasks, "task", nil, `task as "agent: text" (repeatable)`)
	parallelCmd.Flags().StringVarP(&parallelFile, "file", "f", "", "YAML file with tasks")
	parallelCmd.Flags().IntVar(&parallelConcurrency, "concurrency", 0, "maximum concurrent runs")
	parallelCmd.Flags().BoolVar(&parallelFailFast, "fail-fast", false, "stop scheduling after the first failure")
	parallelCmd.Flags().BoolVar(&runAsync, "async", false, "run detached in the background")
	addCommonRunFlags(parallelCmd)
	rootCmd.AddCommand(parallelCmd)

	chainCmd := &cobra.Command{
		Use:   "chain FILE",
		Short: "Run a chain file",
		Long: `Run a chain defined in a YAML or JSON file. Steps run in order and
each step sees the previous step's output as {previous}. A step may fan
out over several agents with a parallel block.`,
		Args: cobra.ExactArgs(1),
		RunE: runChain,
	}
	chainCmd.Flags().BoolVar(&runAsync, "async", false, "run detached in the background (overrides the file)")
	addCommonRunFlags(chainCmd)
	rootCmd.AddCommand(chainCmd)
}

func addCommonRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&runCwd, "cwd", "", "working directory for the agents")
	cmd.Flags().IntVar(&runMaxBytes, "max-bytes", 0, "output byte budget")
	cmd.Flags().IntVar(&runMaxLines, "max-lines", 0, "output line budget")
	cmd.Flags().StringVar(&runScope, "scope", string(agents.ScopeBoth), "agent scope: user, project or both")
	cmd.Flags().BoolVar(&runJSON, "json", false, "print the raw result as JSON")
}

// signalContext is cancelled on interrupt so running children get terminated
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func maxOutputFlags(cmd *cobra.Command) *chain.MaxOutput {
	var m chain.MaxOutput
	set := false
	if cmd.Flags().Changed("max-bytes") {
		m.Bytes = &runMaxBytes
		set = true
	}
	if cmd.Flags().Changed("max-lines") {
		m.Lines = &runMaxLines
		set = true
	}
	if !set {
		return nil
	}
	return &m
}

func parseScope(s string) (agents.Scope, error) {
	switch agents.Scope(s) {
	case agents.ScopeUser, agents.ScopeProject, agents.ScopeBoth:
		return agents.Scope(s), nil
	}
	return "", fmt.Errorf("invalid scope %q (want user, project or both)", s)
}

func resolveCwd(a *app) string {
	if runCwd == "" {
		return a.cwd
	}
	if filepath.IsAbs(runCwd) {
		return runCwd
	}
	return filepath.Join(a.cwd, runCwd)
}

// singleItem builds the task item for the run command from its flags
func singleItem(agent, task, cwd string) domain.TaskItem {
	item := domain.TaskItem{Agent: agent, Task: task, Cwd: cwd}
	switch {
	case runNoOutput:
		item.Output = domain.StringDisabled()
	case runOutput != "":
		item.Output = domain.StringValue(runOutput)
	}
	switch {
	case runNoReads:
		item.Reads = domain.ListDisabled()
	case len(runReads) > 0:
		item.Reads = domain.ListValue(runReads...)
	}
	switch {
	case runNoSkills:
		item.Skills = domain.ListDisabled()
	case len(runSkills) > 0:
		item.Skills = domain.ListValue(runSkills...)
	}
	return item
}

func runRun(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(runScope)
	if err != nil {
		return err
	}
	a, err := newApp(scope)
	if err != nil {
		return err
	}
	defer a.Close()

	cwd := resolveCwd(a)
	item := singleItem(args[0], strings.Join(args[1:], " "), cwd)
	maxOut := maxOutputFlags(cmd)

	if runAsync {
		if _, err := a.registry.Lookup(item.Agent); err != nil {
			return err
		}
		return launchJob(a, async.JobRequest{
			Mode:      domain.ModeSingle,
			Single:    &item,
			MaxOutput: maxOut,
			Cwd:       cwd,
		})
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.orch.RunSingle(ctx, chain.SingleRequest{
		Agent:     item.Agent,
		Task:      item.Task,
		Cwd:       cwd,
		Overrides: item.Overrides(),
		Limits:    maxOut.Limits(a.limits()),
	})
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(res)
	}
	printRun(res)
	if res.Failed() {
		return fmt.Errorf("%s failed", res.Agent)
	}
	return nil
}

// parallelBatch is the YAML layout accepted by parallel --file
type parallelBatch struct {
	Tasks       []domain.TaskItem `yaml:"tasks"`
	Concurrency int               `yaml:"concurrency"`
	FailFast    bool              `yaml:"failFast"`
}

// parseTaskFlag splits "agent: task text"
func parseTaskFlag(s string) (domain.TaskItem, error) {
	agent, task, ok := strings.Cut(s, ":")
	agent, task = strings.TrimSpace(agent), strings.TrimSpace(task)
	if !ok || agent == "" || task == "" {
		return domain.TaskItem{}, fmt.Errorf(`invalid task %q (want "agent: task")`, s)
	}
	return domain.TaskItem{Agent: agent, Task: task}, nil
}

func loadParallelTasks() (*parallelBatch, error) {
	batch := &parallelBatch{}
	if parallelFile != "" {
		data, err := os.ReadFile(parallelFile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, batch); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", parallelFile, err)
		}
	}
	for _, t := range parallelTasks {
		item, err := parseTaskFlag(t)
		if err != nil {
			return nil, err
		}
		batch.Tasks = append(batch.Tasks, item)
	}
	if parallelConcurrency > 0 {
		batch.Concurrency = parallelConcurrency
	}
	if parallelFailFast {
		batch.FailFast = true
	}
	if len(batch.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks given; use --task or --file")
	}
	return batch, nil
}

func runParallel(cmd *cobra.Command, args []string) error {
	if runAsync {
		return async.ErrParallelNotSupported
	}
	scope, err := parseScope(runScope)
	if err != nil {
		return err
	}
	batch, err := loadParallelTasks()
	if err != nil {
		return err
	}
	a, err := newApp(scope)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.orch.RunParallel(ctx, chain.ParallelRequest{
		Tasks:       batch.Tasks,
		Concurrency: batch.Concurrency,
		FailFast:    batch.FailFast,
		Cwd:         resolveCwd(a),
		Limits:      maxOutputFlags(cmd).Limits(a.limits()),
	})
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(res)
	}
	fmt.Println(res.Output)
	fmt.Println()
	printSummary(res.Summary, res.Failed, res.Cancelled)
	if res.Cancelled {
		return chain.ErrCancelled
	}
	if res.Failed {
		return fmt.Errorf("parallel run failed")
	}
	return nil
}

func runChain(cmd *cobra.Command, args []string) error {
	scope, err := parseScope(runScope)
	if err != nil {
		return err
	}
	file, err := chain.LoadFile(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(scope)
	if err != nil {
		return err
	}
	defer a.Close()

	cwd := resolveCwd(a)
	if runCwd == "" && file.Cwd != "" {
		cwd = file.Cwd
		if !filepath.IsAbs(cwd) {
			cwd = filepath.Join(filepath.Dir(args[0]), cwd)
		}
	}
	maxOut := file.MaxOutput
	if m := maxOutputFlags(cmd); m != nil {
		maxOut = m
	}

	if err := chain.Validate(file.Chain, a.registry); err != nil {
		return err
	}

	background := file.Async
	if cmd.Flags().Changed("async") {
		background = runAsync
	}
	if background {
		return launchJob(a, async.JobRequest{
			Mode:      domain.ModeChain,
			Task:      file.Task,
			Steps:     file.Chain,
			Skills:    file.Skills.Values,
			MaxOutput: maxOut,
			Cwd:       cwd,
		})
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := a.orch.Run(ctx, chain.Request{
		Task:   file.Task,
		Steps:  file.Chain,
		Cwd:    cwd,
		Skills: file.Skills.Values,
		Limits: maxOut.Limits(a.limits()),
		Hooks: chain.Hooks{
			StepStarted: func(step int, names []string) {
				fmt.Fprintf(os.Stderr, "%s step %d: %s\n", cyan("→"), step+1, strings.Join(names, ", "))
			},
		},
	})
	if res == nil {
		return err
	}
	if runJSON {
		if jerr := printJSON(res); jerr != nil {
			return jerr
		}
		return err
	}
	if res.Output != "" {
		fmt.Println(res.Output)
		fmt.Println()
	}
	printSummary(res.Summary, res.Failed, res.Cancelled)
	if err != nil {
		return err
	}
	if res.Failed {
		return fmt.Errorf("chain failed at step %d", res.FailedStep)
	}
	return nil
}

func launchJob(a *app, req async.JobRequest) error {
	m := newManager(a.cfg, a.cwd)
	id, err := m.Launch(req)
	if err != nil {
		return err
	}
	dir := filepath.Join(a.cfg.Async.Root, id)
	fmt.Printf("%s async job %s launched\n", green("✓"), bold(id))
	fmt.Printf("  Status: subagents status %s\n", id)
	fmt.Printf("  Dir:    %s\n", dim(dir))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
