package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/hochfrequenz/claude-subagents/internal/agents"
	"github.com/hochfrequenz/claude-subagents/internal/artifacts"
	"github.com/hochfrequenz/claude-subagents/internal/async"
	"github.com/hochfrequenz/claude-subagents/internal/chain"
	"github.com/hochfrequenz/claude-subagents/internal/config"
	"github.com/hochfrequenz/claude-subagents/internal/executor"
	"github.com/hochfrequenz/claude-subagents/internal/runstore"
	"github.com/hochfrequenz/claude-subagents/internal/skills"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// app bundles the collaborators built from the configuration
type app struct {
	cfg      *config.Config
	cwd      string
	registry *agents.Registry
	history  *runstore.Store
	orch     *chain.Orchestrator
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

// newApp loads config and agents and opens the run history. The history is
// optional: when the database cannot be opened runs are not recorded.
func newApp(scope agents.Scope) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	registry, err := discoverAgents(cfg, cwd, scope)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cwd: cwd, registry: registry}
	if store, err := runstore.New(cfg.Store.DatabasePath); err != nil {
		slog.Warn("run history disabled", "path", cfg.Store.DatabasePath, "error", err)
	} else {
		a.history = store
	}

	cleanupOnStart(cfg)
	a.orch = newOrchestrator(cfg, cwd, registry, a.history)
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
}

func (a *app) limits() truncate.Limits {
	return defaultLimits(a.cfg)
}

func discoverAgents(cfg *config.Config, cwd string, scope agents.Scope) (*agents.Registry, error) {
	projectDir := cfg.Agents.ProjectDir
	if !filepath.IsAbs(projectDir) {
		projectDir = agents.FindProjectAgentsDir(cwd, projectDir)
	}
	registry, err := agents.Discover(cfg.Agents.UserDir, projectDir, scope)
	if err != nil {
		return nil, fmt.Errorf("discovering agents: %w", err)
	}
	return registry, nil
}

func defaultLimits(cfg *config.Config) truncate.Limits {
	l := truncate.DefaultLimits()
	if cfg.Output.MaxBytes != 0 {
		l.Bytes = cfg.Output.MaxBytes
	}
	if cfg.Output.MaxLines != 0 {
		l.Lines = cfg.Output.MaxLines
	}
	return l
}

func newExecutor(cfg *config.Config, cwd string) *executor.Executor {
	dirs := append([]string{}, cfg.Skills.Dirs...)
	dirs = append(dirs, skills.DefaultDirs(cwd)...)
	limits := defaultLimits(cfg)

	exec := &executor.Executor{
		Command:          cfg.Executor.Command,
		ExtraArgs:        cfg.Executor.ExtraArgs,
		DefaultModel:     cfg.Executor.DefaultModel,
		KillGrace:        cfg.Executor.KillGrace.Std(),
		ProgressInterval: cfg.Executor.ProgressInterval.Std(),
		Skills:           skills.NewResolver(dirs...),
		Limits:           &limits,
	}
	if cfg.Artifacts.Enabled {
		exec.Artifacts = artifacts.NewStore(cfg.Artifacts.Root)
	}
	return exec
}

func newOrchestrator(cfg *config.Config, cwd string, registry *agents.Registry, history *runstore.Store) *chain.Orchestrator {
	orch := &chain.Orchestrator{
		Runner:             newExecutor(cfg, cwd),
		Agents:             registry,
		ChainRoot:          cfg.Chain.Root,
		DefaultConcurrency: cfg.Chain.DefaultConcurrency,
		MaxParallelTasks:   cfg.Chain.MaxParallelTasks,
	}
	if cfg.Artifacts.Enabled {
		orch.ArtifactsDir = cfg.Artifacts.Root
	}
	// a nil *runstore.Store must not become a non-nil interface
	if history != nil {
		orch.Recorder = history
	}
	return orch
}

// cleanupOnStart purges expired artifacts and chain dirs, at most once a day
func cleanupOnStart(cfg *config.Config) {
	targets := []struct {
		dir    string
		maxAge config.Duration
		on     bool
	}{
		{cfg.Artifacts.Root, cfg.Artifacts.MaxAge, cfg.Artifacts.Enabled},
		{cfg.Chain.Root, cfg.Chain.MaxAge, true},
	}
	for _, t := range targets {
		if !t.on {
			continue
		}
		if n, err := artifacts.CleanupOnce(t.dir, t.maxAge.Std()); err != nil {
			slog.Warn("cleanup failed", "dir", t.dir, "error", err)
		} else if n > 0 {
			slog.Debug("cleanup removed entries", "dir", t.dir, "count", n)
		}
	}
}

// newSweeper covers every directory with expiring entries
func newSweeper(cfg *config.Config) *artifacts.Sweeper {
	targets := []artifacts.SweepTarget{
		{Name: "chains", Dir: cfg.Chain.Root, MaxAge: cfg.Chain.MaxAge.Std()},
		{Name: "jobs", Dir: cfg.Async.Root, MaxAge: cfg.Chain.MaxAge.Std(), Keep: []string{async.ResultsDir}},
	}
	if cfg.Artifacts.Enabled {
		targets = append(targets, artifacts.SweepTarget{Name: "artifacts", Dir: cfg.Artifacts.Root, MaxAge: cfg.Artifacts.MaxAge.Std()})
	}
	return artifacts.NewSweeper(targets...)
}

func newManager(cfg *config.Config, cwd string) *async.Manager {
	var extra []string
	if configPath != "" {
		extra = append(extra, "--config", configPath)
	}
	if verbose {
		extra = append(extra, "--verbose")
	}
	m := async.NewManager(cfg.Async.Root, async.SelfSpawn(extra...))
	if ttl := cfg.Async.ResultTTL.Std(); ttl > 0 {
		m.ResultTTL = ttl
	}
	m.ResetSession(async.Session{File: sessionFile, Cwd: cwd})
	return m
}
