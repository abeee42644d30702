package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the project-local config file, found by walking up
// from the working directory
const LocalConfigName = ".subagents.toml"

// Config holds all application configuration
type Config struct {
	Executor      ExecutorConfig      `toml:"executor"`
	Agents        AgentsConfig        `toml:"agents"`
	Skills        SkillsConfig        `toml:"skills"`
	Chain         ChainConfig         `toml:"chain"`
	Artifacts     ArtifactsConfig     `toml:"artifacts"`
	Output        OutputConfig        `toml:"output"`
	Async         AsyncConfig         `toml:"async"`
	Store         StoreConfig         `toml:"store"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// ExecutorConfig describes how subordinate agents are launched
type ExecutorConfig struct {
	Command          string   `toml:"command"`
	ExtraArgs        []string `toml:"extra_args"`
	DefaultModel     string   `toml:"default_model"`
	KillGrace        Duration `toml:"kill_grace"`
	ProgressInterval Duration `toml:"progress_interval"`
}

// AgentsConfig holds agent discovery settings
type AgentsConfig struct {
	UserDir    string `toml:"user_dir"`
	ProjectDir string `toml:"project_dir"`
}

// SkillsConfig lists extra skill directories searched before the defaults
type SkillsConfig struct {
	Dirs []string `toml:"dirs"`
}

// ChainConfig holds chain execution settings
type ChainConfig struct {
	Root               string   `toml:"root"`
	MaxAge             Duration `toml:"max_age"`
	DefaultConcurrency int      `toml:"default_concurrency"`
	MaxParallelTasks   int      `toml:"max_parallel_tasks"`
}

// ArtifactsConfig holds artifact store settings
type ArtifactsConfig struct {
	Enabled       bool     `toml:"enabled"`
	Root          string   `toml:"root"`
	MaxAge        Duration `toml:"max_age"`
	SweepSchedule string   `toml:"sweep_schedule"`
}

// OutputConfig is the default output budget
type OutputConfig struct {
	MaxBytes int `toml:"max_bytes"`
	MaxLines int `toml:"max_lines"`
}

// AsyncConfig holds async job settings
type AsyncConfig struct {
	Root         string   `toml:"root"`
	PollInterval Duration `toml:"poll_interval"`
	ResultTTL    Duration `toml:"result_ttl"`
}

// StoreConfig holds run history settings
type StoreConfig struct {
	DatabasePath string `toml:"database_path"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Duration is a time.Duration written as a string such as "3s" or "24h"
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in Go syntax
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	data := filepath.Join(home, ".local", "share", "claude-subagents")
	return &Config{
		Executor: ExecutorConfig{
			Command:          "pi",
			KillGrace:        Duration(3 * time.Second),
			ProgressInterval: Duration(50 * time.Millisecond),
		},
		Agents: AgentsConfig{
			UserDir:    filepath.Join(home, ".config", "claude-subagents", "agents"),
			ProjectDir: filepath.Join(".subagents", "agents"),
		},
		Chain: ChainConfig{
			Root:               filepath.Join(os.TempDir(), "subagent-chains"),
			MaxAge:             Duration(24 * time.Hour),
			DefaultConcurrency: 4,
			MaxParallelTasks:   8,
		},
		Artifacts: ArtifactsConfig{
			Enabled:       true,
			Root:          filepath.Join(data, "artifacts"),
			MaxAge:        Duration(7 * 24 * time.Hour),
			SweepSchedule: "@hourly",
		},
		Output: OutputConfig{
			MaxBytes: 200 * 1024,
			MaxLines: 5000,
		},
		Async: AsyncConfig{
			Root:         filepath.Join(os.TempDir(), "subagent-async"),
			PollInterval: Duration(250 * time.Millisecond),
			ResultTTL:    Duration(10 * time.Second),
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(data, "runs.db"),
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.Agents.UserDir = ExpandPath(cfg.Agents.UserDir)
	cfg.Chain.Root = ExpandPath(cfg.Chain.Root)
	cfg.Artifacts.Root = ExpandPath(cfg.Artifacts.Root)
	cfg.Async.Root = ExpandPath(cfg.Async.Root)
	cfg.Store.DatabasePath = ExpandPath(cfg.Store.DatabasePath)
	for i, d := range cfg.Skills.Dirs {
		cfg.Skills.Dirs[i] = ExpandPath(d)
	}

	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path when given, else the nearest
// project-local config, else the user config
func LoadWithLocalFallback(explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName and returns its path, or "" when there is none
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "claude-subagents", "config.toml")
}
