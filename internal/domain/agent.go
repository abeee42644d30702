package domain

// AgentSource identifies where an agent definition was discovered
type AgentSource string

const (
	SourceUser    AgentSource = "user"
	SourceProject AgentSource = "project"
)

// AgentDefinition describes a subordinate agent. Definitions are immutable once
// loaded into a registry.
type AgentDefinition struct {
	Name         string
	Description  string
	Model        string
	Tools        []string
	SystemPrompt string

	// Defaults applied when a step does not override them
	Skills          []string
	Output          string
	DefaultReads    []string
	DefaultProgress bool

	Source   AgentSource
	FilePath string
}

// ResolvedBehavior is the effective per-step configuration after merging step
// overrides, agent defaults and chain-wide additions. An empty Output or nil
// Reads means the behavior is disabled.
type ResolvedBehavior struct {
	Output   string   `json:"output,omitempty"`
	Reads    []string `json:"reads,omitempty"`
	Progress bool     `json:"progress"`
	Skills   []string `json:"skills,omitempty"`
}

// StepOverrides are the per-step or per-call settings that beat agent defaults
type StepOverrides struct {
	Output   StringOverride
	Reads    ListOverride
	Progress *bool
	Skills   ListOverride
}
