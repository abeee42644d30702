package resolve

import "github.com/hochfrequenz/claude-subagents/internal/domain"

// Behavior merges step overrides with the agent's defaults. An explicit
// override (including `false`) beats the agent default, which beats disabled.
// Chain-wide skills are added to whatever skill set wins unless the step
// disables skills outright.
func Behavior(agent domain.AgentDefinition, o domain.StepOverrides, chainSkills []string) domain.ResolvedBehavior {
	var b domain.ResolvedBehavior

	switch {
	case o.Output.Set && !o.Output.Disabled:
		b.Output = o.Output.Value
	case !o.Output.Set:
		b.Output = agent.Output
	}

	switch {
	case o.Reads.Set && !o.Reads.Disabled:
		b.Reads = clone(o.Reads.Values)
	case !o.Reads.Set:
		b.Reads = clone(agent.DefaultReads)
	}

	if o.Progress != nil {
		b.Progress = *o.Progress
	} else {
		b.Progress = agent.DefaultProgress
	}

	if o.Skills.Set && o.Skills.Disabled {
		return b
	}
	base := agent.Skills
	if o.Skills.Set {
		base = o.Skills.Values
	}
	b.Skills = union(base, chainSkills)

	return b
}

// union concatenates lists, dropping duplicates and blanks while keeping
// first-seen order
func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}
