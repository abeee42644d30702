package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepKind tags the shape of a ChainStep
type StepKind string

const (
	StepSequential StepKind = "sequential"
	StepParallel   StepKind = "parallel"
)

// StringOverride is a per-step setting that is either unset (fall back to the
// agent default), set to a value, or explicitly disabled with `false`.
type StringOverride struct {
	Set      bool
	Disabled bool
	Value    string
}

// ListOverride is the list-valued counterpart of StringOverride.
type ListOverride struct {
	Set      bool
	Disabled bool
	Values   []string
}

// StringValue returns an override set to v
func StringValue(v string) StringOverride { return StringOverride{Set: true, Value: v} }

// StringDisabled returns an override that disables the setting
func StringDisabled() StringOverride { return StringOverride{Set: true, Disabled: true} }

// ListValue returns an override set to values
func ListValue(values ...string) ListOverride { return ListOverride{Set: true, Values: values} }

// ListDisabled returns an override that disables the setting
func ListDisabled() ListOverride { return ListOverride{Set: true, Disabled: true} }

// UnmarshalYAML accepts a string or `false`.
func (o *StringOverride) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected string or false", node.Line)
	}
	if node.Tag == "!!null" {
		*o = StringOverride{}
		return nil
	}
	if node.Tag == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*o = StringOverride{}
		if !b {
			*o = StringDisabled()
		}
		return nil
	}
	*o = StringValue(node.Value)
	return nil
}

// UnmarshalJSON accepts a string or `false`.
func (o *StringOverride) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*o = StringOverride{}
	case bool:
		*o = StringOverride{}
		if !t {
			*o = StringDisabled()
		}
	case string:
		*o = StringValue(t)
	default:
		return fmt.Errorf("expected string or false, got %T", v)
	}
	return nil
}

// MarshalJSON writes the value, `false`, or null when unset.
func (o StringOverride) MarshalJSON() ([]byte, error) {
	switch {
	case !o.Set:
		return []byte("null"), nil
	case o.Disabled:
		return []byte("false"), nil
	default:
		return json.Marshal(o.Value)
	}
}

// UnmarshalYAML accepts a list, a comma-separated string, or `false`.
func (o *ListOverride) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var values []string
		if err := node.Decode(&values); err != nil {
			return err
		}
		*o = ListValue(values...)
		return nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*o = ListOverride{}
			return nil
		}
		if node.Tag == "!!bool" {
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*o = ListOverride{}
			if !b {
				*o = ListDisabled()
			}
			return nil
		}
		*o = ListValue(SplitList(node.Value)...)
		return nil
	}
	return fmt.Errorf("line %d: expected list, string or false", node.Line)
}

// UnmarshalJSON accepts a list, a comma-separated string, or `false`.
func (o *ListOverride) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*o = ListOverride{}
	case bool:
		*o = ListOverride{}
		if !t {
			*o = ListDisabled()
		}
	case string:
		*o = ListValue(SplitList(t)...)
	case []any:
		values := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected list of strings, got %T", item)
			}
			values = append(values, s)
		}
		*o = ListValue(values...)
	default:
		return fmt.Errorf("expected list, string or false, got %T", v)
	}
	return nil
}

// MarshalJSON writes the list, `false`, or null when unset.
func (o ListOverride) MarshalJSON() ([]byte, error) {
	switch {
	case !o.Set:
		return []byte("null"), nil
	case o.Disabled:
		return []byte("false"), nil
	default:
		values := o.Values
		if values == nil {
			values = []string{}
		}
		return json.Marshal(values)
	}
}

// SplitList splits a comma-separated list, dropping blanks
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// TaskItem is one sequential unit of work: a chain step or a parallel item.
type TaskItem struct {
	Agent    string         `json:"agent" yaml:"agent"`
	Task     string         `json:"task,omitempty" yaml:"task"`
	Cwd      string         `json:"cwd,omitempty" yaml:"cwd"`
	Output   StringOverride `json:"output" yaml:"output"`
	Reads    ListOverride   `json:"reads" yaml:"reads"`
	Progress *bool          `json:"progress,omitempty" yaml:"progress"`
	Skills   ListOverride   `json:"skill" yaml:"skill"`
}

// ParallelGroup fans a chain step out over several items.
type ParallelGroup struct {
	Items       []TaskItem
	Concurrency int
	FailFast    bool
}

// ChainStep is a tagged union: exactly one of Sequential or Parallel is set,
// matching Kind.
type ChainStep struct {
	Kind       StepKind
	Sequential *TaskItem
	Parallel   *ParallelGroup
}

// Sequential builds a sequential chain step
func Sequential(item TaskItem) ChainStep {
	return ChainStep{Kind: StepSequential, Sequential: &item}
}

// Parallel builds a parallel chain step
func Parallel(concurrency int, failFast bool, items ...TaskItem) ChainStep {
	return ChainStep{Kind: StepParallel, Parallel: &ParallelGroup{Items: items, Concurrency: concurrency, FailFast: failFast}}
}

// Agents lists the agent names of the step in item order
func (s ChainStep) Agents() []string {
	if s.Kind == StepParallel {
		names := make([]string, len(s.Parallel.Items))
		for i, item := range s.Parallel.Items {
			names[i] = item.Agent
		}
		return names
	}
	return []string{s.Sequential.Agent}
}

// stepWire is the on-disk shape of a step: a parallel step is recognised by
// the presence of the `parallel` key.
type stepWire struct {
	TaskItem    `yaml:",inline"`
	ParallelRaw []TaskItem `json:"parallel,omitempty" yaml:"parallel"`
	Concurrency int        `json:"concurrency,omitempty" yaml:"concurrency"`
	FailFast    bool       `json:"failFast,omitempty" yaml:"failFast"`
}

func (w stepWire) toStep(hasParallel bool) (ChainStep, error) {
	if hasParallel {
		if w.Agent != "" {
			return ChainStep{}, fmt.Errorf("step has both agent %q and parallel items", w.Agent)
		}
		return Parallel(w.Concurrency, w.FailFast, w.ParallelRaw...), nil
	}
	return Sequential(w.TaskItem), nil
}

// UnmarshalYAML decodes either step shape and tags it.
func (s *ChainStep) UnmarshalYAML(node *yaml.Node) error {
	var w stepWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	hasParallel := false
	if node.Kind == yaml.MappingNode {
		for i := 0; i < len(node.Content); i += 2 {
			if node.Content[i].Value == "parallel" {
				hasParallel = true
			}
		}
	}
	step, err := w.toStep(hasParallel)
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// UnmarshalJSON decodes either step shape and tags it.
func (s *ChainStep) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	var w stepWire
	if err := json.Unmarshal(data, &w.TaskItem); err != nil {
		return err
	}
	_, hasParallel := keys["parallel"]
	if hasParallel {
		if err := json.Unmarshal(data, &struct {
			ParallelRaw *[]TaskItem `json:"parallel"`
			Concurrency *int        `json:"concurrency"`
			FailFast    *bool       `json:"failFast"`
		}{&w.ParallelRaw, &w.Concurrency, &w.FailFast}); err != nil {
			return err
		}
	}
	step, err := w.toStep(hasParallel)
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// MarshalJSON writes the wire shape of the step.
func (s ChainStep) MarshalJSON() ([]byte, error) {
	if s.Kind == StepParallel {
		return json.Marshal(struct {
			Parallel    []TaskItem `json:"parallel"`
			Concurrency int        `json:"concurrency,omitempty"`
			FailFast    bool       `json:"failFast,omitempty"`
		}{s.Parallel.Items, s.Parallel.Concurrency, s.Parallel.FailFast})
	}
	if s.Sequential == nil {
		return nil, fmt.Errorf("sequential step has no item")
	}
	return json.Marshal(s.Sequential)
}

// HasParallel reports whether any step fans out
func HasParallel(steps []ChainStep) bool {
	for _, s := range steps {
		if s.Kind == StepParallel {
			return true
		}
	}
	return false
}

// Overrides returns the behavior overrides carried by the item
func (t TaskItem) Overrides() StepOverrides {
	return StepOverrides{Output: t.Output, Reads: t.Reads, Progress: t.Progress, Skills: t.Skills}
}
