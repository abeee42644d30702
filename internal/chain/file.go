package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
	"github.com/hochfrequenz/claude-subagents/internal/truncate"
)

// MaxOutput is a partial output budget; missing fields use the defaults
type MaxOutput struct {
	Bytes *int `json:"bytes,omitempty" yaml:"bytes"`
	Lines *int `json:"lines,omitempty" yaml:"lines"`
}

// Limits fills missing fields from defaults
func (m *MaxOutput) Limits(defaults truncate.Limits) *truncate.Limits {
	if m == nil {
		return nil
	}
	l := defaults
	if m.Bytes != nil {
		l.Bytes = *m.Bytes
	}
	if m.Lines != nil {
		l.Lines = *m.Lines
	}
	return &l
}

// File is a chain definition on disk
type File struct {
	Task      string              `json:"task,omitempty" yaml:"task"`
	Cwd       string              `json:"cwd,omitempty" yaml:"cwd"`
	Chain     []domain.ChainStep  `json:"chain" yaml:"chain"`
	Skills    domain.ListOverride `json:"skill" yaml:"skill"`
	Async     bool                `json:"async,omitempty" yaml:"async"`
	MaxOutput *MaxOutput          `json:"maxOutput,omitempty" yaml:"maxOutput"`
}

// LoadFile parses a chain file. Files ending in .json are decoded as JSON,
// everything else as YAML.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFile(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

// ParseFile decodes a chain definition
func ParseFile(data []byte, isJSON bool) (*File, error) {
	var f File
	var err error
	if isJSON {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	return &f, nil
}
