package executor

import (
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

const sampleStream = `{"type":"session","id":"abc"}
not json at all
{"type":"tool_execution_start","toolName":"bash","args":{"command":"ls -la"}}
{"type":"tool_execution_end","toolName":"bash"}
{"type":"tool_result_end","message":{"role":"toolResult","toolName":"bash","content":[{"type":"text","text":"a.go\nb.go\n"}],"isError":false}}

{"type":"message_end","message":{"role":"user","content":"ignored"}}
{"type":"message_end","message":{"role":"assistant","model":"claude-sonnet","content":[{"type":"thinking","thinking":"hm"},{"type":"text","text":"Found 2 files"}],"usage":{"input":100,"output":20,"cacheRead":5,"cacheWrite":1,"cost":{"total":0.0015}},"stopReason":"stop"}}
{"type":"message_end","message":{"role":"assistant","content":[{"type":"text","text":"FOO"}],"usage":{"input":10,"output":2,"cost":{"total":0.0005}}}}`

func TestRecordReader_Framing(t *testing.T) {
	rr := NewRecordReader(strings.NewReader(sampleStream))

	var types []string
	for {
		rec, err := rr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, rec.Type)
	}

	assert.Equal(t, []string{
		"session", RecordToolStart, RecordToolEnd, RecordToolResultEnd,
		RecordMessageEnd, RecordMessageEnd, RecordMessageEnd,
	}, types, "last record has no trailing newline and must still be read")
}

func TestRecordReader_LongLine(t *testing.T) {
	text := strings.Repeat("x", 3*1024*1024)
	line := `{"type":"tool_result_end","message":{"role":"toolResult","content":"` + text + `"}}` + "\n"

	rec, err := NewRecordReader(strings.NewReader(line)).Next()
	require.NoError(t, err)
	assert.Len(t, rec.Get("message.content").String(), len(text))
}

func TestRunState_Apply(t *testing.T) {
	started := time.Now()
	progress := domain.NewAgentProgress(0, "scout", "look around")
	state := newRunState(progress, started)

	rr := NewRecordReader(strings.NewReader(sampleStream))
	var forced int
	for {
		rec, err := rr.Next()
		if err != nil {
			break
		}
		if _, force := state.apply(rec, started.Add(time.Second)); force {
			forced++
		}
	}

	assert.Equal(t, 2, forced, "tool start and end force emission")
	assert.Equal(t, 1, progress.ToolCount)
	require.Len(t, progress.RecentTools, 1)
	assert.Equal(t, "bash", progress.RecentTools[0].Tool)
	assert.Contains(t, progress.RecentTools[0].Args, "ls -la")
	assert.Empty(t, progress.CurrentTool)
	assert.Equal(t, []string{"a.go", "b.go"}, progress.RecentOutput)

	require.Len(t, state.messages, 3)
	assert.Equal(t, domain.RoleToolResult, state.messages[0].Role)
	assert.Equal(t, "Found 2 files", state.messages[1].Text)
	assert.Equal(t, "FOO", domain.LastAssistantText(state.messages))

	assert.Equal(t, 110, state.usage.Input)
	assert.Equal(t, 22, state.usage.Output)
	assert.Equal(t, 5, state.usage.CacheRead)
	assert.Equal(t, 2, state.usage.Turns)
	assert.True(t, state.usage.Cost.Equal(decimal.RequireFromString("0.002")), "cost = %s", state.usage.Cost)
	assert.Equal(t, "claude-sonnet", state.model)
	assert.Equal(t, 132, progress.Tokens)
	assert.Equal(t, int64(1000), progress.DurationMs)
}

func TestDetectError(t *testing.T) {
	tests := []struct {
		name     string
		messages []domain.Message
		want     bool
		contains string
	}{
		{
			name:     "clean run",
			messages: []domain.Message{{Role: domain.RoleToolResult, Text: "ok"}, {Role: domain.RoleAssistant, Text: "done"}},
		},
		{
			name:     "assistant error message",
			messages: []domain.Message{{Role: domain.RoleAssistant, StopReason: "error", ErrorMessage: "rate limited"}},
			want:     true,
			contains: "rate limited",
		},
		{
			name: "trailing tool result with nonzero exit",
			messages: []domain.Message{
				{Role: domain.RoleAssistant, Text: "running tests"},
				{Role: domain.RoleToolResult, ToolName: "bash", Text: "FAIL\nProcess exited with code 2"},
			},
			want:     true,
			contains: "exit code 2",
		},
		{
			name: "exit code zero is fine",
			messages: []domain.Message{
				{Role: domain.RoleAssistant, Text: "running"},
				{Role: domain.RoleToolResult, Text: "exit code: 0"},
			},
		},
		{
			name: "command not found",
			messages: []domain.Message{
				{Role: domain.RoleToolResult, ToolName: "bash", Text: "bash: rg: command not found"},
			},
			want:     true,
			contains: "command not found",
		},
		{
			name: "recovered failure is ignored",
			messages: []domain.Message{
				{Role: domain.RoleToolResult, Text: "Permission denied"},
				{Role: domain.RoleAssistant, Text: "Used sudo instead, all good"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, got := detectError(tt.messages)
			assert.Equal(t, tt.want, got)
			if tt.contains != "" {
				assert.Contains(t, msg, tt.contains)
			}
		})
	}
}

func TestEmitter_TrailingEdge(t *testing.T) {
	got := make(chan domain.AgentProgress, 10)
	e := newEmitter(func(p domain.AgentProgress) { got <- p }, 30*time.Millisecond)

	e.update(domain.AgentProgress{ToolCount: 1}, false)
	e.update(domain.AgentProgress{ToolCount: 2}, false)
	e.update(domain.AgentProgress{ToolCount: 3}, false)

	first := <-got
	assert.Equal(t, 1, first.ToolCount)

	select {
	case trailing := <-got:
		assert.Equal(t, 3, trailing.ToolCount, "trailing emission carries the latest snapshot")
	case <-time.After(time.Second):
		t.Fatal("trailing emission never happened")
	}

	e.update(domain.AgentProgress{ToolCount: 4}, false)
	e.update(domain.AgentProgress{ToolCount: 5}, true)
	assert.Equal(t, 5, (<-got).ToolCount, "forced update is immediate")

	e.close(domain.AgentProgress{ToolCount: 6})
	assert.Equal(t, 6, (<-got).ToolCount)
	e.update(domain.AgentProgress{ToolCount: 7}, true)
	select {
	case p := <-got:
		t.Fatalf("emission after close: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClippingKeepsValidUTF8(t *testing.T) {
	raw := strings.Repeat("ä", 100)

	args := summarizeArgs(raw)
	assert.True(t, utf8.ValidString(args), "summarizeArgs split a rune: %q", args)
	assert.True(t, strings.HasSuffix(args, "..."))

	line := firstLine(strings.Repeat("é", 150))
	assert.True(t, utf8.ValidString(line), "firstLine split a rune: %q", line)
	assert.True(t, strings.HasSuffix(line, "..."))
}
