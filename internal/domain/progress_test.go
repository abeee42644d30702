package domain

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAgentProgress_RingBuffers(t *testing.T) {
	p := NewAgentProgress(0, "scout", "x")

	for i := 0; i < 8; i++ {
		p.PushTool(ToolCall{Tool: fmt.Sprintf("tool-%d", i)})
	}
	if len(p.RecentTools) != MaxRecentTools {
		t.Fatalf("RecentTools = %d, want %d", len(p.RecentTools), MaxRecentTools)
	}
	if p.RecentTools[0].Tool != "tool-3" {
		t.Errorf("oldest kept tool = %s, want tool-3", p.RecentTools[0].Tool)
	}

	var lines []string
	for i := 0; i < 60; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	p.PushOutput(strings.Join(lines, "\n") + "\n\n")
	if len(p.RecentOutput) != MaxRecentOutput {
		t.Fatalf("RecentOutput = %d, want %d", len(p.RecentOutput), MaxRecentOutput)
	}
	if p.RecentOutput[MaxRecentOutput-1] != "line 59" {
		t.Errorf("newest line = %q", p.RecentOutput[MaxRecentOutput-1])
	}
}

func TestAgentProgress_Transitions(t *testing.T) {
	p := NewAgentProgress(0, "scout", "x")
	if !p.Transition(ProgressRunning) {
		t.Fatal("pending -> running should be allowed")
	}
	if p.Transition(ProgressPending) {
		t.Error("running -> pending should be rejected")
	}
	if !p.Transition(ProgressCompleted) {
		t.Fatal("running -> completed should be allowed")
	}
	if p.Transition(ProgressFailed) {
		t.Error("completed is terminal")
	}
}

func TestAgentProgress_SnapshotIsDetached(t *testing.T) {
	p := NewAgentProgress(0, "scout", "x")
	p.PushOutput("a")
	snap := p.Snapshot()
	p.PushOutput("b")
	if len(snap.RecentOutput) != 1 {
		t.Errorf("snapshot changed after mutation: %v", snap.RecentOutput)
	}
}

func TestJobState_CanAdvance(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobComplete, true},
		{JobRunning, JobRunning, true},
		{JobRunning, JobFailed, true},
		{JobRunning, JobQueued, false},
		{JobComplete, JobFailed, false},
		{JobFailed, JobRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvance(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUsage_Add(t *testing.T) {
	total := Usage{Input: 10, Cost: decimal.RequireFromString("0.1")}
	total.Add(Usage{Input: 5, Output: 7, Cost: decimal.RequireFromString("0.2"), Turns: 1})

	if total.Tokens() != 22 {
		t.Errorf("Tokens = %d, want 22", total.Tokens())
	}
	if !total.Cost.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("Cost = %s, want 0.3", total.Cost)
	}
}

func TestLastAssistantText(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Text: "first"},
		{Role: RoleToolResult, Text: "tool out"},
		{Role: RoleAssistant, Text: "  "},
	}
	if got := LastAssistantText(msgs); got != "first" {
		t.Errorf("LastAssistantText = %q, want first", got)
	}
}
