package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

func TestSlackMessage_Build(t *testing.T) {
	msg := SlackMessage{
		Text: "Subagent finished: scout",
		Attachments: []SlackAttachment{
			{
				Color: "good",
				Title: "scout (a1b2c3)",
				Text:  "Found three call sites",
			},
		},
	}

	payload, err := msg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	if len(payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	// Mock Slack server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyInfo,
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Send(Notification) error { return errors.New("offline") }

func TestMultiNotifier_JoinsErrors(t *testing.T) {
	var called []string
	multi := NewMultiNotifier(failingNotifier{}, &mockNotifier{name: "ok", calls: &called})

	err := multi.Send(Notification{Title: "Test"})
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Errorf("err = %v, want offline", err)
	}
	if len(called) != 1 {
		t.Errorf("second notifier was not called")
	}
}

func TestFromResult(t *testing.T) {
	tests := []struct {
		name      string
		res       domain.AsyncResult
		wantType  NotificationType
		wantTitle string
	}{
		{
			name:      "success",
			res:       domain.AsyncResult{ID: "j1", Agent: "scout", Success: true, Summary: "done"},
			wantType:  NotifySuccess,
			wantTitle: "Subagent finished: scout",
		},
		{
			name:      "failure",
			res:       domain.AsyncResult{ID: "j2", Agent: "scout -> worker", Summary: "exit code 1"},
			wantType:  NotifyError,
			wantTitle: "Subagent failed: scout -> worker",
		},
		{
			name:      "falls back to mode",
			res:       domain.AsyncResult{ID: "j3", Mode: domain.ModeChain, Success: true},
			wantType:  NotifySuccess,
			wantTitle: "Subagent finished: chain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FromResult(tt.res)
			if n.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", n.Type, tt.wantType)
			}
			if n.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", n.Title, tt.wantTitle)
			}
			if n.JobID != tt.res.ID {
				t.Errorf("JobID = %q", n.JobID)
			}
		})
	}
}

func TestOnCompletion_PostsToSlack(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handle := OnCompletion(NewSlackNotifier(server.URL))
	handle(domain.AsyncResult{ID: "abc123", Agent: "reviewer", Success: false, Summary: "tests failed", DurationMs: 2500})

	if got.Text != "Subagent failed: reviewer" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(got.Attachments))
	}
	a := got.Attachments[0]
	if a.Color != "danger" || a.Title != "reviewer (abc123)" {
		t.Errorf("attachment = %+v", a)
	}
	if !strings.HasPrefix(a.Text, "tests failed") {
		t.Errorf("Text = %q", a.Text)
	}
}

func TestBuildSlackMessage_JobFields(t *testing.T) {
	n := FromResult(domain.AsyncResult{ID: "abc123", Agent: "scout", Success: true, Summary: "ok", DurationMs: 61_400, Timestamp: 1_700_000_000_000})
	msg := BuildSlackMessage(n)

	a := msg.Attachments[0]
	if a.Footer != "claude-subagents" {
		t.Errorf("Footer = %q", a.Footer)
	}
	if a.Ts != 1_700_000_000 {
		t.Errorf("Ts = %d", a.Ts)
	}
	if len(a.Fields) != 2 || a.Fields[0].Value != "abc123" || a.Fields[1].Value != "1m1s" {
		t.Errorf("Fields = %+v", a.Fields)
	}

	bare := BuildSlackMessage(Notification{Title: "hello"})
	if bare.Attachments[0].Title != "" || len(bare.Attachments[0].Fields) != 0 {
		t.Errorf("bare attachment = %+v", bare.Attachments[0])
	}
}

func TestAppleScriptEscape(t *testing.T) {
	got := appleScriptEscape("say \"hi\"\nnow")
	want := `say \"hi\" now`
	if got != want {
		t.Errorf("appleScriptEscape = %q, want %q", got, want)
	}
}

func TestDesktopCommand_CarriesJobContext(t *testing.T) {
	n := Notification{
		Title:    "Subagent failed: worker",
		Message:  "tests broke",
		Type:     NotifyError,
		JobID:    "run-7",
		Duration: 83*time.Second + 400*time.Millisecond,
	}

	name, args, ok := desktopCommand("linux", n)
	if !ok || name != "notify-send" {
		t.Fatalf("linux command = %q, %v", name, ok)
	}
	joined := strings.Join(args, " ")
	for _, want := range []string{"--urgency=critical", "--icon=dialog-error", "job run-7 · 1m23s\ntests broke"} {
		if !strings.Contains(joined, want) {
			t.Errorf("notify-send args %q missing %q", joined, want)
		}
	}

	name, args, ok = desktopCommand("darwin", n)
	if !ok || name != "osascript" {
		t.Fatalf("darwin command = %q, %v", name, ok)
	}
	if !strings.Contains(args[1], `subtitle "job run-7 · 1m23s"`) {
		t.Errorf("osascript script = %q", args[1])
	}

	if _, _, ok := desktopCommand("plan9", n); ok {
		t.Error("unsupported platform should not produce a command")
	}
}

func TestDesktopCommand_EmptyMessage(t *testing.T) {
	_, args, _ := desktopCommand("linux", Notification{Title: "Subagent finished: scout", Type: NotifySuccess})
	if got := args[len(args)-1]; got != "Done" {
		t.Errorf("body = %q, want Done", got)
	}
}
