package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// DesktopNotifier pops up a desktop notification per finished job
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send sends a desktop notification. Platforms without a known notifier are
// silently skipped.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args, ok := desktopCommand(runtime.GOOS, n)
	if !ok {
		return nil
	}
	return exec.Command(name, args...).Run()
}

// desktopCommand returns the notifier invocation for goos
func desktopCommand(goos string, n Notification) (string, []string, bool) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, appleScriptEscape(body), appleScriptEscape(n.Title))
		if sub := jobContext(n); sub != "" {
			script += fmt.Sprintf(` subtitle "%s"`, appleScriptEscape(sub))
		}
		return "osascript", []string{"-e", script}, true
	case "linux":
		args := []string{"--app-name=subagents", "--icon=" + IconForType(n.Type)}
		if n.Type == NotifyError {
			args = append(args, "--urgency=critical")
		}
		if sub := jobContext(n); sub != "" {
			body = strings.TrimSpace(sub + "\n" + body)
		}
		return "notify-send", append(args, n.Title, body), true
	default:
		return "", nil, false
	}
}

func desktopBody(n Notification) string {
	if n.Message != "" {
		return n.Message
	}
	if n.Type == NotifyError {
		return "No output"
	}
	return "Done"
}

// jobContext is the one-line "job · duration" reference shown under the title
func jobContext(n Notification) string {
	var parts []string
	if n.JobID != "" {
		parts = append(parts, "job "+n.JobID)
	}
	if n.Duration > 0 {
		parts = append(parts, n.Duration.Round(time.Second).String())
	}
	return strings.Join(parts, " · ")
}

// appleScriptEscape makes s safe inside an AppleScript string literal
func appleScriptEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ").Replace(s)
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
