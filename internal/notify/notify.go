// Package notify delivers async job completion events to the user.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-subagents/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	JobID   string // Optional async job reference
	Agent   string // Optional agent or chain description

	Duration time.Duration
	At       time.Time
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers and joins their errors
func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromResult builds the notification for a finished async job
func FromResult(res domain.AsyncResult) Notification {
	n := Notification{JobID: res.ID, Agent: res.Agent, Type: NotifySuccess}
	what := res.Agent
	if what == "" {
		what = string(res.Mode)
	}
	if res.Success {
		n.Title = fmt.Sprintf("Subagent finished: %s", what)
	} else {
		n.Type = NotifyError
		n.Title = fmt.Sprintf("Subagent failed: %s", what)
	}

	msg := strings.TrimSpace(res.Summary)
	if len(msg) > 300 {
		msg = strings.ToValidUTF8(msg[:300], "") + "..."
	}
	n.Message = msg
	n.Duration = time.Duration(res.DurationMs) * time.Millisecond
	if res.Timestamp > 0 {
		n.At = time.UnixMilli(res.Timestamp)
	}
	return n
}

// OnCompletion adapts a notifier to the completion events of the result
// watcher. Delivery errors are logged, never returned.
func OnCompletion(n Notifier) func(domain.AsyncResult) {
	return func(res domain.AsyncResult) {
		if err := n.Send(FromResult(res)); err != nil {
			slog.Warn("sending notification", "job", res.ID, "error", err)
		}
	}
}
