// Package alert notifies operators about delivery failures, integrity
// conditions, and daily activity via chat platforms. Platform-specific
// notifiers live in subpackages; the serve command picks one from config.
package alert

import (
	"context"
)

// Sidebar color hints per severity.
const (
	ColorInfo    = "#439fe0"
	ColorWarning = "#f2c744"
	ColorError   = "#d00000"
)

// Event is an operator-facing notification before platform formatting.
type Event struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error"
	Fields   []Field
}

// Field is a key-value pair displayed alongside an event.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notifier delivers events to a chat platform.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
	Close() error
}

// Color maps a severity to its sidebar color hint.
func Color(severity string) string {
	switch severity {
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	}
	return ColorInfo
}

// NopNotifier discards events. Used when no alert platform is configured;
// alerts still reach the process log.
type NopNotifier struct{}

// Notify discards the event.
func (NopNotifier) Notify(context.Context, Event) error { return nil }

// Close is a no-op.
func (NopNotifier) Close() error { return nil }
