package alert

import (
	"context"
	"errors"
	"fmt"
)

// MaxMessageLen caps every outbound alert; notifiers only ever see plain
// summaries, never rich content.
const MaxMessageLen = 4000

// Notifier delivers a plain-text alert to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// Manager broadcasts alerts to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends the message, capped at MaxMessageLen runes, to every
// notifier and joins their errors.
func (m *Manager) Broadcast(ctx context.Context, text string) error {
	text = Truncate(text, MaxMessageLen)
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
