// ABOUTME: Operator notification channel for faults raised while handling turns
// ABOUTME: Notifiers post "ERROR: <detail>" to an updates destination such as a Matrix room

package notify

import (
	"context"
	"log/slog"
)

// Prefix starts every fault notification.
const Prefix = "ERROR: "

// Notifier delivers operator notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Log writes notifications to a structured logger. It is the fallback when no
// remote channel is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "notify")}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, text string) error {
	l.logger.Error("operator notification", "text", text)
	return nil
}

// Multi fans a notification out to every notifier and returns the first error.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, text string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, text); err != nil && first == nil {
			first = err
		}
	}
	return first
}
