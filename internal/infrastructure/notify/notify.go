// Package notify delivers progress notifications to external channels.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/notification"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG SENDER
// ══════════════════════════════════════════════════════════════════════════════

// LogSender writes notifications to the log. Used when no channel is
// configured and in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With(slog.String("component", "notify_log"))}
}

// Send implements notification.Sender.
func (s *LogSender) Send(ctx context.Context, n *notification.Notification) error {
	s.logger.InfoContext(ctx, "notification",
		slog.String("user_id", n.UserID),
		slog.String("type", string(n.Type)),
		slog.String("priority", n.Priority.String()),
		slog.String("text", n.Text()),
		slog.String("correlation_id", n.CorrelationID),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// Multi sends to every sender and joins their errors.
type Multi []notification.Sender

// Send implements notification.Sender.
func (m Multi) Send(ctx context.Context, n *notification.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
