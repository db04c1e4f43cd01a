package notify

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

// Noop logs notifications instead of sending them. It is used when no
// email provider is configured.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a logging-only notifier.
func NewNoop(logger *slog.Logger) *Noop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Noop{logger: logger}
}

// SendTransactionalMessage logs the notification.
func (n *Noop) SendTransactionalMessage(ctx context.Context, userID string, kind domain.NotificationKind, _ map[string]any) error {
	n.logger.DebugContext(ctx, "notification skipped, no provider configured",
		"user_id", userID,
		"kind", string(kind),
	)
	return nil
}
