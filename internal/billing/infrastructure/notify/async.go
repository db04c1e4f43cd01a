package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// Async dispatches notifications on background goroutines so callers never
// wait on delivery. Failures and panics are logged and counted, never returned.
type Async struct {
	next    domain.Notifier
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// NewAsync wraps next. Each delivery gets its own timeout.
func NewAsync(next domain.Notifier, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Async {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, timeout: timeout, logger: logger, metrics: metrics}
}

// SendTransactionalMessage schedules delivery and returns immediately.
func (a *Async) SendTransactionalMessage(ctx context.Context, userID string, kind domain.NotificationKind, data map[string]any) error {
	// detach from the caller's cancellation but keep its log values
	sendCtx := context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panic: %v", r)
			}
			a.metrics.RecordNotification(string(kind), err)
			if err != nil {
				a.logger.WarnContext(sendCtx, "notification failed",
					"user_id", userID,
					"kind", string(kind),
					observability.ErrorKey, err,
				)
			}
		}()

		deliverCtx, cancel := context.WithTimeout(sendCtx, a.timeout)
		defer cancel()
		err = a.next.SendTransactionalMessage(deliverCtx, userID, kind, data)
	}()

	return nil
}

// Wait blocks until all scheduled deliveries have finished.
func (a *Async) Wait() {
	a.wg.Wait()
}
