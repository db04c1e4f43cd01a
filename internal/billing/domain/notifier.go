package domain

import "context"

// NotificationKind selects the transactional message template.
type NotificationKind string

const (
	NotifyPaymentFailed        NotificationKind = "payment_failed"
	NotifyTrialWillEnd         NotificationKind = "trial_will_end"
	NotifyPaymentReceipt       NotificationKind = "payment_receipt"
	NotifySubscriptionCanceled NotificationKind = "subscription_canceled"
)

// Notifier sends a transactional message to a user. Delivery is best-effort;
// callers never fail a state transition because of it.
type Notifier interface {
	SendTransactionalMessage(ctx context.Context, userID string, kind NotificationKind, data map[string]any) error
}
