// Package ingest applies provider billing events to subscription, invoice
// and payment state.
package ingest

import (
	"encoding/json"
	"errors"
)

// ErrMalformedPayload is returned when an event payload cannot be decoded
// into the shape its kind requires.
var ErrMalformedPayload = errors.New("malformed event payload")

// Event is one externally delivered billing event. ID is unique per event;
// Payload is the provider's object for the kind.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event kinds with a registered handler.
const (
	KindInvoiceCreated           = "invoice.created"
	KindInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	KindInvoicePaymentFailed     = "invoice.payment_failed"
	KindSubscriptionCreated      = "subscription.created"
	KindSubscriptionUpdated      = "subscription.updated"
	KindSubscriptionTrialWillEnd = "subscription.trial_will_end"
	KindSubscriptionDeleted      = "subscription.deleted"
	KindPaymentIntentSucceeded   = "payment_intent.succeeded"
	KindPaymentIntentFailed      = "payment_intent.payment_failed"
	KindChargeRefunded           = "charge.refunded"
)

// requiredKinds is every kind the pipeline must handle.
var requiredKinds = []string{
	KindInvoiceCreated,
	KindInvoicePaymentSucceeded,
	KindInvoicePaymentFailed,
	KindSubscriptionCreated,
	KindSubscriptionUpdated,
	KindSubscriptionTrialWillEnd,
	KindSubscriptionDeleted,
	KindPaymentIntentSucceeded,
	KindPaymentIntentFailed,
	KindChargeRefunded,
}

// kindAliases maps provider spellings onto handled kinds.
var kindAliases = map[string]string{
	"customer.subscription.created":        KindSubscriptionCreated,
	"customer.subscription.updated":        KindSubscriptionUpdated,
	"customer.subscription.trial_will_end": KindSubscriptionTrialWillEnd,
	"customer.subscription.deleted":        KindSubscriptionDeleted,
	"payment_intent.failed":                KindPaymentIntentFailed,
}

// CanonicalKind resolves provider aliases.
func CanonicalKind(kind string) string {
	if canonical, ok := kindAliases[kind]; ok {
		return canonical
	}
	return kind
}
