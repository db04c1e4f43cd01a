// Package webhook receives signed billing provider webhooks and feeds them to
// the ingest pipeline.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// MaxBodyBytes caps the webhook body that is read and verified.
const MaxBodyBytes = 65536

// SignatureHeader carries the provider signature.
const SignatureHeader = "Stripe-Signature"

// Processor applies one billing event.
type Processor interface {
	Process(ctx context.Context, ev ingest.Event) error
}

// Receiver verifies provider webhooks and processes them synchronously so
// the provider redelivers anything that failed.
type Receiver struct {
	secret    string
	processor Processor
	logger    *slog.Logger
}

// NewReceiver creates a webhook receiver.
func NewReceiver(secret string, processor Processor, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		secret:    secret,
		processor: processor,
		logger:    logger.With("component", "webhook"),
	}
}

// ServeHTTP answers 400 for unreadable or unsigned bodies and malformed
// payloads, 500 when processing failed, and 200 otherwise.
func (h *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get(SignatureHeader), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected webhook", observability.ErrorKey, err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := observability.WithCorrelationID(r.Context(), r.Header.Get("X-Request-Id"))
	ev := ingest.Event{ID: event.ID}
	ev.Type = string(event.Type)
	if event.Data != nil {
		ev.Payload = event.Data.Raw
	}

	if err := h.processor.Process(ctx, ev); err != nil {
		if errors.Is(err, ingest.ErrMalformedPayload) {
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		h.logger.ErrorContext(ctx, "webhook processing failed",
			observability.EventIDKey, ev.ID,
			observability.EventTypeKey, ev.Type,
			observability.ErrorKey, err,
		)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
