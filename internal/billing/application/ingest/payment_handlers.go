package ingest

import (
	"context"
	"maps"
	"strconv"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

func (p *Pipeline) handlePaymentIntentSucceeded(ctx context.Context, _ Event, pi *paymentIntentPayload) error {
	return p.mirrorPaymentIntent(ctx, pi, domain.PaymentSucceeded)
}

func (p *Pipeline) handlePaymentIntentFailed(ctx context.Context, _ Event, pi *paymentIntentPayload) error {
	return p.mirrorPaymentIntent(ctx, pi, domain.PaymentFailed)
}

// mirrorPaymentIntent copies the intent outcome onto the payment. A refunded
// payment keeps its status.
func (p *Pipeline) mirrorPaymentIntent(ctx context.Context, pi *paymentIntentPayload, status domain.PaymentStatus) error {
	payment, err := p.payments.FindByPaymentIntentID(ctx, pi.ID)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentRefunded || payment.Status == status {
		return nil
	}

	patch := domain.PaymentPatch{Status: &status}
	if pi.Amount > 0 {
		patch.Amount = &pi.Amount
	}
	if pi.Currency != "" {
		patch.Currency = &pi.Currency
	}
	if status == domain.PaymentFailed && pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
		metadata := maps.Clone(payment.Metadata)
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["failureMessage"] = pi.LastPaymentError.Message
		patch.Metadata = metadata
	}

	_, err = p.payments.UpdateFields(ctx, payment.ID, patch)
	return err
}

// handleChargeRefunded marks the payment refunded once the charge is fully
// refunded; partial refunds only record the refunded amount.
func (p *Pipeline) handleChargeRefunded(ctx context.Context, _ Event, ch *chargePayload) error {
	if ch.PaymentIntent == "" {
		p.logger.InfoContext(ctx, "charge has no payment intent, skipping", "charge", ch.ID)
		return nil
	}

	payment, err := p.payments.FindByPaymentIntentID(ctx, string(ch.PaymentIntent))
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentRefunded {
		return nil
	}

	metadata := maps.Clone(payment.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["refundedAmount"] = strconv.FormatInt(ch.AmountRefunded, 10)

	patch := domain.PaymentPatch{Metadata: metadata}
	if ch.Refunded || (ch.Amount > 0 && ch.AmountRefunded >= ch.Amount) {
		refunded := domain.PaymentRefunded
		patch.Status = &refunded
	}

	_, err = p.payments.UpdateFields(ctx, payment.ID, patch)
	return err
}
