package ingest

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

// subscriptionForInvoice returns the invoice's subscription, or nil when the
// invoice has none or it is not known yet.
func (p *Pipeline) subscriptionForInvoice(ctx context.Context, inv *invoicePayload) (*domain.Subscription, error) {
	extID := inv.subscriptionID()
	if extID == "" {
		p.logger.InfoContext(ctx, "invoice has no subscription, skipping", "invoice", inv.ID)
		return nil, nil
	}

	sub, err := p.subscriptions.FindByExternalID(ctx, extID)
	if err != nil {
		if domain.IsNotFound(err) {
			p.logger.InfoContext(ctx, "subscription not known yet, skipping invoice event",
				"subscription", extID,
				"invoice", inv.ID,
			)
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// ensureInvoice returns the stored invoice, creating it from the payload
// when this is the first event that mentions it.
func (p *Pipeline) ensureInvoice(ctx context.Context, sub *domain.Subscription, inv *invoicePayload) (*domain.Invoice, error) {
	existing, err := p.invoices.FindByExternalID(ctx, inv.ID)
	if err == nil {
		return existing, nil
	}
	if !domain.IsNotFound(err) {
		return nil, err
	}

	created := &domain.Invoice{
		SubscriptionID:          sub.ID,
		UserID:                  sub.UserID,
		ExternalInvoiceID:       inv.ID,
		ExternalPaymentIntentID: string(inv.PaymentIntent),
		Amount:                  inv.amount(),
		Currency:                inv.Currency,
		Status:                  domain.InvoiceOpen,
		DueDate:                 unixTimePtr(inv.DueDate),
		LineItems:               inv.lineItems(),
		Subtotal:                inv.Subtotal,
		Tax:                     inv.tax(),
		Discount:                inv.discount(),
		NextPaymentAttempt:      unixTimePtr(inv.NextPaymentAttempt),
	}
	if err := p.invoices.Create(ctx, created); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return p.invoices.FindByExternalID(ctx, inv.ID)
		}
		return nil, fmt.Errorf("create invoice %s: %w", inv.ID, err)
	}
	return created, nil
}

func (p *Pipeline) handleInvoiceCreated(ctx context.Context, _ Event, inv *invoicePayload) error {
	sub, err := p.subscriptionForInvoice(ctx, inv)
	if sub == nil {
		return err
	}

	stored, err := p.ensureInvoice(ctx, sub, inv)
	if err != nil {
		return err
	}

	// refresh provider-owned content; the status only ever moves to paid
	amount, subtotal, tax, discount := inv.amount(), inv.Subtotal, inv.tax(), inv.discount()
	patch := domain.InvoicePatch{
		Amount:    &amount,
		Subtotal:  &subtotal,
		Tax:       &tax,
		Discount:  &discount,
		DueDate:   unixTimePtr(inv.DueDate),
		LineItems: inv.lineItems(),
	}
	if inv.Currency != "" {
		patch.Currency = &inv.Currency
	}
	if stored.Status == domain.InvoiceOpen && inv.isPaid() {
		paid := domain.InvoicePaid
		patch.Status = &paid
	}

	_, err = p.invoices.UpdateFields(ctx, stored.ID, patch)
	return err
}

func (p *Pipeline) handleInvoicePaymentSucceeded(ctx context.Context, _ Event, inv *invoicePayload) error {
	sub, err := p.subscriptionForInvoice(ctx, inv)
	if sub == nil {
		return err
	}

	stored, err := p.ensureInvoice(ctx, sub, inv)
	if err != nil {
		return err
	}

	if stored.Status != domain.InvoicePaid {
		paid := domain.InvoicePaid
		patch := domain.InvoicePatch{Status: &paid}
		if inv.PaymentIntent != "" {
			pi := string(inv.PaymentIntent)
			patch.ExternalPaymentIntentID = &pi
		}
		if stored, err = p.invoices.UpdateFields(ctx, stored.ID, patch); err != nil {
			return err
		}
	}

	periodStart, periodEnd := inv.servicePeriod()

	alreadyRecorded := sub.HasBillingRecord(stored.ID)
	patch := domain.SubscriptionPatch{
		BillingHistory: sub.WithBillingRecord(domain.BillingRecord{
			InvoiceID:         stored.ID,
			ExternalInvoiceID: stored.ExternalInvoiceID,
			Amount:            inv.amount(),
			Currency:          inv.Currency,
			PaidAt:            stored.UpdatedAt,
			PeriodStart:       periodStart,
			PeriodEnd:         periodEnd,
		}),
	}
	if !periodEnd.IsZero() {
		patch.CurrentPeriodStart = &periodStart
		patch.CurrentPeriodEnd = &periodEnd
	}
	if sub.Status == domain.SubscriptionPastDue || sub.Status == domain.SubscriptionTrialing {
		active := domain.SubscriptionActive
		patch.Status = &active
	}
	if _, err := p.subscriptions.UpdateFields(ctx, sub.ID, patch); err != nil {
		return err
	}

	if sub.Plan != domain.TierFree && sub.Status != domain.SubscriptionCanceled && !periodEnd.IsZero() {
		if err := p.setEntitlement(ctx, sub.UserID, &periodEnd); err != nil {
			return err
		}
	}

	if !alreadyRecorded {
		p.notify(ctx, sub.UserID, domain.NotifyPaymentReceipt, map[string]any{
			"invoiceId": inv.ID,
			"amount":    inv.amount(),
			"currency":  inv.Currency,
		})
	}
	return nil
}

// handleInvoicePaymentFailed counts one attempt per application. Redelivery
// of the same event counts again.
func (p *Pipeline) handleInvoicePaymentFailed(ctx context.Context, _ Event, inv *invoicePayload) error {
	sub, err := p.subscriptionForInvoice(ctx, inv)
	if sub == nil {
		return err
	}

	stored, err := p.ensureInvoice(ctx, sub, inv)
	if err != nil {
		return err
	}

	attempts := stored.AttemptCount + 1
	patch := domain.InvoicePatch{
		AttemptCount:       &attempts,
		NextPaymentAttempt: unixTimePtr(inv.NextPaymentAttempt),
	}
	if _, err := p.invoices.UpdateFields(ctx, stored.ID, patch); err != nil {
		return err
	}

	pastDue := domain.SubscriptionPastDue
	if _, err := p.subscriptions.UpdateFields(ctx, sub.ID, domain.SubscriptionPatch{Status: &pastDue}); err != nil {
		return err
	}

	p.notify(ctx, sub.UserID, domain.NotifyPaymentFailed, map[string]any{
		"invoiceId":    inv.ID,
		"amount":       inv.amount(),
		"currency":     inv.Currency,
		"attemptCount": attempts,
	})
	return nil
}
