package ingest

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

// trialNoticeKey is the metadata marker holding the trial end a
// trial_will_end notice was already sent for.
const trialNoticeKey = "trialWillEndNotifiedFor"

// resolveUser finds the user a provider subscription belongs to: the user
// named in its metadata, else the user of a payment by the same customer.
func (p *Pipeline) resolveUser(ctx context.Context, s *subscriptionPayload) (string, error) {
	if userID := s.Metadata["userId"]; userID != "" {
		_, err := p.users.FindByID(ctx, userID)
		if err == nil {
			return userID, nil
		}
		if !domain.IsNotFound(err) {
			return "", err
		}
	}

	if s.Customer == "" {
		return "", nil
	}
	payments, err := p.payments.FindByCustomerID(ctx, string(s.Customer))
	if err != nil {
		return "", err
	}
	for _, payment := range payments {
		if payment.UserID != "" {
			return payment.UserID, nil
		}
	}
	return "", nil
}

func (p *Pipeline) handleSubscriptionCreated(ctx context.Context, ev Event, s *subscriptionPayload) error {
	if _, err := p.subscriptions.FindByExternalID(ctx, s.ID); err == nil {
		// redelivered or overtaken by an update: converge on the payload
		return p.handleSubscriptionUpdated(ctx, ev, s)
	} else if !domain.IsNotFound(err) {
		return err
	}

	userID, err := p.resolveUser(ctx, s)
	if err != nil {
		return err
	}
	if userID == "" {
		p.logger.InfoContext(ctx, "no user for customer, skipping subscription",
			"subscription", s.ID,
			"customer", string(s.Customer),
		)
		return nil
	}

	status := domain.SubscriptionActive
	if s.Status == stripe.SubscriptionStatusTrialing {
		status = domain.SubscriptionTrialing
	}
	periodStart, periodEnd := s.period()

	sub := &domain.Subscription{
		UserID:                 userID,
		Plan:                   domain.ResolveTier(s.planName()),
		Status:                 status,
		ExternalSubscriptionID: s.ID,
		ExternalCustomerID:     string(s.Customer),
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		TrialEnd:               unixTimePtr(s.TrialEnd),
		Metadata:               maps.Clone(s.Metadata),
	}

	if err := p.subscriptions.Create(ctx, sub); err != nil {
		if domain.IsKind(err, domain.KindConflict) {
			return nil
		}
		return fmt.Errorf("create subscription %s: %w", s.ID, err)
	}

	// entitlement follows the record it is derived from
	if sub.Entitled() && !periodEnd.IsZero() {
		return p.setEntitlement(ctx, userID, &periodEnd)
	}
	return nil
}

func (p *Pipeline) handleSubscriptionUpdated(ctx context.Context, _ Event, s *subscriptionPayload) error {
	existing, err := p.subscriptions.FindByExternalID(ctx, s.ID)
	if err != nil {
		return err
	}

	patch := domain.SubscriptionPatch{CancelAtPeriodEnd: &s.CancelAtPeriodEnd}

	status := existing.Status
	if mapped, ok := s.mappedStatus(); ok {
		status = mapped
		patch.Status = &mapped
	}
	plan := existing.Plan
	if name := s.planName(); name != "" {
		plan = domain.ResolveTier(name)
		patch.Plan = &plan
	}
	periodStart, periodEnd := s.period()
	if !periodEnd.IsZero() {
		patch.CurrentPeriodStart = &periodStart
		patch.CurrentPeriodEnd = &periodEnd
	} else {
		periodEnd = existing.CurrentPeriodEnd
	}
	patch.TrialEnd = unixTimePtr(s.TrialEnd)
	if s.Customer != "" {
		customer := string(s.Customer)
		patch.ExternalCustomerID = &customer
	}
	if len(s.Metadata) > 0 {
		metadata := maps.Clone(existing.Metadata)
		if metadata == nil {
			metadata = map[string]string{}
		}
		maps.Copy(metadata, s.Metadata)
		patch.Metadata = metadata
	}

	// a cancellation revokes access before the record changes; a grant waits for it
	if status == domain.SubscriptionCanceled {
		if err := p.setEntitlement(ctx, existing.UserID, nil); err != nil {
			return err
		}
	}

	if _, err := p.subscriptions.UpdateFields(ctx, existing.ID, patch); err != nil {
		return err
	}

	prospective := domain.Subscription{Plan: plan, Status: status}
	if prospective.Entitled() && !periodEnd.IsZero() {
		return p.setEntitlement(ctx, existing.UserID, &periodEnd)
	}
	return nil
}

// handleTrialWillEnd notifies once per trial end. The marker is stamped
// before the notice goes out.
func (p *Pipeline) handleTrialWillEnd(ctx context.Context, _ Event, s *subscriptionPayload) error {
	existing, err := p.subscriptions.FindByExternalID(ctx, s.ID)
	if err != nil {
		return err
	}

	trialEnd := unixTimePtr(s.TrialEnd)
	if trialEnd == nil {
		trialEnd = existing.TrialEnd
	}
	marker := "unknown"
	if trialEnd != nil {
		marker = trialEnd.Format(time.RFC3339)
	}
	if existing.Metadata[trialNoticeKey] == marker {
		p.logger.DebugContext(ctx, "trial notice already sent", "subscription", s.ID, "trial_end", marker)
		return nil
	}

	metadata := maps.Clone(existing.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[trialNoticeKey] = marker
	patch := domain.SubscriptionPatch{Metadata: metadata, TrialEnd: trialEnd}
	if _, err := p.subscriptions.UpdateFields(ctx, existing.ID, patch); err != nil {
		return err
	}

	p.notify(ctx, existing.UserID, domain.NotifyTrialWillEnd, map[string]any{
		"plan":     string(existing.Plan),
		"trialEnd": marker,
	})
	return nil
}

func (p *Pipeline) handleSubscriptionDeleted(ctx context.Context, _ Event, s *subscriptionPayload) error {
	existing, err := p.subscriptions.FindByExternalID(ctx, s.ID)
	if err != nil {
		return err
	}

	if err := p.setEntitlement(ctx, existing.UserID, nil); err != nil {
		return err
	}

	canceled, free := domain.SubscriptionCanceled, domain.TierFree
	noRenewal := false
	patch := domain.SubscriptionPatch{Status: &canceled, Plan: &free, CancelAtPeriodEnd: &noRenewal}
	if _, err := p.subscriptions.UpdateFields(ctx, existing.ID, patch); err != nil {
		return err
	}

	if existing.Status != domain.SubscriptionCanceled {
		p.notify(ctx, existing.UserID, domain.NotifySubscriptionCanceled, map[string]any{
			"plan": string(existing.Plan),
		})
	}
	return nil
}
