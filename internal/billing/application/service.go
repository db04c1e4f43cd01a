package application

import (
	"context"
	"time"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

// SubscriptionView is a subscription together with its invoices.
type SubscriptionView struct {
	Subscription *domain.Subscription `json:"subscription"`
	Invoices     []*domain.Invoice    `json:"invoices"`
}

// Service answers billing state queries.
type Service struct {
	subscriptions domain.SubscriptionRepository
	invoices      domain.InvoiceRepository
	users         domain.UserRepository
	now           func() time.Time
}

// NewService creates a new billing query service.
func NewService(subscriptions domain.SubscriptionRepository, invoices domain.InvoiceRepository, users domain.UserRepository) *Service {
	return &Service{
		subscriptions: subscriptions,
		invoices:      invoices,
		users:         users,
		now:           time.Now,
	}
}

// GetSubscription returns the subscription mirroring a provider subscription,
// with its invoices.
func (s *Service) GetSubscription(ctx context.Context, externalSubscriptionID string) (*SubscriptionView, error) {
	if externalSubscriptionID == "" {
		return nil, domain.Validation("external subscription id is required")
	}
	sub, err := s.subscriptions.FindByExternalID(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoices.ListBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return &SubscriptionView{Subscription: sub, Invoices: invoices}, nil
}

// ListSubscriptions returns all subscriptions of the user.
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	if userID == "" {
		return nil, domain.Validation("user id is required")
	}
	return s.subscriptions.FindByUserID(ctx, userID)
}

// HasEntitlement reports whether the user's paid access is still running.
func (s *Service) HasEntitlement(ctx context.Context, userID string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.ProExpiresAt == nil {
		return false, nil
	}
	return user.ProExpiresAt.After(s.now()), nil
}
