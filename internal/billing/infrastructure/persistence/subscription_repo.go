package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
)

// SubscriptionRepository implements domain.SubscriptionRepository on the storage facade.
type SubscriptionRepository struct {
	store Collections
}

// NewSubscriptionRepository creates a new repository.
func NewSubscriptionRepository(store Collections) *SubscriptionRepository {
	return &SubscriptionRepository{store: store}
}

// FindByExternalID returns the subscription mirroring a provider subscription.
func (r *SubscriptionRepository) FindByExternalID(ctx context.Context, externalSubscriptionID string) (*domain.Subscription, error) {
	return findOne[domain.Subscription](ctx, r.store, CollectionSubscriptions,
		docstore.Record{"externalSubscriptionId": externalSubscriptionID}, "subscription", externalSubscriptionID)
}

// FindByID returns a subscription by internal id.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id string) (*domain.Subscription, error) {
	return findOne[domain.Subscription](ctx, r.store, CollectionSubscriptions,
		docstore.Record{docstore.IDField: id}, "subscription", id)
}

// FindByUserID returns all subscriptions of a user.
func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) ([]*domain.Subscription, error) {
	return findAll[domain.Subscription](ctx, r.store, CollectionSubscriptions, docstore.Record{"userId": userID})
}

// Create stores a new subscription. It assigns the id and timestamps.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	if sub.ExternalSubscriptionID == "" {
		return domain.Validation("subscription requires an external subscription id")
	}
	if _, err := r.FindByExternalID(ctx, sub.ExternalSubscriptionID); err == nil {
		return domain.Conflict("subscription %s already exists", sub.ExternalSubscriptionID)
	} else if !domain.IsNotFound(err) {
		return err
	}

	now := utcNow()
	sub.ID = uuid.NewString()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.Plan == "" || sub.Status == domain.SubscriptionCanceled {
		sub.Plan = domain.TierFree
	}
	if sub.BillingHistory == nil {
		sub.BillingHistory = []domain.BillingRecord{}
	}

	return insert(ctx, r.store, CollectionSubscriptions, sub)
}

// UpdateFields merges patch into the subscription. A subscription that ends
// up canceled is always moved to the free plan.
func (r *SubscriptionRepository) UpdateFields(ctx context.Context, id string, patch domain.SubscriptionPatch) (*domain.Subscription, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := current.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	plan := current.Plan
	if patch.Plan != nil {
		plan = *patch.Plan
	}
	if status == domain.SubscriptionCanceled && plan != domain.TierFree {
		free := domain.TierFree
		patch.Plan = &free
	}

	rec, err := docstore.Encode(patch)
	if err != nil {
		return nil, err
	}
	return updateByID[domain.Subscription](ctx, r.store, CollectionSubscriptions, "subscription", id, rec)
}
