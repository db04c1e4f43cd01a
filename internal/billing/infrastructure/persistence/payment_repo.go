package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
)

// PaymentRepository implements domain.PaymentRepository on the storage facade.
type PaymentRepository struct {
	store Collections
}

// NewPaymentRepository creates a new repository.
func NewPaymentRepository(store Collections) *PaymentRepository {
	return &PaymentRepository{store: store}
}

// FindByPaymentIntentID returns the payment for a provider payment intent.
func (r *PaymentRepository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*domain.Payment, error) {
	return findOne[domain.Payment](ctx, r.store, CollectionPayments,
		docstore.Record{"externalPaymentIntentId": paymentIntentID}, "payment", paymentIntentID)
}

// FindByID returns a payment by internal id.
func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	return findOne[domain.Payment](ctx, r.store, CollectionPayments,
		docstore.Record{docstore.IDField: id}, "payment", id)
}

// FindByCustomerID returns all payments of a provider customer.
func (r *PaymentRepository) FindByCustomerID(ctx context.Context, customerID string) ([]*domain.Payment, error) {
	return findAll[domain.Payment](ctx, r.store, CollectionPayments, docstore.Record{"externalCustomerId": customerID})
}

// Create stores a new payment. It assigns the id and timestamps.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if p.ExternalPaymentIntentID == "" {
		return domain.Validation("payment requires an external payment intent id")
	}
	if _, err := r.FindByPaymentIntentID(ctx, p.ExternalPaymentIntentID); err == nil {
		return domain.Conflict("payment %s already exists", p.ExternalPaymentIntentID)
	} else if !domain.IsNotFound(err) {
		return err
	}

	now := utcNow()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = domain.PaymentPending
	}

	return insert(ctx, r.store, CollectionPayments, p)
}

// UpdateFields merges patch into the payment.
func (r *PaymentRepository) UpdateFields(ctx context.Context, id string, patch domain.PaymentPatch) (*domain.Payment, error) {
	rec, err := docstore.Encode(patch)
	if err != nil {
		return nil, err
	}
	return updateByID[domain.Payment](ctx, r.store, CollectionPayments, "payment", id, rec)
}
