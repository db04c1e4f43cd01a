package persistence

import (
	"context"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
)

// InvoiceRepository implements domain.InvoiceRepository on the storage facade.
type InvoiceRepository struct {
	store Collections
}

// NewInvoiceRepository creates a new repository.
func NewInvoiceRepository(store Collections) *InvoiceRepository {
	return &InvoiceRepository{store: store}
}

// FindByExternalID returns the invoice mirroring a provider invoice.
func (r *InvoiceRepository) FindByExternalID(ctx context.Context, externalInvoiceID string) (*domain.Invoice, error) {
	return findOne[domain.Invoice](ctx, r.store, CollectionInvoices,
		docstore.Record{"externalInvoiceId": externalInvoiceID}, "invoice", externalInvoiceID)
}

// FindByID returns an invoice by internal id.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*domain.Invoice, error) {
	return findOne[domain.Invoice](ctx, r.store, CollectionInvoices,
		docstore.Record{docstore.IDField: id}, "invoice", id)
}

// ListBySubscription returns a subscription's invoices in creation order.
func (r *InvoiceRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*domain.Invoice, error) {
	return findAll[domain.Invoice](ctx, r.store, CollectionInvoices, docstore.Record{"subscriptionId": subscriptionID})
}

// Create stores a new invoice. It assigns the id and timestamps.
func (r *InvoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	if inv.ExternalInvoiceID == "" {
		return domain.Validation("invoice requires an external invoice id")
	}
	if inv.AttemptCount < 0 {
		return domain.Validation("invoice %s has a negative attempt count", inv.ExternalInvoiceID)
	}
	if _, err := r.FindByExternalID(ctx, inv.ExternalInvoiceID); err == nil {
		return domain.Conflict("invoice %s already exists", inv.ExternalInvoiceID)
	} else if !domain.IsNotFound(err) {
		return err
	}

	now := utcNow()
	inv.ID = uuid.NewString()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.Status == "" {
		inv.Status = domain.InvoiceOpen
	}
	if inv.LineItems == nil {
		inv.LineItems = []domain.LineItem{}
	}

	return insert(ctx, r.store, CollectionInvoices, inv)
}

// UpdateFields merges patch into the invoice. A paid invoice cannot reopen
// and the attempt count never decreases.
func (r *InvoiceRepository) UpdateFields(ctx context.Context, id string, patch domain.InvoicePatch) (*domain.Invoice, error) {
	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && current.Status == domain.InvoicePaid && *patch.Status != domain.InvoicePaid {
		return nil, domain.Validation("invoice %s is paid and cannot move to %s", current.ExternalInvoiceID, *patch.Status)
	}
	if patch.AttemptCount != nil && *patch.AttemptCount < current.AttemptCount {
		return nil, domain.Validation("invoice %s attempt count cannot decrease from %d to %d",
			current.ExternalInvoiceID, current.AttemptCount, *patch.AttemptCount)
	}

	rec, err := docstore.Encode(patch)
	if err != nil {
		return nil, err
	}
	return updateByID[domain.Invoice](ctx, r.store, CollectionInvoices, "invoice", id, rec)
}
