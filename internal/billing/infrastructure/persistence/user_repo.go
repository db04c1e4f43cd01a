package persistence

import (
	"context"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
)

// UserRepository reads users and maintains their entitlement marker.
// Fields it does not know about are preserved on update.
type UserRepository struct {
	store Collections
}

// NewUserRepository creates a new repository.
func NewUserRepository(store Collections) *UserRepository {
	return &UserRepository{store: store}
}

// FindByID returns a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return findOne[domain.User](ctx, r.store, CollectionUsers,
		docstore.Record{docstore.IDField: id}, "user", id)
}

// UpdateFields merges patch into the user.
func (r *UserRepository) UpdateFields(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	rec, err := docstore.Encode(patch)
	if err != nil {
		return nil, err
	}
	if patch.ClearProExpiresAt {
		rec["proExpiresAt"] = nil
	}
	return updateByID[domain.User](ctx, r.store, CollectionUsers, "user", id, rec)
}
