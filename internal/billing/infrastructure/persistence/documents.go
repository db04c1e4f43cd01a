package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
)

// Collection names.
const (
	CollectionSubscriptions = "subscriptions"
	CollectionInvoices      = "invoices"
	CollectionPayments      = "payments"
	CollectionUsers         = "users"
)

// Collections is the storage contract the repositories are built on.
// *docstore.Facade implements it.
type Collections interface {
	Read(ctx context.Context, collection string) ([]docstore.Record, error)
	InsertOne(ctx context.Context, collection string, record docstore.Record) error
	UpdateOne(ctx context.Context, collection string, filter, patch docstore.Record) (bool, error)
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func findAll[T any](ctx context.Context, store Collections, collection string, filter docstore.Record) ([]*T, error) {
	records, err := store.Read(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}

	out := []*T{}
	for _, rec := range records {
		if !rec.Matches(filter) {
			continue
		}
		var v T
		if err := docstore.Decode(rec, &v); err != nil {
			return nil, domain.Internal(fmt.Sprintf("corrupt %s record %s", collection, rec.ID()), err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// findOne returns the first record matching filter, or a not-found error
// naming entity and key.
func findOne[T any](ctx context.Context, store Collections, collection string, filter docstore.Record, entity, key string) (*T, error) {
	all, err := findAll[T](ctx, store, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, domain.NotFound(entity, key)
	}
	return all[0], nil
}

func insert(ctx context.Context, store Collections, collection string, v any) error {
	rec, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	if err := store.InsertOne(ctx, collection, rec); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

// updateByID merges patch into the record with id, stamps updatedAt and
// returns the stored result.
func updateByID[T any](ctx context.Context, store Collections, collection, entity, id string, patch docstore.Record) (*T, error) {
	patch["updatedAt"] = utcNow()

	ok, err := store.UpdateOne(ctx, collection, docstore.Record{docstore.IDField: id}, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", entity, id, err)
	}
	if !ok {
		return nil, domain.NotFound(entity, id)
	}
	return findOne[T](ctx, store, collection, docstore.Record{docstore.IDField: id}, entity, id)
}
