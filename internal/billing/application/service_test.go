package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
)

type fakeSubscriptionRepo struct {
	byExternalID map[string]*domain.Subscription
}

func (f fakeSubscriptionRepo) FindByExternalID(_ context.Context, id string) (*domain.Subscription, error) {
	if sub, ok := f.byExternalID[id]; ok {
		return sub, nil
	}
	return nil, domain.NotFound("subscription", id)
}

func (f fakeSubscriptionRepo) FindByID(_ context.Context, id string) (*domain.Subscription, error) {
	for _, sub := range f.byExternalID {
		if sub.ID == id {
			return sub, nil
		}
	}
	return nil, domain.NotFound("subscription", id)
}

func (f fakeSubscriptionRepo) FindByUserID(_ context.Context, userID string) ([]*domain.Subscription, error) {
	out := []*domain.Subscription{}
	for _, sub := range f.byExternalID {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f fakeSubscriptionRepo) Create(context.Context, *domain.Subscription) error {
	return nil
}

func (f fakeSubscriptionRepo) UpdateFields(context.Context, string, domain.SubscriptionPatch) (*domain.Subscription, error) {
	return nil, nil
}

type fakeInvoiceRepo struct {
	bySubscription map[string][]*domain.Invoice
}

func (f fakeInvoiceRepo) FindByExternalID(_ context.Context, id string) (*domain.Invoice, error) {
	return nil, domain.NotFound("invoice", id)
}

func (f fakeInvoiceRepo) FindByID(_ context.Context, id string) (*domain.Invoice, error) {
	return nil, domain.NotFound("invoice", id)
}

func (f fakeInvoiceRepo) ListBySubscription(_ context.Context, subscriptionID string) ([]*domain.Invoice, error) {
	return f.bySubscription[subscriptionID], nil
}

func (f fakeInvoiceRepo) Create(context.Context, *domain.Invoice) error {
	return nil
}

func (f fakeInvoiceRepo) UpdateFields(context.Context, string, domain.InvoicePatch) (*domain.Invoice, error) {
	return nil, nil
}

type fakeUserRepo map[string]*domain.User

func (f fakeUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, domain.NotFound("user", id)
}

func (f fakeUserRepo) UpdateFields(context.Context, string, domain.UserPatch) (*domain.User, error) {
	return nil, nil
}

func newTestService() *Service {
	subs := fakeSubscriptionRepo{byExternalID: map[string]*domain.Subscription{
		"sub_ext_1": {ID: "sub_1", UserID: "user_1", ExternalSubscriptionID: "sub_ext_1", Plan: domain.TierPro},
	}}
	invoices := fakeInvoiceRepo{bySubscription: map[string][]*domain.Invoice{
		"sub_1": {{ID: "inv_1", SubscriptionID: "sub_1", ExternalInvoiceID: "in_1"}},
	}}
	until := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	users := fakeUserRepo{
		"user_1": {ID: "user_1", ProExpiresAt: &until},
		"user_2": {ID: "user_2"},
	}

	svc := NewService(subs, invoices, users)
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestGetSubscription_IncludesInvoices(t *testing.T) {
	svc := newTestService()

	view, err := svc.GetSubscription(context.Background(), "sub_ext_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", view.Subscription.ID)
	require.Len(t, view.Invoices, 1)
	assert.Equal(t, "in_1", view.Invoices[0].ExternalInvoiceID)
}

func TestGetSubscription_Errors(t *testing.T) {
	svc := newTestService()

	_, err := svc.GetSubscription(context.Background(), "")
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	_, err = svc.GetSubscription(context.Background(), "sub_missing")
	assert.True(t, domain.IsNotFound(err))
}

func TestListSubscriptions(t *testing.T) {
	svc := newTestService()

	subs, err := svc.ListSubscriptions(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	subs, err = svc.ListSubscriptions(context.Background(), "user_2")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestHasEntitlement(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	ok, err := svc.HasEntitlement(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasEntitlement(ctx, "user_2")
	require.NoError(t, err)
	assert.False(t, ok)

	svc.now = func() time.Time { return time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC) }
	ok, err = svc.HasEntitlement(ctx, "user_1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.HasEntitlement(ctx, "user_missing")
	assert.True(t, domain.IsNotFound(err))
}
