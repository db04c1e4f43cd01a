package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/migrations"
)

func setupFacade(t *testing.T) (*docstore.Facade, *docstore.MemoryStore) {
	t.Helper()
	primary := docstore.NewMemoryStore("postgres")
	local := docstore.NewMemoryStore("sqlite")
	return docstore.NewFacade(primary, local, docstore.FacadeConfig{MirrorWrites: true}), primary
}

func TestSubscriptionRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	facade, _ := setupFacade(t)
	repo := NewSubscriptionRepository(facade)

	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	sub := &domain.Subscription{
		UserID:                 "user_1",
		Plan:                   domain.TierPro,
		Status:                 domain.SubscriptionActive,
		ExternalSubscriptionID: "sub_ext_1",
		ExternalCustomerID:     "cus_1",
		CurrentPeriodEnd:       end,
		Metadata:               map[string]string{"plan": "Pro Monthly"},
	}
	require.NoError(t, repo.Create(ctx, sub))
	assert.NotEmpty(t, sub.ID)
	assert.False(t, sub.CreatedAt.IsZero())

	found, err := repo.FindByExternalID(ctx, "sub_ext_1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, found.ID)
	assert.Equal(t, domain.TierPro, found.Plan)
	assert.True(t, end.Equal(found.CurrentPeriodEnd))
	assert.Equal(t, "Pro Monthly", found.Metadata["plan"])
	assert.NotNil(t, found.BillingHistory)

	byID, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_ext_1", byID.ExternalSubscriptionID)

	byUser, err := repo.FindByUserID(ctx, "user_1")
	require.NoError(t, err)
	assert.Len(t, byUser, 1)
}

func TestSubscriptionRepository_CreateRejectsDuplicateExternalID(t *testing.T) {
	ctx := context.Background()
	facade, _ := setupFacade(t)
	repo := NewSubscriptionRepository(facade)

	require.NoError(t, repo.Create(ctx, &domain.Subscription{ExternalSubscriptionID: "sub_ext_1", Plan: domain.TierBasic}))
	err := repo.Create(ctx, &domain.Subscription{ExternalSubscriptionID: "sub_ext_1", Plan: domain.TierBasic})
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestSubscriptionRepository_NotFound(t *testing.T) {
	facade, _ := setupFacade(t)
	repo := NewSubscriptionRepository(facade)

	_, err := repo.FindByExternalID(context.Background(), "sub_missing")
	assert.True(t, domain.IsNotFound(err))

	_, err = repo.UpdateFields(context.Background(), "missing", domain.SubscriptionPatch{})
	assert.True(t, domain.IsNotFound(err))
}

func TestSubscriptionRepository_UpdateFieldsMergesAndStamps(t *testing.T) {
	ctx := context.Background()
	facade, _ := setupFacade(t)
	repo := NewSubscriptionRepository(facade)

	sub := &domain.Subscription{
		UserID:                 "user_1",
		Plan:                   domain.TierPro,
		Status:                 domain.SubscriptionTrialing,
		ExternalSubscriptionID: "sub_ext_1",
		ExternalCustomerID:     "cus_1",
	}
	require.NoError(t, repo.Create(ctx, sub))

	time.Sleep(2 * time.Millisecond)
	status := domain.SubscriptionPastDue
	updated, err := repo.UpdateFields(ctx, sub.ID, domain.SubscriptionPatch{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionPastDue, updated.Status)
	assert.Equal(t, domain.TierPro, updated.Plan, "unset fields are kept")
	assert.Equal(t, "cus_1", updated.ExternalCustomerID)
	assert.True(t, updated.UpdatedAt.After(sub.CreatedAt))
	assert.True(t, sub.CreatedAt.Equal(updated.CreatedAt))
}

func TestSubscriptionRepository_CanceledIsAlwaysFree(t *testing.T) {
	ctx := context.Background()
	facade, _ := setupFacade(t)
	repo := NewSubscriptionRepository(facade)

	sub := &domain.Subscription{Plan: domain.TierEnterprise, Status: domain.SubscriptionActive, ExternalSubscriptionID: "sub_ext_1"}
	require.NoError(t, repo.Create(ctx, sub))

	canceled := domain.SubscriptionCanceled
	updated, err := repo.UpdateFields(ctx, sub.ID, domain.SubscriptionPatch{Status: &canceled})
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, updated.Plan)

	pro := domain.TierPro
	updated, err = repo.UpdateFields(ctx, sub.ID, domain.SubscriptionPatch{Plan: &pro})
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, updated.Plan)
}

func TestInvoiceRepository_Invariants(t *testing.T) {
	ctx := context.Background()
	facade, _ := setupFacade(t)
	repo := NewInvoiceRepository(facade)

	inv := &domain.Invoice{SubscriptionID: "sub_1", ExternalInvoiceID: "in_1", Amount: 1500, Currency: "usd", AttemptCount: 1}
	require.NoError(t, repo.Create(ctx, inv))
	assert.Equal(t, domain.InvoiceOpen, inv.Status)

	err := repo.Create(ctx, &domain.Invoice{ExternalInvoiceID: "in_1"})
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	zero := 0
	_, err = repo.UpdateFields(ctx, inv.ID, domain.InvoicePatch{AttemptCount: &zero})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	paid := domain.InvoicePaid
	updated, err := repo.UpdateFields(ctx, inv.ID, domain.InvoicePatch{Status: &paid})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, updated.Status)
	assert.Equal(t, int64(1500), updated.Amount)

	open := domain.InvoiceOpen
	_, err = repo.UpdateFields(ctx, inv.ID, domain.InvoicePatch{Status: &open})
	assert.True(t, domain.IsKind(err, domain.KindValidation))

	list, err := repo.ListBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.InvoicePaid, list[0].Status)
}

func TestPaymentRepository_CreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	facade, _ := setupFacade(t)
	repo := NewPaymentRepository(facade)

	p := &domain.Payment{UserID: "user_1", ExternalCustomerID: "cus_1", ExternalPaymentIntentID: "pi_1", Amount: 4900, Currency: "usd"}
	require.NoError(t, repo.Create(ctx, p))
	assert.Equal(t, domain.PaymentPending, p.Status)

	succeeded := domain.PaymentSucceeded
	updated, err := repo.UpdateFields(ctx, p.ID, domain.PaymentPatch{Status: &succeeded})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSucceeded, updated.Status)

	found, err := repo.FindByPaymentIntentID(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	byCustomer, err := repo.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Len(t, byCustomer, 1)
}

func TestUserRepository_EntitlementMarker(t *testing.T) {
	ctx := context.Background()
	facade, primary := setupFacade(t)
	primary.Seed(CollectionUsers, []docstore.Record{
		{"id": "user_1", "email": "ada@example.com", "name": "Ada", "role": "admin"},
	})
	repo := NewUserRepository(facade)

	until := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	user, err := repo.UpdateFields(ctx, "user_1", domain.UserPatch{ProExpiresAt: &until})
	require.NoError(t, err)
	require.NotNil(t, user.ProExpiresAt)
	assert.True(t, until.Equal(*user.ProExpiresAt))

	user, err = repo.UpdateFields(ctx, "user_1", domain.UserPatch{ClearProExpiresAt: true})
	require.NoError(t, err)
	assert.Nil(t, user.ProExpiresAt)

	stored := primary.Snapshot(CollectionUsers)[0]
	assert.Equal(t, "admin", stored["role"], "unknown fields survive updates")
	assert.Equal(t, "ada@example.com", user.Email)
}

func TestRepositories_OnSQLiteLocalStore(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "billsync.db"))
	require.NoError(t, err)
	require.NoError(t, migrations.RunSQLiteMigrations(ctx, db))

	facade := docstore.NewFacade(nil, docstore.NewSQLiteStore(db), docstore.FacadeConfig{})
	defer facade.Close()

	subs := NewSubscriptionRepository(facade)
	invoices := NewInvoiceRepository(facade)

	sub := &domain.Subscription{Plan: domain.TierBasic, Status: domain.SubscriptionActive, ExternalSubscriptionID: "sub_ext_1"}
	require.NoError(t, subs.Create(ctx, sub))
	require.NoError(t, invoices.Create(ctx, &domain.Invoice{SubscriptionID: sub.ID, ExternalInvoiceID: "in_1", Amount: 900}))

	count := 3
	inv, err := invoices.FindByExternalID(ctx, "in_1")
	require.NoError(t, err)
	updated, err := invoices.UpdateFields(ctx, inv.ID, domain.InvoicePatch{AttemptCount: &count})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.AttemptCount)
	assert.Equal(t, "sqlite", facade.Status().DBType)
	assert.True(t, facade.Status().Initialized())
}
