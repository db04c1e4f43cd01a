package subscription

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/adapter/cli"
	"github.com/felixgeelhaar/billsync/internal/billing/application"
	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
)

func setupApp(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	facade := docstore.NewFacade(nil, docstore.NewMemoryStore("sqlite"), docstore.FacadeConfig{})
	subs := persistence.NewSubscriptionRepository(facade)
	invoices := persistence.NewInvoiceRepository(facade)

	sub := &domain.Subscription{
		UserID:                 "user_1",
		Plan:                   domain.TierPro,
		Status:                 domain.SubscriptionPastDue,
		ExternalSubscriptionID: "sub_ext_1",
	}
	require.NoError(t, subs.Create(ctx, sub))
	require.NoError(t, invoices.Create(ctx, &domain.Invoice{
		SubscriptionID:    sub.ID,
		UserID:            "user_1",
		ExternalInvoiceID: "in_1",
		Amount:            1500,
		Currency:          "usd",
		AttemptCount:      2,
	}))

	svc := application.NewService(subs, invoices, persistence.NewUserRepository(facade))
	cli.SetApp(&cli.App{BillingService: svc})
	t.Cleanup(func() { cli.SetApp(nil) })
}

func TestShowCmd(t *testing.T) {
	setupApp(t)
	showExternalID = "sub_ext_1"
	showJSON = false

	var output strings.Builder
	showCmd.SetContext(context.Background())
	showCmd.SetOut(&output)

	require.NoError(t, showCmd.RunE(showCmd, nil))
	assert.Contains(t, output.String(), "Plan:         pro (past_due)")
	assert.Contains(t, output.String(), "in_1")
	assert.Contains(t, output.String(), "attempts=2")
}

func TestShowCmd_JSON(t *testing.T) {
	setupApp(t)
	showExternalID = "sub_ext_1"
	showJSON = true
	defer func() { showJSON = false }()

	var output strings.Builder
	showCmd.SetContext(context.Background())
	showCmd.SetOut(&output)

	require.NoError(t, showCmd.RunE(showCmd, nil))
	var view application.SubscriptionView
	require.NoError(t, json.Unmarshal([]byte(output.String()), &view))
	assert.Equal(t, "sub_ext_1", view.Subscription.ExternalSubscriptionID)
	assert.Len(t, view.Invoices, 1)
}

func TestShowCmd_NotFound(t *testing.T) {
	setupApp(t)
	showExternalID = "sub_missing"

	showCmd.SetContext(context.Background())
	err := showCmd.RunE(showCmd, nil)
	assert.True(t, domain.IsNotFound(err))
}
