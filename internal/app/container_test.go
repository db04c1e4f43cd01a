package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/billsync/internal/billing/infrastructure/lock"
	billingPersistence "github.com/felixgeelhaar/billsync/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/billsync/pkg/config"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:            "test",
		LocalStoreDir:     t.TempDir(),
		LocalMirrorWrites: true,
		LockBackend:       config.LockBackendMemory,
		PrimaryTimeout:    time.Second,
		NotifyTimeout:     time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewContainer_LocalMode(t *testing.T) {
	ctx := context.Background()

	c, err := NewContainer(ctx, localConfig(t), testLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.DB)
	assert.NotNil(t, c.LocalDB)
	assert.Nil(t, c.RedisClient)
	assert.IsType(t, &eventbus.InProcessEventBus{}, c.EventPublisher)
	assert.IsType(t, &lock.KeyedMutex{}, c.Locker)

	status := c.Storage.Status()
	assert.Equal(t, "sqlite", status.DBType)
	assert.Equal(t, docstore.StateCompleted, status.State)
	assert.True(t, status.Initialized())

	results := c.Health.Check(ctx)
	require.Contains(t, results, "storage")
	assert.Equal(t, observability.HealthStatusHealthy, results["storage"].Status)

	assert.NotEmpty(t, c.Pipeline.Kinds())
	assert.NotNil(t, c.BillingService)
}

func TestNewContainer_StatePersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig(t)

	c, err := NewContainer(ctx, cfg, testLogger())
	require.NoError(t, err)

	require.NoError(t, c.Storage.InsertOne(ctx, billingPersistence.CollectionUsers, docstore.Record{
		"id":    "user_1",
		"email": "ada@example.com",
		"name":  "Ada",
	}))

	start := time.Now().UTC().Truncate(time.Second)
	payload, err := json.Marshal(map[string]any{
		"id":                   "sub_ext_1",
		"customer":             "cus_1",
		"status":               "active",
		"current_period_start": start.Unix(),
		"current_period_end":   start.AddDate(0, 1, 0).Unix(),
		"metadata": map[string]string{
			"userId": "user_1",
			"plan":   "Pro Monthly",
		},
	})
	require.NoError(t, err)

	// Without a broker, published events are applied in-process.
	err = eventbus.PublishEvent(ctx, c.EventPublisher, &eventbus.ConsumedEvent{
		ID:      "evt_1",
		Type:    "customer.subscription.created",
		Payload: payload,
	})
	require.NoError(t, err)
	c.Close()

	reopened, err := NewContainer(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	view, err := reopened.BillingService.GetSubscription(ctx, "sub_ext_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", view.Subscription.UserID)

	entitled, err := reopened.BillingService.HasEntitlement(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, entitled)
}

func TestNewContainer_RejectsUnreachableRedis(t *testing.T) {
	cfg := localConfig(t)
	cfg.LockBackend = config.LockBackendRedis
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewContainer(ctx, cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Redis")
}
