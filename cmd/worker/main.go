package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/billsync/adapter/api"
	"github.com/felixgeelhaar/billsync/adapter/webhook"
	"github.com/felixgeelhaar/billsync/internal/app"
	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/billsync/pkg/config"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger := observability.LoggerFor(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	if cfg.IsDevelopment() {
		logger = observability.LoggerFor(cfg.AppEnv, "debug", cfg.LogFormat)
	}
	slog.SetDefault(logger)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	logger.Info("starting billsync worker")

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		return err
	}
	defer container.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RabbitMQURL != "" {
		registry := eventbus.NewConsumerRegistry(logger)
		consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			URL:       cfg.RabbitMQURL,
			QueueName: cfg.EventsQueue,
			Logger:    logger,
			Metrics:   container.Metrics,
		}, registry)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			return err
		}
		defer consumer.Close()

		consumer.RegisterConsumer(ingest.NewConsumer(container.Pipeline))
		g.Go(func() error {
			return consumer.Start(gctx)
		})
		logger.Info("event consumer started", "queue", cfg.EventsQueue)
	} else {
		logger.Info("RABBITMQ_URL not set, accepting webhook deliveries only")
	}

	if cfg.WorkerHTTPAddr != "" {
		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = cfg.WorkerHTTPAddr
		server := api.NewServer(serverCfg, api.Dependencies{
			Webhook:       webhook.NewReceiver(cfg.StripeWebhookSecret, container.Pipeline, logger),
			StorageStatus: container.Storage.Status,
			Health:        container.Health,
			Gatherer:      container.Registry,
		}, logger)

		g.Go(func() error {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		logger.Info("http server listening", "addr", cfg.WorkerHTTPAddr)
	}

	g.Go(func() error {
		probeStorage(gctx, container.Storage, cfg.StorageProbeEvery, logger)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
		return err
	}

	logger.Info("worker stopped")
	return nil
}

// probeStorage pings the primary on a fixed interval so reads move back to it
// once it recovers and writes made during an outage reach it.
func probeStorage(ctx context.Context, storage *docstore.Facade, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := storage.Status().State
			backlog := len(storage.Unreplicated())
			err := storage.Probe(ctx)
			after := storage.Status().State
			if before != after {
				logger.Info("storage state changed", "from", string(before), "to", string(after))
			} else if err != nil {
				logger.Debug("storage probe failed", "error", err)
			}
			if backlog > 0 && len(storage.Unreplicated()) == 0 {
				logger.Info("outage writes replicated to primary", "collections", backlog)
			}
		}
	}
}
