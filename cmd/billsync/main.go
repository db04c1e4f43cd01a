package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/billsync/adapter/cli"
	"github.com/felixgeelhaar/billsync/adapter/cli/events"
	"github.com/felixgeelhaar/billsync/adapter/cli/subscription"
	"github.com/felixgeelhaar/billsync/internal/app"
	"github.com/felixgeelhaar/billsync/pkg/config"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

func main() {
	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cli.SetLogger(observability.LoggerFor("development", "warn", ""))

	// The container is built after flag parsing so --env-file and -v apply.
	cli.SetBootstrap(func(cmdCtx context.Context) (*cli.App, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}

		level := cfg.LogLevel
		if cli.Verbose() {
			level = "debug"
		} else if !cfg.IsProduction() {
			level = "warn"
		}
		logger := observability.LoggerFor(cfg.AppEnv, level, cfg.LogFormat)
		cli.SetLogger(logger)

		container, err := app.NewContainer(cmdCtx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}

		cliApp := &cli.App{
			Storage:        container.Storage,
			Processor:      container.Pipeline,
			Publisher:      container.EventPublisher,
			BillingService: container.BillingService,
		}
		return cliApp, container.Close, nil
	})

	// Register commands
	cli.AddCommand(events.Cmd)
	cli.AddCommand(subscription.Cmd)

	// Execute CLI
	cli.Root().SetContext(ctx)
	cli.Execute()
}
