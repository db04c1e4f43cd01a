package cli

import (
	"context"

	billingApp "github.com/felixgeelhaar/billsync/internal/billing/application"
	"github.com/felixgeelhaar/billsync/internal/billing/application/ingest"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/docstore"
	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/eventbus"
)

// StatusReporter exposes the storage status surface.
type StatusReporter interface {
	Status() docstore.Status
}

// EventProcessor applies one billing event.
type EventProcessor interface {
	Process(ctx context.Context, ev ingest.Event) error
}

// App holds the CLI application dependencies.
type App struct {
	Storage        StatusReporter
	Processor      EventProcessor
	Publisher      eventbus.Publisher
	BillingService *billingApp.Service
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
