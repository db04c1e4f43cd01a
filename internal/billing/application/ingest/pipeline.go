package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/felixgeelhaar/billsync/internal/billing/domain"
	"github.com/felixgeelhaar/billsync/internal/billing/infrastructure/lock"
	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// Dependencies are the collaborators a Pipeline needs. Notifier, Locker,
// Logger and Metrics are optional.
type Dependencies struct {
	Subscriptions domain.SubscriptionRepository
	Invoices      domain.InvoiceRepository
	Payments      domain.PaymentRepository
	Users         domain.UserRepository
	Notifier      domain.Notifier
	Locker        lock.Locker
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// route decodes an event payload and returns the lock key and the bound handler.
type route func(ev Event) (key string, apply func(ctx context.Context) error, err error)

// on builds a route for payload type T.
func on[T any, PT interface {
	*T
	validate() error
	lockKey() string
}](handle func(ctx context.Context, ev Event, payload PT) error) route {
	return func(ev Event) (string, func(context.Context) error, error) {
		if len(ev.Payload) == 0 {
			return "", nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
		}
		payload := PT(new(T))
		if err := json.Unmarshal(ev.Payload, payload); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if err := payload.validate(); err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return payload.lockKey(), func(ctx context.Context) error {
			return handle(ctx, ev, payload)
		}, nil
	}
}

// Pipeline dispatches billing events to one handler per kind. Events that
// touch the same subscription or payment are applied one at a time.
type Pipeline struct {
	subscriptions domain.SubscriptionRepository
	invoices      domain.InvoiceRepository
	payments      domain.PaymentRepository
	users         domain.UserRepository
	notifier      domain.Notifier
	locker        lock.Locker
	logger        *slog.Logger
	metrics       *observability.Metrics

	routes map[string]route
}

// New creates a pipeline and checks that every required kind has a handler.
func New(deps Dependencies) (*Pipeline, error) {
	if deps.Subscriptions == nil || deps.Invoices == nil || deps.Payments == nil || deps.Users == nil {
		return nil, errors.New("ingest: subscription, invoice, payment and user repositories are required")
	}

	p := &Pipeline{
		subscriptions: deps.Subscriptions,
		invoices:      deps.Invoices,
		payments:      deps.Payments,
		users:         deps.Users,
		notifier:      deps.Notifier,
		locker:        deps.Locker,
		logger:        deps.Logger,
		metrics:       deps.Metrics,
	}
	if p.notifier == nil {
		p.notifier = discardNotifier{}
	}
	if p.locker == nil {
		p.locker = lock.NewKeyedMutex()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "ingest")

	p.routes = map[string]route{
		KindInvoiceCreated:           on(p.handleInvoiceCreated),
		KindInvoicePaymentSucceeded:  on(p.handleInvoicePaymentSucceeded),
		KindInvoicePaymentFailed:     on(p.handleInvoicePaymentFailed),
		KindSubscriptionCreated:      on(p.handleSubscriptionCreated),
		KindSubscriptionUpdated:      on(p.handleSubscriptionUpdated),
		KindSubscriptionTrialWillEnd: on(p.handleTrialWillEnd),
		KindSubscriptionDeleted:      on(p.handleSubscriptionDeleted),
		KindPaymentIntentSucceeded:   on(p.handlePaymentIntentSucceeded),
		KindPaymentIntentFailed:      on(p.handlePaymentIntentFailed),
		KindChargeRefunded:           on(p.handleChargeRefunded),
	}

	if err := validateRoutes(p.routes); err != nil {
		return nil, err
	}
	return p, nil
}

func validateRoutes(routes map[string]route) error {
	var missing []string
	for _, kind := range requiredKinds {
		if routes[kind] == nil {
			missing = append(missing, kind)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("ingest: no handler registered for %v", missing)
	}
	return nil
}

// Kinds returns the handled event kinds in sorted order.
func (p *Pipeline) Kinds() []string {
	kinds := make([]string, 0, len(p.routes))
	for kind := range p.routes {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Process applies one event. Unrecognized kinds and events whose target
// entity is unknown succeed without effect. Only malformed payloads and
// storage failures are returned; the caller is expected to redeliver.
func (p *Pipeline) Process(ctx context.Context, ev Event) error {
	start := time.Now()
	ctx = observability.WithEventID(ctx, ev.ID)
	if observability.CorrelationIDFromContext(ctx) == "" {
		ctx = observability.WithCorrelationID(ctx, "")
	}
	logger := p.logger.With(observability.EventTypeKey, ev.Type)

	kind := CanonicalKind(ev.Type)
	r, ok := p.routes[kind]
	if !ok {
		logger.InfoContext(ctx, "ignoring unrecognized event kind")
		p.metrics.RecordEvent(ev.Type, observability.OutcomeIgnored, time.Since(start))
		return nil
	}

	err := p.apply(ctx, r, ev)
	switch {
	case err == nil:
		p.metrics.RecordEvent(kind, observability.OutcomeSuccess, time.Since(start))
		logger.InfoContext(ctx, "event processed",
			observability.DurationKey, time.Since(start).Milliseconds(),
		)
		return nil
	case domain.IsNotFound(err):
		p.metrics.RecordEvent(kind, observability.OutcomeIgnored, time.Since(start))
		logger.InfoContext(ctx, "event target not found, skipping", observability.ErrorKey, err)
		return nil
	default:
		p.metrics.RecordEvent(kind, observability.OutcomeError, time.Since(start))
		logger.ErrorContext(ctx, "event processing failed",
			observability.DurationKey, time.Since(start).Milliseconds(),
			observability.ErrorKey, err,
		)
		return fmt.Errorf("process %s %s: %w", ev.Type, ev.ID, err)
	}
}

func (p *Pipeline) apply(ctx context.Context, r route, ev Event) error {
	key, handle, err := r(ev)
	if err != nil {
		return err
	}

	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer unlock()

	return handle(ctx)
}

// notify hands a message to the notifier. Errors are logged, never returned.
func (p *Pipeline) notify(ctx context.Context, userID string, kind domain.NotificationKind, data map[string]any) {
	if userID == "" {
		return
	}
	if err := p.notifier.SendTransactionalMessage(ctx, userID, kind, data); err != nil {
		p.logger.WarnContext(ctx, "notification failed",
			"user_id", userID,
			"kind", string(kind),
			observability.ErrorKey, err,
		)
	}
}

// setEntitlement moves the user's entitlement marker. A missing user is logged
// and skipped.
func (p *Pipeline) setEntitlement(ctx context.Context, userID string, until *time.Time) error {
	if userID == "" {
		return nil
	}
	patch := domain.UserPatch{ProExpiresAt: until, ClearProExpiresAt: until == nil}
	if _, err := p.users.UpdateFields(ctx, userID, patch); err != nil {
		if domain.IsNotFound(err) {
			p.logger.InfoContext(ctx, "user not found for entitlement update", "user_id", userID)
			return nil
		}
		return fmt.Errorf("update entitlement for user %s: %w", userID, err)
	}
	return nil
}

type discardNotifier struct{}

func (discardNotifier) SendTransactionalMessage(context.Context, string, domain.NotificationKind, map[string]any) error {
	return nil
}
