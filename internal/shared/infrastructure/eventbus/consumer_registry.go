package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/felixgeelhaar/billsync/pkg/observability"
)

// ConsumerRegistry routes events to the consumers registered for their type.
type ConsumerRegistry struct {
	mu     sync.RWMutex
	routes map[string][]EventConsumer
	logger *slog.Logger
}

// NewConsumerRegistry creates an empty registry.
func NewConsumerRegistry(logger *slog.Logger) *ConsumerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerRegistry{
		routes: make(map[string][]EventConsumer),
		logger: logger,
	}
}

// Register routes each of the consumer's event types to it.
func (r *ConsumerRegistry) Register(consumer EventConsumer) {
	types := consumer.EventTypes()

	r.mu.Lock()
	for _, eventType := range types {
		r.routes[eventType] = append(r.routes[eventType], consumer)
	}
	r.mu.Unlock()

	r.logger.Debug("registered event consumer", "event_types", len(types))
}

// Consumers returns the consumers routed for eventType.
func (r *ConsumerRegistry) Consumers(eventType string) []EventConsumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes[eventType])
}

// EventTypes returns the routed event types in order.
func (r *ConsumerRegistry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.routes))
}

// Len returns the number of routes, counting a consumer once per event type.
func (r *ConsumerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, consumers := range r.routes {
		n += len(consumers)
	}
	return n
}

// Dispatch hands event to every routed consumer and returns how the delivery
// should be settled along with the joined failures. Every consumer runs even
// when one fails. A delivery is dropped only when every failure wraps
// ErrUndeliverable; any other failure asks for redelivery.
func (r *ConsumerRegistry) Dispatch(ctx context.Context, event *ConsumedEvent) (string, error) {
	consumers := r.Consumers(event.Type)
	if len(consumers) == 0 {
		r.logger.DebugContext(ctx, "no consumer for event type", observability.EventTypeKey, event.Type)
		return observability.DeliveryAcked, nil
	}

	var (
		errs      []error
		retryable bool
	)
	for _, consumer := range consumers {
		err := consumer.Handle(ctx, event)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		if !errors.Is(err, ErrUndeliverable) {
			retryable = true
		}
	}

	switch {
	case len(errs) == 0:
		return observability.DeliveryAcked, nil
	case retryable:
		return observability.DeliveryRequeued, errors.Join(errs...)
	default:
		return observability.DeliveryDropped, errors.Join(errs...)
	}
}
