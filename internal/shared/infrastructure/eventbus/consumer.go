package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUndeliverable marks a failure that redelivery cannot fix, such as a
// payload that does not decode. Consumers wrap it; brokers then settle the
// delivery instead of requeueing it.
var ErrUndeliverable = errors.New("undeliverable event")

// EventConsumer handles specific event types.
type EventConsumer interface {
	// EventTypes returns the routing keys this consumer handles,
	// e.g. ["invoice.payment_failed", "subscription.created"].
	EventTypes() []string

	// Handle processes the event.
	Handle(ctx context.Context, event *ConsumedEvent) error
}

// ConsumedEvent is a billing event as carried on the message bus. Type
// doubles as the routing key.
type ConsumedEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at,omitzero"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   EventMetadata   `json:"metadata,omitzero"`
}

// EventMetadata contains optional metadata about the event.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// Consumer defines the interface for consuming events from a message broker.
type Consumer interface {
	// Start begins consuming messages. This is a blocking call.
	Start(ctx context.Context) error

	// RegisterConsumer registers an event consumer.
	RegisterConsumer(consumer EventConsumer)

	// Close closes the consumer connection.
	Close() error
}

// Publisher defines the interface for publishing events to a message broker.
type Publisher interface {
	// Publish sends a message to the event bus.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}

// PublishEvent encodes event and publishes it under its type.
func PublishEvent(ctx context.Context, pub Publisher, event *ConsumedEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, event.Type, payload)
}
