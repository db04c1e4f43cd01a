package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/billsync/internal/shared/infrastructure/eventbus"
)

// Consumer feeds bus events into a Pipeline.
type Consumer struct {
	pipeline *Pipeline
}

// NewConsumer creates a bus consumer for p.
func NewConsumer(p *Pipeline) *Consumer {
	return &Consumer{pipeline: p}
}

// EventTypes returns every handled kind together with its provider aliases.
func (c *Consumer) EventTypes() []string {
	types := c.pipeline.Kinds()
	for alias := range kindAliases {
		types = append(types, alias)
	}
	sort.Strings(types)
	return types
}

// Handle applies the event. A malformed payload is reported as undeliverable
// since redelivering it cannot succeed; any other failure is returned as is.
func (c *Consumer) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	err := c.pipeline.Process(ctx, Event{ID: event.ID, Type: event.Type, Payload: event.Payload})
	if errors.Is(err, ErrMalformedPayload) {
		return fmt.Errorf("%w: %w", eventbus.ErrUndeliverable, err)
	}
	return err
}
