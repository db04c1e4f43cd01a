package observability

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	correlationIDCtxKey contextKey = "correlation_id"
	eventIDCtxKey       contextKey = "event_id"
)

// Standard attribute keys used in logs.
const (
	CorrelationIDKey = "correlation_id"
	EventIDKey       = "event_id"
	EventTypeKey     = "event_type"
	OperationKey     = "operation"
	CollectionKey    = "collection"
	DurationKey      = "duration_ms"
	ErrorKey         = "error"
)

// WithCorrelationID adds a correlation ID to the context.
// If id is empty, a new UUID is generated.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, correlationIDCtxKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDCtxKey).(string)
	return id
}

// WithEventID tags the context with the billing event being processed.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventIDCtxKey, id)
}

// EventIDFromContext extracts the billing event ID from context.
func EventIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(eventIDCtxKey).(string)
	return id
}
