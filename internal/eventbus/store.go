// Package eventbus publishes domain events to in-process subscribers with
// at-most-once delivery. Events are persisted to the event store before
// dispatch; a persistence failure is logged but never blocks the broadcast
// or the triggering operation.
package eventbus

import (
	"context"

	"github.com/oryxworks/flowcore/model"
)

// Store durably records published events for audit and replay.
type Store interface {
	// Append persists the event.
	Append(ctx context.Context, event model.DomainEvent) error

	// MarkProcessed records that a consumer handled the event. Best effort.
	MarkProcessed(ctx context.Context, eventID, consumer string) error

	// Events returns persisted events filtered by type and correlation ID
	// (either may be empty), newest first, capped at limit.
	Events(ctx context.Context, organizationID, eventType, correlationID string, limit int) ([]model.DomainEvent, error)

	// Event returns one persisted event by ID.
	Event(ctx context.Context, eventID string) (model.DomainEvent, error)
}
