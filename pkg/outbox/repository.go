package outbox

import (
	"context"
	"time"
)

// Repository defines outbox persistence
type Repository interface {
	// Save stores a single event
	Save(ctx context.Context, event *OutboxEvent) error

	// SaveAll stores events in one round trip
	SaveAll(ctx context.Context, events []*OutboxEvent) error

	// FindUnpublished returns the oldest undelivered events that still have retries left
	FindUnpublished(ctx context.Context, limit int) ([]*OutboxEvent, error)

	MarkPublished(ctx context.Context, eventID string) error

	// IncrementRetry bumps the retry count and records the delivery error
	IncrementRetry(ctx context.Context, eventID string, errorMsg string) error

	// DeletePublished removes events delivered before cutoff
	DeletePublished(ctx context.Context, cutoff time.Time) (int64, error)
}
