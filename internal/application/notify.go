package application

import (
	"context"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/logging"
)

// publishEvents hands events to the publisher. Publication is best-effort
// relative to the stock change that already happened, so failures are only
// logged.
func publishEvents(ctx context.Context, publisher domain.EventPublisher, logger *logging.Logger, events ...domain.DomainEvent) {
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.PublishAll(ctx, events); err != nil {
		logger.WithContext(ctx).Warn("Failed to publish domain events", "count", len(events), "error", err)
	}
}
