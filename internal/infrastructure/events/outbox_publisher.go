package events

import (
	"context"
	"fmt"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/cloudevents"
	"github.com/tilestock/stock-service/pkg/kafka"
	"github.com/tilestock/stock-service/pkg/outbox"
)

// OutboxPublisher implements domain.EventPublisher by writing CloudEvents to
// the outbox. The outbox publisher delivers them to Kafka.
type OutboxPublisher struct {
	repo    outbox.Repository
	factory *cloudevents.EventFactory
}

// NewOutboxPublisher creates a new OutboxPublisher
func NewOutboxPublisher(repo outbox.Repository, factory *cloudevents.EventFactory) *OutboxPublisher {
	return &OutboxPublisher{repo: repo, factory: factory}
}

// Publish stores a single event in the outbox
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	entry, err := p.toOutbox(ctx, event)
	if err != nil {
		return err
	}
	return p.repo.Save(ctx, entry)
}

// PublishAll stores events in the outbox in one write
func (p *OutboxPublisher) PublishAll(ctx context.Context, events []domain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	entries := make([]*outbox.OutboxEvent, 0, len(events))
	for _, event := range events {
		entry, err := p.toOutbox(ctx, event)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}
	return p.repo.SaveAll(ctx, entries)
}

func (p *OutboxPublisher) toOutbox(ctx context.Context, event domain.DomainEvent) (*outbox.OutboxEvent, error) {
	var (
		aggregateID   string
		aggregateType string
		topic         string
		shopID        string
		userID        string
	)

	switch e := event.(type) {
	case *domain.StockUpdatedEvent:
		aggregateID, aggregateType, topic = e.TileID, "tile", kafka.Topics.StockEvents
		shopID, userID = e.ShopID, e.UserID
	case *domain.SaleEvent:
		aggregateID, aggregateType, topic = e.SaleID, "sale", kafka.Topics.SaleEvents
		shopID, userID = e.ShopID, e.UserID
	default:
		return nil, fmt.Errorf("unsupported event type %T", event)
	}

	ce := p.factory.CreateShopEvent(ctx, event.EventType(), aggregateType+"/"+aggregateID, shopID, userID, event)
	ce.Time = event.OccurredAt()

	entry, err := outbox.NewOutboxEvent(aggregateID, aggregateType, topic, ce)
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox event: %w", err)
	}
	return entry, nil
}
