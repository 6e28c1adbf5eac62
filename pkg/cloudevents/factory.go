package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// EventFactory creates CloudEvents for a single source
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent creates an event and stamps the current trace context onto it
func (f *EventFactory) CreateEvent(ctx context.Context, eventType, subject string, data interface{}) *StockCloudEvent {
	event := &StockCloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	event.TraceParent = carrier.Get("traceparent")
	event.TraceState = carrier.Get("tracestate")

	return event
}

// CreateShopEvent creates an event scoped to a shop and the user who caused it
func (f *EventFactory) CreateShopEvent(ctx context.Context, eventType, subject, shopID, userID string, data interface{}) *StockCloudEvent {
	event := f.CreateEvent(ctx, eventType, subject, data)
	event.ShopID = shopID
	event.UserID = userID
	return event
}
