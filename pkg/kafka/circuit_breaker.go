package kafka

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tilestock/stock-service/pkg/cloudevents"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
	"github.com/tilestock/stock-service/pkg/resilience"
)

const producerBreakerName = "kafka-producer"

// CircuitBreakerProducer wraps a Publisher with circuit breaker protection
type CircuitBreakerProducer struct {
	producer       Publisher
	circuitBreaker *resilience.CircuitBreaker
}

// NewCircuitBreakerProducer creates a circuit breaker protected producer.
// m may be nil.
func NewCircuitBreakerProducer(producer Publisher, logger *logging.Logger, m *metrics.Metrics) *CircuitBreakerProducer {
	config := &resilience.CircuitBreakerConfig{
		Name:                  producerBreakerName,
		MaxRequests:           5,
		Interval:              time.Minute,
		Timeout:               30 * time.Second,
		FailureThreshold:      5,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     10,
		OnStateChange: func(name string, _, to gobreaker.State) {
			if m == nil {
				return
			}
			m.SetCircuitBreakerState(name, int(to))
			if to == gobreaker.StateOpen {
				m.RecordCircuitBreakerTrip(name)
			}
		},
	}

	return &CircuitBreakerProducer{
		producer:       producer,
		circuitBreaker: resilience.NewCircuitBreaker(config, logger.Logger),
	}
}

// PublishEvent publishes a CloudEvent with circuit breaker protection
func (p *CircuitBreakerProducer) PublishEvent(ctx context.Context, topic string, event *cloudevents.StockCloudEvent) error {
	_, err := p.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return nil, p.producer.PublishEvent(ctx, topic, event)
	})
	return err
}

// Close closes the underlying producer
func (p *CircuitBreakerProducer) Close() error {
	return p.producer.Close()
}

// NewProductionProducer creates a Kafka producer with instrumentation and circuit breaker
func NewProductionProducer(config *Config, m *metrics.Metrics, logger *logging.Logger) *CircuitBreakerProducer {
	instrumented := NewInstrumentedProducer(NewProducer(config), m, logger)
	return NewCircuitBreakerProducer(instrumented, logger, m)
}
