package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all stock service metrics
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Kafka metrics
	KafkaEventsPublished *prometheus.CounterVec
	KafkaPublishDuration *prometheus.HistogramVec

	// MongoDB metrics
	MongoDBOperations        *prometheus.CounterVec
	MongoDBOperationDuration *prometheus.HistogramVec

	// Outbox metrics
	OutboxPending        prometheus.Gauge
	OutboxPublished      *prometheus.CounterVec
	OutboxPublishLatency *prometheus.HistogramVec
	OutboxRetries        *prometheus.CounterVec

	// Business metrics
	StockMovements      *prometheus.CounterVec
	StockPiecesMoved    *prometheus.CounterVec
	StockRejections     *prometheus.CounterVec
	SalesCreated        *prometheus.CounterVec
	SaleTransitions     *prometheus.CounterVec
	SaleAmountMinor     prometheus.Counter
	SagaCompensations   *prometheus.CounterVec
	LowStockTilesGauge  *prometheus.GaugeVec

	// Idempotency metrics
	IdempotencyRequests *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "tilestock",
	}
}

// New creates a new Metrics instance on a private registry
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ns := config.Namespace
	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total", Help: "Total number of HTTP requests"},
		[]string{"service", "method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)
	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.KafkaEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "kafka_events_published_total", Help: "Total number of Kafka events published"},
		[]string{"service", "topic", "event_type", "status"},
	)
	m.KafkaPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "kafka_publish_duration_seconds",
			Help:      "Kafka publish duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "topic"},
	)

	m.MongoDBOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "mongodb_operations_total", Help: "Total number of MongoDB operations"},
		[]string{"service", "collection", "operation", "status"},
	)
	m.MongoDBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "mongodb_operation_duration_seconds",
			Help:      "MongoDB operation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "collection", "operation"},
	)

	m.OutboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "outbox_pending_events",
			Help:        "Unpublished events seen in the last outbox poll",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)
	m.OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "outbox_events_published_total", Help: "Outbox events handed to Kafka"},
		[]string{"service", "event_type", "status"},
	)
	m.OutboxPublishLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "outbox_publish_duration_seconds",
			Help:      "Time spent publishing a single outbox event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "event_type"},
	)
	m.OutboxRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "outbox_retries_total", Help: "Outbox publish retries"},
		[]string{"service", "event_type"},
	)

	m.StockMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "stock_movements_total", Help: "Stock transactions recorded, by type"},
		[]string{"service", "transaction_type"},
	)
	m.StockPiecesMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "stock_pieces_moved_total", Help: "Absolute pieces moved, by transaction type"},
		[]string{"service", "transaction_type"},
	)
	m.StockRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "stock_rejections_total", Help: "Stock mutations rejected, by reason"},
		[]string{"service", "operation", "reason"},
	)
	m.SalesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "sales_created_total", Help: "Sales created, by payment method"},
		[]string{"service", "payment_method"},
	)
	m.SaleTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "sale_transitions_total", Help: "Sale status transitions"},
		[]string{"service", "status"},
	)
	m.SaleAmountMinor = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "sale_amount_minor_units_total",
			Help:        "Sum of sale totals in minor currency units",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)
	m.SagaCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "saga_compensations_total", Help: "Compensating actions executed, by saga and outcome"},
		[]string{"service", "saga", "status"},
	)
	m.LowStockTilesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: ns, Name: "low_stock_tiles", Help: "Tiles flagged by the last low-stock evaluation"},
		[]string{"service", "shop", "level"},
	)

	m.IdempotencyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "idempotency_requests_total", Help: "Requests carrying an Idempotency-Key, by outcome"},
		[]string{"service", "path", "outcome"},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: ns, Name: "circuit_breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)"},
		[]string{"service", "name"},
	)
	m.CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "circuit_breaker_trips_total", Help: "Total number of circuit breaker trips"},
		[]string{"service", "name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.KafkaEventsPublished,
		m.KafkaPublishDuration,
		m.MongoDBOperations,
		m.MongoDBOperationDuration,
		m.OutboxPending,
		m.OutboxPublished,
		m.OutboxPublishLatency,
		m.OutboxRetries,
		m.StockMovements,
		m.StockPiecesMoved,
		m.StockRejections,
		m.SalesCreated,
		m.SaleTransitions,
		m.SaleAmountMinor,
		m.SagaCompensations,
		m.LowStockTilesGauge,
		m.IdempotencyRequests,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordKafkaPublish records a Kafka publish attempt
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, eventType, statusLabel(success)).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration) {
	m.MongoDBOperations.WithLabelValues(m.serviceName, collection, operation, statusLabel(success)).Inc()
	m.MongoDBOperationDuration.WithLabelValues(m.serviceName, collection, operation).Observe(duration.Seconds())
}

// SetOutboxPending records the size of the last outbox batch
func (m *Metrics) SetOutboxPending(count int) {
	m.OutboxPending.Set(float64(count))
}

// RecordOutboxPublish records an outbox publish attempt
func (m *Metrics) RecordOutboxPublish(eventType string, success bool, duration time.Duration) {
	m.OutboxPublished.WithLabelValues(m.serviceName, eventType, statusLabel(success)).Inc()
	m.OutboxPublishLatency.WithLabelValues(m.serviceName, eventType).Observe(duration.Seconds())
}

// RecordOutboxRetry records an outbox retry
func (m *Metrics) RecordOutboxRetry(eventType string) {
	m.OutboxRetries.WithLabelValues(m.serviceName, eventType).Inc()
}

// RecordStockMovement records one stock transaction and the absolute pieces it moved
func (m *Metrics) RecordStockMovement(transactionType string, pieces int) {
	if pieces < 0 {
		pieces = -pieces
	}
	m.StockMovements.WithLabelValues(m.serviceName, transactionType).Inc()
	m.StockPiecesMoved.WithLabelValues(m.serviceName, transactionType).Add(float64(pieces))
}

// RecordStockRejection records a rejected stock mutation
func (m *Metrics) RecordStockRejection(operation, reason string) {
	m.StockRejections.WithLabelValues(m.serviceName, operation, reason).Inc()
}

// RecordSaleCreated records a new sale and its total
func (m *Metrics) RecordSaleCreated(paymentMethod string, totalMinor int64) {
	m.SalesCreated.WithLabelValues(m.serviceName, paymentMethod).Inc()
	if totalMinor > 0 {
		m.SaleAmountMinor.Add(float64(totalMinor))
	}
}

// RecordSaleTransition records a sale reaching status
func (m *Metrics) RecordSaleTransition(status string) {
	m.SaleTransitions.WithLabelValues(m.serviceName, status).Inc()
}

// RecordCompensation records a compensating action
func (m *Metrics) RecordCompensation(saga string, success bool) {
	m.SagaCompensations.WithLabelValues(m.serviceName, saga, statusLabel(success)).Inc()
}

// SetLowStock records the outcome of a low-stock evaluation for a shop
func (m *Metrics) SetLowStock(shopID string, critical, outOfStock int) {
	m.LowStockTilesGauge.WithLabelValues(m.serviceName, shopID, "critical").Set(float64(critical))
	m.LowStockTilesGauge.WithLabelValues(m.serviceName, shopID, "out_of_stock").Set(float64(outOfStock))
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}

// RecordIdempotency records how a keyed request was handled
func (m *Metrics) RecordIdempotency(path, outcome string) {
	m.IdempotencyRequests.WithLabelValues(m.serviceName, path, outcome).Inc()
}
