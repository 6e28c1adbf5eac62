package mongodb

import (
	"context"
	"time"

	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
	"github.com/tilestock/stock-service/pkg/tracing"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedClient wraps a Client with metrics, logging and tracing
type InstrumentedClient struct {
	client  *Client
	metrics *metrics.Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewInstrumentedClient creates a new instrumented MongoDB client.
// m and logger may be nil.
func NewInstrumentedClient(client *Client, m *metrics.Metrics, logger *logging.Logger) *InstrumentedClient {
	return &InstrumentedClient{
		client:  client,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("mongodb"),
	}
}

// Collection returns an instrumented collection
func (c *InstrumentedClient) Collection(name string) *InstrumentedCollection {
	return &InstrumentedCollection{
		collection: c.client.Collection(name),
		name:       name,
		database:   c.client.config.Database,
		metrics:    c.metrics,
		logger:     c.logger,
		tracer:     c.tracer,
	}
}

// Database returns the underlying database handle
func (c *InstrumentedClient) Database() *mongo.Database {
	return c.client.Database()
}

// Close disconnects the client
func (c *InstrumentedClient) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// HealthCheck pings the primary inside a span
func (c *InstrumentedClient) HealthCheck(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "mongodb.ping",
		trace.WithAttributes(tracing.DatabaseSpanAttributes(c.client.config.Database, "ping", "")...),
	)
	err := c.client.HealthCheck(ctx)
	tracing.EndSpan(span, err)
	return err
}

// InstrumentedCollection wraps a collection with metrics, logging and tracing
type InstrumentedCollection struct {
	collection *mongo.Collection
	name       string
	database   string
	metrics    *metrics.Metrics
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Name returns the collection name
func (c *InstrumentedCollection) Name() string {
	return c.name
}

// Indexes returns the index view of the underlying collection
func (c *InstrumentedCollection) Indexes() mongo.IndexView {
	return c.collection.Indexes()
}

// observe runs op inside a client span and records its outcome.
// mongo.ErrNoDocuments is not counted as a failure.
func (c *InstrumentedCollection) observe(ctx context.Context, operation string, op func(context.Context) error) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "mongodb."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.DatabaseSpanAttributes(c.database, operation, c.name)...),
	)

	err := op(ctx)
	duration := time.Since(start)

	failed := err != nil && err != mongo.ErrNoDocuments
	if c.metrics != nil {
		c.metrics.RecordMongoDBOperation(c.name, operation, !failed, duration)
	}
	if c.logger != nil {
		c.logger.DatabaseQuery(ctx, c.name, operation, duration, !failed)
	}

	spanErr := err
	if !failed {
		spanErr = nil
	}
	tracing.EndSpan(span, spanErr)
	return err
}

// InsertOne inserts a single document
func (c *InstrumentedCollection) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	var result *mongo.InsertOneResult
	err := c.observe(ctx, "insertOne", func(ctx context.Context) error {
		var err error
		result, err = c.collection.InsertOne(ctx, document, opts...)
		return err
	})
	return result, err
}

// InsertMany inserts multiple documents
func (c *InstrumentedCollection) InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error) {
	var result *mongo.InsertManyResult
	err := c.observe(ctx, "insertMany", func(ctx context.Context) error {
		var err error
		result, err = c.collection.InsertMany(ctx, documents, opts...)
		return err
	})
	return result, err
}

// FindOne finds a single document and decodes it into v
func (c *InstrumentedCollection) FindOne(ctx context.Context, filter interface{}, v interface{}, opts ...*options.FindOneOptions) error {
	return c.observe(ctx, "findOne", func(ctx context.Context) error {
		return c.collection.FindOne(ctx, filter, opts...).Decode(v)
	})
}

// Find finds all matching documents and decodes them into results
func (c *InstrumentedCollection) Find(ctx context.Context, filter interface{}, results interface{}, opts ...*options.FindOptions) error {
	return c.observe(ctx, "find", func(ctx context.Context) error {
		cursor, err := c.collection.Find(ctx, filter, opts...)
		if err != nil {
			return err
		}
		return cursor.All(ctx, results)
	})
}

// FindOneAndUpdate applies update to the first match and decodes the
// document selected by opts into v
func (c *InstrumentedCollection) FindOneAndUpdate(ctx context.Context, filter, update interface{}, v interface{}, opts ...*options.FindOneAndUpdateOptions) error {
	return c.observe(ctx, "findOneAndUpdate", func(ctx context.Context) error {
		return c.collection.FindOneAndUpdate(ctx, filter, update, opts...).Decode(v)
	})
}

// UpdateOne updates a single document
func (c *InstrumentedCollection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	var result *mongo.UpdateResult
	err := c.observe(ctx, "updateOne", func(ctx context.Context) error {
		var err error
		result, err = c.collection.UpdateOne(ctx, filter, update, opts...)
		return err
	})
	return result, err
}

// UpdateMany updates all matching documents
func (c *InstrumentedCollection) UpdateMany(ctx context.Context, filter, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	var result *mongo.UpdateResult
	err := c.observe(ctx, "updateMany", func(ctx context.Context) error {
		var err error
		result, err = c.collection.UpdateMany(ctx, filter, update, opts...)
		return err
	})
	return result, err
}

// DeleteOne deletes a single document
func (c *InstrumentedCollection) DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	var result *mongo.DeleteResult
	err := c.observe(ctx, "deleteOne", func(ctx context.Context) error {
		var err error
		result, err = c.collection.DeleteOne(ctx, filter, opts...)
		return err
	})
	return result, err
}

// DeleteMany deletes all matching documents
func (c *InstrumentedCollection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	var result *mongo.DeleteResult
	err := c.observe(ctx, "deleteMany", func(ctx context.Context) error {
		var err error
		result, err = c.collection.DeleteMany(ctx, filter, opts...)
		return err
	})
	return result, err
}

// CountDocuments counts matching documents
func (c *InstrumentedCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	var count int64
	err := c.observe(ctx, "countDocuments", func(ctx context.Context) error {
		var err error
		count, err = c.collection.CountDocuments(ctx, filter, opts...)
		return err
	})
	return count, err
}

// Aggregate runs pipeline and decodes every result into results
func (c *InstrumentedCollection) Aggregate(ctx context.Context, pipeline interface{}, results interface{}, opts ...*options.AggregateOptions) error {
	return c.observe(ctx, "aggregate", func(ctx context.Context) error {
		cursor, err := c.collection.Aggregate(ctx, pipeline, opts...)
		if err != nil {
			return err
		}
		return cursor.All(ctx, results)
	})
}
