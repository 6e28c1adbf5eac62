package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// CounterRepository hands out sequence numbers from one document per key
type CounterRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

type counter struct {
	Key string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

// NewCounterRepository creates a new CounterRepository
func NewCounterRepository(client *pkgmongo.InstrumentedClient) *CounterRepository {
	return &CounterRepository{collection: client.Collection(CollectionCounters)}
}

// Next increments the counter of key and returns the new value. The first
// call for a key returns 1.
func (r *CounterRepository) Next(ctx context.Context, key string) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c counter
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": key}, bson.M{"$inc": bson.M{"seq": int64(1)}}, &c, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}
	return c.Seq, nil
}

// EnsureAtLeast raises the counter of key to value if it is lower, so
// numbers issued before the counter existed are never handed out again
func (r *CounterRepository) EnsureAtLeast(ctx context.Context, key string, value int64) (int64, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c counter
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": key}, bson.M{"$max": bson.M{"seq": value}}, &c, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to seed counter %s: %w", key, err)
	}
	return c.Seq, nil
}
