package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tilestock/stock-service/pkg/idempotency"
	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// DefaultCollectionName is the idempotency key collection
const DefaultCollectionName = "idempotency_keys"

// KeyRepository implements idempotency.Repository for MongoDB
type KeyRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewKeyRepository creates a MongoDB idempotency key repository
func NewKeyRepository(client *pkgmongo.InstrumentedClient) *KeyRepository {
	return &KeyRepository{collection: client.Collection(DefaultCollectionName)}
}

// Acquire inserts the record, relying on the unique _id to let only one
// concurrent request through
func (r *KeyRepository) Acquire(ctx context.Context, record *idempotency.Record) (*idempotency.Record, bool, error) {
	_, err := r.collection.InsertOne(ctx, record)
	if err == nil {
		return record, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("failed to insert idempotency key: %w", err)
	}

	var stored idempotency.Record
	err = r.collection.FindOne(ctx, bson.M{"_id": record.ID}, &stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// released between the insert and the read
		return r.Acquire(ctx, record)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load idempotency key: %w", err)
	}
	return &stored, false, nil
}

// TakeOver re-locks an unfinished record whose lock went stale
func (r *KeyRepository) TakeOver(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"_id":         id,
			"completedAt": bson.M{"$exists": false},
			"lockedAt":    bson.M{"$lte": staleBefore},
		},
		bson.M{"$set": bson.M{"lockedAt": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to take over idempotency key: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// Complete stores the response of a processed request
func (r *KeyRepository) Complete(ctx context.Context, id string, code int, body []byte, headers map[string]string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{
				"responseCode":    code,
				"responseBody":    body,
				"responseHeaders": headers,
				"completedAt":     time.Now().UTC(),
			},
			"$unset": bson.M{"lockedAt": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to store idempotent response: %w", err)
	}
	return nil
}

// Release deletes a record that never completed
func (r *KeyRepository) Release(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "completedAt": bson.M{"$exists": false}})
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired removes records that expired before cutoff
func (r *KeyRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency keys: %w", err)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes creates the TTL index that expires old records
func (r *KeyRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetName("idx_expiresAt_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "scope", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("idx_scope_createdAt"),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create idempotency indexes: %w", err)
	}
	return nil
}
