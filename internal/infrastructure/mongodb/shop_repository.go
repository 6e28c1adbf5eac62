package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tilestock/stock-service/internal/domain"
	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// ShopRepository implements domain.ShopRepository for MongoDB
type ShopRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewShopRepository creates a new ShopRepository
func NewShopRepository(client *pkgmongo.InstrumentedClient) *ShopRepository {
	return &ShopRepository{collection: client.Collection(CollectionShops)}
}

// FindByID finds a shop by its id
func (r *ShopRepository) FindByID(ctx context.Context, id string) (*domain.Shop, error) {
	var shop domain.Shop
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, &shop)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find shop: %w", err)
	}
	return &shop, nil
}

// Save upserts a shop
func (r *ShopRepository) Save(ctx context.Context, shop *domain.Shop) error {
	opts := options.Update().SetUpsert(true)
	update := bson.M{"$set": bson.M{
		"name":      shop.Name,
		"settings":  shop.Settings,
		"isActive":  shop.IsActive,
		"updatedAt": shop.UpdatedAt,
	}, "$setOnInsert": bson.M{"createdAt": shop.CreatedAt}}

	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": shop.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to save shop: %w", err)
	}
	return nil
}

// UpdateSettings replaces the settings of a shop, creating the shop document
// when it does not exist yet
func (r *ShopRepository) UpdateSettings(ctx context.Context, id string, settings domain.ShopSettings) (*domain.Shop, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$set":         bson.M{"settings": settings, "updatedAt": now},
		"$setOnInsert": bson.M{"isActive": true, "createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var shop domain.Shop
	if err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, &shop, opts); err != nil {
		return nil, fmt.Errorf("failed to update shop settings: %w", err)
	}
	return &shop, nil
}
