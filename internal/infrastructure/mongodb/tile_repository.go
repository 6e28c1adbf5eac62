package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tilestock/stock-service/internal/domain"
	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// stockUpdateAttempts bounds how often a conditional update is retried when
// the tile changed between the failed write and the re-read
const stockUpdateAttempts = 3

// TileRepository implements domain.TileRepository for MongoDB
type TileRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewTileRepository creates a new TileRepository
func NewTileRepository(client *pkgmongo.InstrumentedClient) *TileRepository {
	repo := &TileRepository{collection: client.Collection(CollectionTiles)}
	_ = repo.ensureIndexes(context.Background())
	return repo
}

func (r *TileRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "shopId", Value: 1}, {Key: "sku", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("shop_sku_unique"),
		},
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "isActive", Value: 1}, {Key: "name", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create inserts a new tile
func (r *TileRepository) Create(ctx context.Context, tile *domain.Tile) error {
	if _, err := r.collection.InsertOne(ctx, tile); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSKU, tile.SKU)
		}
		return fmt.Errorf("failed to create tile: %w", err)
	}
	return nil
}

// FindByID finds a tile by its id
func (r *TileRepository) FindByID(ctx context.Context, id string) (*domain.Tile, error) {
	var tile domain.Tile
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, &tile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tile: %w", err)
	}
	return &tile, nil
}

// List returns a page of tiles ordered by name and the total match count
func (r *TileRepository) List(ctx context.Context, query domain.TileQuery) ([]*domain.Tile, int64, error) {
	filter := bson.M{}
	if query.ShopID != "" {
		filter["shopId"] = query.ShopID
	}
	if !query.IncludeInactive {
		filter["isActive"] = true
	}
	if query.Search != "" {
		pattern := containsPattern(query.Search)
		filter["$or"] = bson.A{
			bson.M{"name": pattern},
			bson.M{"sku": pattern},
		}
	}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tiles: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(query.Offset)
	if query.Limit > 0 {
		opts.SetLimit(query.Limit)
	}

	var tiles []*domain.Tile
	if err := r.collection.Find(ctx, filter, &tiles, opts); err != nil {
		return nil, 0, fmt.Errorf("failed to list tiles: %w", err)
	}
	return tiles, total, nil
}

// FindByShop returns every tile of a shop, active or not
func (r *TileRepository) FindByShop(ctx context.Context, shopID string) ([]*domain.Tile, error) {
	var tiles []*domain.Tile
	if err := r.collection.Find(ctx, bson.M{"shopId": shopID}, &tiles); err != nil {
		return nil, fmt.Errorf("failed to find tiles of shop: %w", err)
	}
	return tiles, nil
}

// Update writes the catalogue fields of a tile. Stock counters are left to
// ApplyStockUpdate and SetQuantity so a concurrent stock change is never
// overwritten.
func (r *TileRepository) Update(ctx context.Context, tile *domain.Tile) error {
	update := bson.M{"$set": bson.M{
		"name":             tile.Name,
		"price":            tile.Price,
		"itemsPerPacket":   tile.ItemsPerPacket,
		"minimumThreshold": tile.MinimumThreshold,
		"images":           tile.Images,
		"isActive":         tile.IsActive,
		"updatedAt":        tile.UpdatedAt,
	}}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": tile.ID, "shopId": tile.ShopID}, update)
	if err != nil {
		return fmt.Errorf("failed to update tile: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrTileNotFound
	}
	return nil
}

// Delete removes a tile
func (r *TileRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete tile: %w", err)
	}
	return nil
}

// ApplyStockUpdate applies update as one conditional findOneAndUpdate. When
// nothing matches, the tile is re-read to report why.
func (r *TileRepository) ApplyStockUpdate(ctx context.Context, update domain.StockUpdate) (*domain.Tile, error) {
	filter := stockUpdateFilter(update)
	change := stockUpdateDocument(update, time.Now().UTC())
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for attempt := 0; attempt < stockUpdateAttempts; attempt++ {
		var tile domain.Tile
		err := r.collection.FindOneAndUpdate(ctx, filter, change, &tile, opts)
		if err == nil {
			return &tile, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to update stock: %w", err)
		}

		current, err := r.FindByID(ctx, update.TileID)
		if err != nil {
			return nil, err
		}
		if err := update.ApplyTo(current); err != nil {
			return nil, err
		}
		// the guard passes now, the tile changed in between
	}
	return nil, fmt.Errorf("failed to update stock of tile %s: guard kept failing", update.TileID)
}

// SetQuantity overwrites on-hand pieces unless that would drop below the
// reserved pieces, and returns the tile as it was before
func (r *TileRepository) SetQuantity(ctx context.Context, id, shopID string, quantity int) (*domain.Tile, error) {
	filter := bson.M{
		"_id":              id,
		"shopId":           shopID,
		"reservedQuantity": bson.M{"$lte": quantity},
	}
	update := bson.M{"$set": bson.M{"quantity": quantity, "updatedAt": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var previous domain.Tile
	err := r.collection.FindOneAndUpdate(ctx, filter, update, &previous, opts)
	if err == nil {
		return &previous, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to set quantity: %w", err)
	}

	current, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil || current.ShopID != shopID {
		return nil, domain.ErrTileNotFound
	}
	return nil, &domain.QuantityError{
		Field:  "quantity",
		Value:  quantity,
		Reason: fmt.Sprintf("must not be below the %d reserved pieces", current.ReservedQuantity),
	}
}

func stockUpdateFilter(update domain.StockUpdate) bson.M {
	filter := bson.M{"_id": update.TileID}
	if update.ShopID != "" {
		filter["shopId"] = update.ShopID
	}
	if update.RequireActive {
		filter["isActive"] = true
	}
	if update.ExpectItemsPerPacket > 0 {
		filter["itemsPerPacket"] = update.ExpectItemsPerPacket
	}
	if update.MinAvailable > 0 {
		filter["$expr"] = bson.M{"$gte": bson.A{
			bson.M{"$subtract": bson.A{"$quantity", "$reservedQuantity"}},
			update.MinAvailable,
		}}
	}
	return filter
}

// stockUpdateDocument builds an $inc update, or an aggregation pipeline
// update when negative results must stop at zero
func stockUpdateDocument(update domain.StockUpdate, now time.Time) interface{} {
	if update.ClampAtZero {
		set := bson.M{
			"quantity":         clampedAdd("$quantity", update.QuantityDelta),
			"reservedQuantity": clampedAdd("$reservedQuantity", update.ReservedDelta),
			"updatedAt":        now,
		}
		if update.SetItemsPerPacket > 0 {
			set["itemsPerPacket"] = update.SetItemsPerPacket
		}
		return mongo.Pipeline{{{Key: "$set", Value: set}}}
	}

	set := bson.M{"updatedAt": now}
	if update.SetItemsPerPacket > 0 {
		set["itemsPerPacket"] = update.SetItemsPerPacket
	}
	return bson.M{
		"$inc": bson.M{
			"quantity":         update.QuantityDelta,
			"reservedQuantity": update.ReservedDelta,
		},
		"$set": set,
	}
}

func clampedAdd(field string, delta int) bson.M {
	return bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{field, delta}}}}
}

func containsPattern(search string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(search), "$options": "i"}
}
