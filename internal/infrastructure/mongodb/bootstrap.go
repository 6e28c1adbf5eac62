package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tilestock/stock-service/internal/domain"
	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// BackfillResult counts tiles that were missing stock fields
type BackfillResult struct {
	ReservedQuantity int64
	ItemsPerPacket   int64
	Images           int64
}

// BackfillTiles gives tiles written before reservations existed the fields
// the conditional stock updates rely on. With dryRun it only counts them.
func BackfillTiles(ctx context.Context, client *pkgmongo.InstrumentedClient, dryRun bool) (BackfillResult, error) {
	tiles := client.Collection(CollectionTiles)

	steps := []struct {
		filter bson.M
		set    bson.M
		count  *int64
	}{
		{bson.M{"reservedQuantity": bson.M{"$exists": false}}, bson.M{"reservedQuantity": 0}, new(int64)},
		{bson.M{"$or": bson.A{
			bson.M{"itemsPerPacket": bson.M{"$exists": false}},
			bson.M{"itemsPerPacket": bson.M{"$lt": 1}},
		}}, bson.M{"itemsPerPacket": domain.DefaultItemsPerPacket}, new(int64)},
		{bson.M{"images": nil}, bson.M{"images": bson.A{}}, new(int64)},
	}

	for _, step := range steps {
		if dryRun {
			n, err := tiles.CountDocuments(ctx, step.filter)
			if err != nil {
				return BackfillResult{}, fmt.Errorf("failed to count tiles: %w", err)
			}
			*step.count = n
			continue
		}
		result, err := tiles.UpdateMany(ctx, step.filter, bson.M{"$set": step.set})
		if err != nil {
			return BackfillResult{}, fmt.Errorf("failed to backfill tiles: %w", err)
		}
		*step.count = result.ModifiedCount
	}

	return BackfillResult{
		ReservedQuantity: *steps[0].count,
		ItemsPerPacket:   *steps[1].count,
		Images:           *steps[2].count,
	}, nil
}

// HighestSequences scans generated SKUs and sale numbers and returns the
// highest value in use per counter key
func HighestSequences(ctx context.Context, client *pkgmongo.InstrumentedClient) (map[string]int64, error) {
	highest := make(map[string]int64)
	raise := func(key string, seq int64) {
		if seq > highest[key] {
			highest[key] = seq
		}
	}

	var skus []struct {
		SKU string `bson:"sku"`
	}
	opts := options.Find().SetProjection(bson.M{"sku": 1})
	if err := client.Collection(CollectionTiles).Find(ctx, bson.M{"sku": bson.M{"$regex": "^TILE-"}}, &skus, opts); err != nil {
		return nil, fmt.Errorf("failed to scan tile skus: %w", err)
	}
	for _, doc := range skus {
		if seq, ok := domain.ParseSKUSequence(doc.SKU); ok {
			raise(domain.CounterKeySKU, seq)
		}
	}

	var numbers []struct {
		SaleNumber string `bson:"saleNumber"`
	}
	opts = options.Find().SetProjection(bson.M{"saleNumber": 1})
	if err := client.Collection(CollectionSales).Find(ctx, bson.M{}, &numbers, opts); err != nil {
		return nil, fmt.Errorf("failed to scan sale numbers: %w", err)
	}
	for _, doc := range numbers {
		if key, seq, ok := domain.ParseSaleNumber(doc.SaleNumber); ok {
			raise(key, seq)
		}
	}

	return highest, nil
}
