package mongodb

import (
	"context"
	"fmt"

	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// Collection names
const (
	CollectionTiles        = "tiles"
	CollectionTransactions = "stock_transactions"
	CollectionSales        = "sales"
	CollectionShops        = "shops"
	CollectionCounters     = "counters"
)

// EnsureIndexes creates the indexes of every collection and reports the
// first failure. Repository constructors do the same but ignore errors.
func EnsureIndexes(ctx context.Context, client *pkgmongo.InstrumentedClient) error {
	steps := []struct {
		name   string
		ensure func(context.Context) error
	}{
		{CollectionTiles, (&TileRepository{collection: client.Collection(CollectionTiles)}).ensureIndexes},
		{CollectionTransactions, (&StockTransactionRepository{collection: client.Collection(CollectionTransactions)}).ensureIndexes},
		{CollectionSales, (&SaleRepository{collection: client.Collection(CollectionSales)}).ensureIndexes},
	}
	for _, step := range steps {
		if err := step.ensure(ctx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", step.name, err)
		}
	}
	return nil
}
