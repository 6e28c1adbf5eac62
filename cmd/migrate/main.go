package main

import (
	"context"
	"flag"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	mongoRepo "github.com/tilestock/stock-service/internal/infrastructure/mongodb"
	idempotencyMongo "github.com/tilestock/stock-service/pkg/idempotency/mongodb"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/mongodb"
	outboxMongo "github.com/tilestock/stock-service/pkg/outbox/mongodb"
)

// Bootstraps a stock-service database: creates indexes, backfills stock
// fields on old tiles and raises the sequence counters above every SKU and
// sale number already in use.

var (
	mongoURI = flag.String("mongo-uri", "", "MongoDB connection URI (default $MONGODB_URI)")
	dbName   = flag.String("db", "", "Database name (default $MONGODB_DATABASE)")
	dryRun   = flag.Bool("dry-run", true, "Dry run mode (no actual writes)")
	timeout  = flag.Duration("timeout", 5*time.Minute, "Overall timeout")
)

func main() {
	_ = godotenv.Load()
	flag.Parse()

	logger := logging.New(logging.DefaultConfig("stock-service-migrate"))
	logger.SetDefault()

	config := mongodb.DefaultConfig()
	config.URI = firstNonEmpty(*mongoURI, os.Getenv("MONGODB_URI"), config.URI)
	config.Database = firstNonEmpty(*dbName, os.Getenv("MONGODB_DATABASE"), config.Database)

	logger.Info("Starting migration", "database", config.Database, "dryRun", *dryRun)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := mongodb.NewClient(ctx, config)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to MongoDB")
		os.Exit(1)
	}
	instrumented := mongodb.NewInstrumentedClient(client, nil, logger)
	defer instrumented.Close(context.Background())

	if err := migrate(ctx, instrumented, logger, *dryRun); err != nil {
		logger.WithError(err).Error("Migration failed")
		os.Exit(1)
	}
	logger.Info("Migration completed")
}

func migrate(ctx context.Context, client *mongodb.InstrumentedClient, logger *logging.Logger, dryRun bool) error {
	if !dryRun {
		if err := mongoRepo.EnsureIndexes(ctx, client); err != nil {
			return err
		}
		if err := outboxMongo.NewOutboxRepository(client).EnsureIndexes(ctx); err != nil {
			return err
		}
		if err := idempotencyMongo.NewKeyRepository(client).EnsureIndexes(ctx); err != nil {
			return err
		}
		logger.Info("Indexes created")
	}

	backfill, err := mongoRepo.BackfillTiles(ctx, client, dryRun)
	if err != nil {
		return err
	}
	logger.Info("Tiles backfilled",
		"reservedQuantity", backfill.ReservedQuantity,
		"itemsPerPacket", backfill.ItemsPerPacket,
		"images", backfill.Images,
	)

	highest, err := mongoRepo.HighestSequences(ctx, client)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(highest))
	for key := range highest {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	counters := mongoRepo.NewCounterRepository(client)
	for _, key := range keys {
		if dryRun {
			logger.Info("Counter would be raised", "key", key, "atLeast", highest[key])
			continue
		}
		value, err := counters.EnsureAtLeast(ctx, key, highest[key])
		if err != nil {
			return err
		}
		logger.Info("Counter seeded", "key", key, "value", value)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
