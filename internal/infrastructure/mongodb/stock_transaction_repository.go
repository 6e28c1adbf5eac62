package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tilestock/stock-service/internal/domain"
	pkgmongo "github.com/tilestock/stock-service/pkg/mongodb"
)

// StockTransactionRepository implements domain.StockTransactionRepository
// for MongoDB
type StockTransactionRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewStockTransactionRepository creates a new StockTransactionRepository
func NewStockTransactionRepository(client *pkgmongo.InstrumentedClient) *StockTransactionRepository {
	repo := &StockTransactionRepository{collection: client.Collection(CollectionTransactions)}
	_ = repo.ensureIndexes(context.Background())
	return repo
}

func (r *StockTransactionRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "transactionType", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "tileId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "referenceNumber", Value: 1}}, Options: options.Index().SetSparse(true)},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Save inserts one transaction
func (r *StockTransactionRepository) Save(ctx context.Context, txn *domain.StockTransaction) error {
	if _, err := r.collection.InsertOne(ctx, txn); err != nil {
		return fmt.Errorf("failed to save stock transaction: %w", err)
	}
	return nil
}

// SaveAll inserts transactions in order
func (r *StockTransactionRepository) SaveAll(ctx context.Context, txns []*domain.StockTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	docs := make([]interface{}, len(txns))
	for i, txn := range txns {
		docs[i] = txn
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to save stock transactions: %w", err)
	}
	return nil
}

// FindByID finds a transaction by its id
func (r *StockTransactionRepository) FindByID(ctx context.Context, id string) (*domain.StockTransaction, error) {
	var txn domain.StockTransaction
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, &txn)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stock transaction: %w", err)
	}
	return &txn, nil
}

// Find returns a page of matching transactions, newest first, and the total
// match count
func (r *StockTransactionRepository) Find(ctx context.Context, filter domain.ReportFilter, offset, limit int64) ([]*domain.StockTransaction, int64, error) {
	query := reportQuery(filter)

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count stock transactions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}

	var txns []*domain.StockTransaction
	if err := r.collection.Find(ctx, query, &txns, opts); err != nil {
		return nil, 0, fmt.Errorf("failed to find stock transactions: %w", err)
	}
	return txns, total, nil
}

type typeTotal struct {
	Type  domain.TransactionType `bson:"_id"`
	Total int                    `bson:"total"`
}

// Stats sums quantities per transaction type over every match
func (r *StockTransactionRepository) Stats(ctx context.Context, filter domain.ReportFilter) (domain.ReportStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: reportQuery(filter)}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$transactionType",
			"total": bson.M{"$sum": "$quantity"},
		}}},
	}

	var totals []typeTotal
	if err := r.collection.Aggregate(ctx, pipeline, &totals); err != nil {
		return domain.ReportStats{}, fmt.Errorf("failed to aggregate stock transactions: %w", err)
	}

	sums := make(map[domain.TransactionType]int, len(totals))
	for _, t := range totals {
		sums[t.Type] = t.Total
	}
	return domain.NewReportStats(sums), nil
}

// Delete removes one transaction
func (r *StockTransactionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete stock transaction: %w", err)
	}
	return nil
}

// DeleteByIDs removes the given transactions, ignoring ids that do not exist
func (r *StockTransactionRepository) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("failed to delete stock transactions: %w", err)
	}
	return nil
}

// DeleteMatching removes every transaction the filter selects
func (r *StockTransactionRepository) DeleteMatching(ctx context.Context, filter domain.ReportFilter) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, reportQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to clear stock transactions: %w", err)
	}
	return result.DeletedCount, nil
}

// reportQuery is the MongoDB form of domain.ReportFilter.Matches
func reportQuery(filter domain.ReportFilter) bson.M {
	query := bson.M{}
	if filter.ShopID != "" {
		query["shopId"] = filter.ShopID
	}
	if filter.TileID != "" {
		query["tileId"] = filter.TileID
	}
	if filter.Type != "" {
		query["transactionType"] = filter.Type
	}
	if filter.StartDate != nil || filter.EndDate != nil {
		createdAt := bson.M{}
		if filter.StartDate != nil {
			createdAt["$gte"] = *filter.StartDate
		}
		if filter.EndDate != nil {
			createdAt["$lte"] = *filter.EndDate
		}
		query["createdAt"] = createdAt
	}
	return query
}
