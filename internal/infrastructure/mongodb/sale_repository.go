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

// SaleRepository implements domain.SaleRepository for MongoDB
type SaleRepository struct {
	collection *pkgmongo.InstrumentedCollection
}

// NewSaleRepository creates a new SaleRepository
func NewSaleRepository(client *pkgmongo.InstrumentedClient) *SaleRepository {
	repo := &SaleRepository{collection: client.Collection(CollectionSales)}
	_ = repo.ensureIndexes(context.Background())
	return repo
}

func (r *SaleRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "saleNumber", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "shopId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create inserts a new sale
func (r *SaleRepository) Create(ctx context.Context, sale *domain.Sale) error {
	if _, err := r.collection.InsertOne(ctx, sale); err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}
	return nil
}

// FindByID finds a sale by its id
func (r *SaleRepository) FindByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := r.collection.FindOne(ctx, bson.M{"_id": id}, &sale)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sale: %w", err)
	}
	sale.DomainEvents = make([]domain.DomainEvent, 0)
	return &sale, nil
}

// List returns a page of sales, newest first, and the total match count
func (r *SaleRepository) List(ctx context.Context, query domain.SaleQuery) ([]*domain.Sale, int64, error) {
	filter := bson.M{}
	if query.ShopID != "" {
		filter["shopId"] = query.ShopID
	}
	if query.Status != "" {
		filter["status"] = query.Status
	}
	if query.StartDate != nil || query.EndDate != nil {
		createdAt := bson.M{}
		if query.StartDate != nil {
			createdAt["$gte"] = *query.StartDate
		}
		if query.EndDate != nil {
			createdAt["$lte"] = *query.EndDate
		}
		filter["createdAt"] = createdAt
	}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count sales: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(query.Offset)
	if query.Limit > 0 {
		opts.SetLimit(query.Limit)
	}

	var sales []*domain.Sale
	if err := r.collection.Find(ctx, filter, &sales, opts); err != nil {
		return nil, 0, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, total, nil
}

// Update writes the mutable fields of a sale if its stored status is still
// expected. Items are fixed once the sale exists. Pending releases are only
// written by a status change, later edits leave them to ClaimRelease.
func (r *SaleRepository) Update(ctx context.Context, sale *domain.Sale, expected domain.SaleStatus) error {
	fields := bson.M{
		"customer":      sale.Customer,
		"subtotal":      sale.Subtotal,
		"discount":      sale.Discount,
		"tax":           sale.Tax,
		"totalAmount":   sale.TotalAmount,
		"paymentMethod": sale.PaymentMethod,
		"paymentStatus": sale.PaymentStatus,
		"status":        sale.Status,
		"deliveredAt":   sale.DeliveredAt,
		"cancelledAt":   sale.CancelledAt,
		"updatedAt":     sale.UpdatedAt,
	}
	if sale.Status != expected {
		fields["pendingRelease"] = sale.PendingRelease
	}
	update := bson.M{"$set": fields}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": sale.ID, "status": expected}, update)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	current, err := r.FindByID(ctx, sale.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrSaleNotFound
	}
	return &domain.StateError{From: current.Status, To: sale.Status, Message: "sale status changed concurrently"}
}

// Delete removes a sale
func (r *SaleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete sale: %w", err)
	}
	return nil
}

// ClaimRelease pulls tileID from pendingRelease. Only one caller can match
// the element, so a tile is released at most once.
func (r *SaleRepository) ClaimRelease(ctx context.Context, saleID, tileID string) (bool, error) {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": saleID, "pendingRelease": tileID},
		bson.M{"$pull": bson.M{"pendingRelease": tileID}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim release: %w", err)
	}
	return result.ModifiedCount > 0, nil
}

// RequeueRelease adds tileID back to pendingRelease
func (r *SaleRepository) RequeueRelease(ctx context.Context, saleID, tileID string) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": saleID},
		bson.M{"$addToSet": bson.M{"pendingRelease": tileID}},
	)
	if err != nil {
		return fmt.Errorf("failed to requeue release: %w", err)
	}
	return nil
}
