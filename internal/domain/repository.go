package domain

import (
	"context"
	"time"
)

// TileQuery filters tile listings
type TileQuery struct {
	ShopID          string
	Search          string // case-insensitive match on name or sku
	IncludeInactive bool
	Offset          int64
	Limit           int64
}

// SaleQuery filters sale listings
type SaleQuery struct {
	ShopID    string
	Status    SaleStatus
	StartDate *time.Time
	EndDate   *time.Time
	Offset    int64
	Limit     int64
}

// TileRepository defines the interface for tile persistence.
// Finders return (nil, nil) when nothing matches.
type TileRepository interface {
	Create(ctx context.Context, tile *Tile) error
	FindByID(ctx context.Context, id string) (*Tile, error)
	List(ctx context.Context, query TileQuery) ([]*Tile, int64, error)
	FindByShop(ctx context.Context, shopID string) ([]*Tile, error)
	Update(ctx context.Context, tile *Tile) error
	Delete(ctx context.Context, id string) error

	// ApplyStockUpdate applies update atomically and returns the tile after
	// the change. It fails with ErrTileNotFound, ErrStalePacketSize or an
	// InsufficientStockError and leaves the tile untouched in that case.
	ApplyStockUpdate(ctx context.Context, update StockUpdate) (*Tile, error)

	// SetQuantity overwrites on-hand pieces, refusing values below the
	// reserved pieces, and returns the tile as it was before the change
	SetQuantity(ctx context.Context, id, shopID string, quantity int) (*Tile, error)
}

// StockTransactionRepository defines the interface for the audit ledger
type StockTransactionRepository interface {
	Save(ctx context.Context, txn *StockTransaction) error
	SaveAll(ctx context.Context, txns []*StockTransaction) error
	FindByID(ctx context.Context, id string) (*StockTransaction, error)
	Find(ctx context.Context, filter ReportFilter, offset, limit int64) ([]*StockTransaction, int64, error)
	Stats(ctx context.Context, filter ReportFilter) (ReportStats, error)
	Delete(ctx context.Context, id string) error
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteMatching(ctx context.Context, filter ReportFilter) (int64, error)
}

// SaleRepository defines the interface for sale persistence
type SaleRepository interface {
	Create(ctx context.Context, sale *Sale) error
	FindByID(ctx context.Context, id string) (*Sale, error)
	List(ctx context.Context, query SaleQuery) ([]*Sale, int64, error)

	// Update replaces the stored sale if its status is still expected,
	// otherwise it fails with ErrInvalidState
	Update(ctx context.Context, sale *Sale, expected SaleStatus) error
	Delete(ctx context.Context, id string) error

	// ClaimRelease removes tileID from the sale's pending releases and
	// reports whether this call removed it
	ClaimRelease(ctx context.Context, saleID, tileID string) (bool, error)
	// RequeueRelease returns a claimed tile to the pending releases
	RequeueRelease(ctx context.Context, saleID, tileID string) error
}

// ShopRepository defines the interface for shop persistence
type ShopRepository interface {
	FindByID(ctx context.Context, id string) (*Shop, error)
	Save(ctx context.Context, shop *Shop) error
	UpdateSettings(ctx context.Context, id string, settings ShopSettings) (*Shop, error)
}

// CounterRepository hands out increasing sequence numbers per key
type CounterRepository interface {
	Next(ctx context.Context, key string) (int64, error)
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	PublishAll(ctx context.Context, events []DomainEvent) error
}
