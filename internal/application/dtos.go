package application

import (
	"time"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/api"
)

// TileDTO represents a tile in responses
type TileDTO struct {
	ID                string         `json:"id"`
	SKU               string         `json:"sku"`
	ShopID            string         `json:"shopId"`
	Name              string         `json:"name"`
	Price             int64          `json:"price"`
	Quantity          int            `json:"quantity"`
	ReservedQuantity  int            `json:"reservedQuantity"`
	AvailableQuantity int            `json:"availableQuantity"`
	ItemsPerPacket    int            `json:"itemsPerPacket"`
	Packets           int            `json:"packets"`
	LoosePieces       int            `json:"loosePieces"`
	MinimumThreshold  int            `json:"minimumThreshold,omitempty"`
	Images            []domain.Image `json:"images"`
	IsActive          bool           `json:"isActive"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// StockTransactionDTO represents an audit record in responses
type StockTransactionDTO struct {
	ID              string    `json:"id"`
	TileID          string    `json:"tileId"`
	ShopID          string    `json:"shopId,omitempty"`
	TransactionType string    `json:"transactionType"`
	Quantity        int       `json:"quantity"`
	Packets         int       `json:"packets"`
	Pieces          int       `json:"pieces"`
	UnitPrice       int64     `json:"unitPrice"`
	TotalAmount     int64     `json:"totalAmount"`
	ReferenceNumber string    `json:"referenceNumber,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	PerformedBy     string    `json:"performedBy,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// StockMovementDTO is the result of a stock ledger operation
type StockMovementDTO struct {
	Tile        *TileDTO             `json:"tile"`
	Transaction *StockTransactionDTO `json:"transaction,omitempty"`
}

// SaleItemDTO represents a sale line in responses
type SaleItemDTO struct {
	TileID     string `json:"tileId"`
	TileName   string `json:"tileName,omitempty"`
	SKU        string `json:"sku,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	TotalPrice int64  `json:"totalPrice"`
}

// SaleDTO represents a sale in responses
type SaleDTO struct {
	ID            string          `json:"id"`
	SaleNumber    string          `json:"saleNumber"`
	ShopID        string          `json:"shopId"`
	Customer      domain.Customer `json:"customer"`
	Items         []SaleItemDTO   `json:"items"`
	Subtotal      int64           `json:"subtotal"`
	Discount      int64           `json:"discount"`
	Tax           int64           `json:"tax"`
	TotalAmount   int64           `json:"totalAmount"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentStatus string          `json:"paymentStatus"`
	Status        string          `json:"status"`
	SoldBy        string          `json:"soldBy"`
	DeliveredAt   *time.Time      `json:"deliveredAt,omitempty"`
	CancelledAt   *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`

	// PendingRelease lists tiles whose stock a retried cancel or delivery
	// still has to release
	PendingRelease []string `json:"pendingRelease,omitempty"`
}

// LowStockDTO lists tiles needing replenishment
type LowStockDTO struct {
	ShopID     string     `json:"shopId"`
	Threshold  int        `json:"threshold"`
	Critical   []*TileDTO `json:"critical"`
	OutOfStock []*TileDTO `json:"outOfStock"`
}

// ReportDTO is a page of stock transactions with totals over the whole filter
type ReportDTO struct {
	Transactions []*StockTransactionDTO `json:"transactions"`
	Total        int64                  `json:"total"`
	Page         int64                  `json:"page"`
	Pages        int64                  `json:"pages"`
	Stats        domain.ReportStats     `json:"stats"`
}

// ClearReportDTO reports how many transactions a purge removed
type ClearReportDTO struct {
	Deleted int64 `json:"deleted"`
}

// ShopDTO represents a shop in responses
type ShopDTO struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	LowStockThreshold int       `json:"lowStockThreshold"`
	IsActive          bool      `json:"isActive"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// TileListDTO is a page of tiles
type TileListDTO = api.PageResponse[*TileDTO]

// SaleListDTO is a page of sales
type SaleListDTO = api.PageResponse[*SaleDTO]
