package domain

import "time"

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// StockUpdatedEvent is published after every change to a tile's stock
type StockUpdatedEvent struct {
	TileID            string          `json:"tileId"`
	ShopID            string          `json:"shopId"`
	SKU               string          `json:"sku"`
	Quantity          int             `json:"quantity"`
	ReservedQuantity  int             `json:"reservedQuantity"`
	AvailableQuantity int             `json:"availableQuantity"`
	Change            int             `json:"change"`
	Reason            TransactionType `json:"reason,omitempty"`
	ReferenceNumber   string          `json:"referenceNumber,omitempty"`
	UserID            string          `json:"userId,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (e *StockUpdatedEvent) EventType() string     { return "tilestock.stock.updated" }
func (e *StockUpdatedEvent) OccurredAt() time.Time { return e.UpdatedAt }

// NewStockUpdatedEvent snapshots the tile after a stock change. reason is
// empty for changes that write no transaction, such as delivery.
func NewStockUpdatedEvent(tile *Tile, change int, reason TransactionType, reference, userID string) *StockUpdatedEvent {
	return &StockUpdatedEvent{
		TileID:            tile.ID,
		ShopID:            tile.ShopID,
		SKU:               tile.SKU,
		Quantity:          tile.Quantity,
		ReservedQuantity:  tile.ReservedQuantity,
		AvailableQuantity: tile.Available(),
		Change:            change,
		Reason:            reason,
		ReferenceNumber:   reference,
		UserID:            userID,
		UpdatedAt:         time.Now().UTC(),
	}
}

// SaleAction names a sale lifecycle step
type SaleAction string

const (
	SaleActionCreated   SaleAction = "created"
	SaleActionUpdated   SaleAction = "updated"
	SaleActionCancelled SaleAction = "cancelled"
	SaleActionDelivered SaleAction = "delivered"
)

// SaleEvent is published for every sale lifecycle step and carries the
// sale as it was after the step
type SaleEvent struct {
	Action    SaleAction `json:"type"`
	SaleID    string     `json:"saleId"`
	ShopID    string     `json:"shopId"`
	UserID    string     `json:"userId,omitempty"`
	Data      Sale       `json:"data"`
	Timestamp time.Time  `json:"timestamp"`
}

func (e *SaleEvent) EventType() string     { return "tilestock.sale." + string(e.Action) }
func (e *SaleEvent) OccurredAt() time.Time { return e.Timestamp }

// NewSaleEvent snapshots sale for action
func NewSaleEvent(action SaleAction, sale *Sale, userID string) *SaleEvent {
	data := *sale
	data.Items = append([]SaleItem(nil), sale.Items...)
	data.DomainEvents = nil
	return &SaleEvent{
		Action:    action,
		SaleID:    sale.ID,
		ShopID:    sale.ShopID,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
