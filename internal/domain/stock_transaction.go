package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a stock movement
type TransactionType string

const (
	TransactionStockIn    TransactionType = "stock_in"
	TransactionStockOut   TransactionType = "stock_out"
	TransactionAdjustment TransactionType = "adjustment"
	TransactionSale       TransactionType = "sale"
	TransactionReturn     TransactionType = "return"
)

// IsValid checks if the transaction type is known
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionStockIn, TransactionStockOut, TransactionAdjustment, TransactionSale, TransactionReturn:
		return true
	}
	return false
}

// Sign returns the direction in which the type moves available stock.
// Adjustments carry their own sign.
func (t TransactionType) Sign() int {
	switch t {
	case TransactionStockOut, TransactionSale:
		return -1
	default:
		return 1
	}
}

// StockTransaction is an append-only audit record of one stock movement.
// Quantity is signed: removals and sales are negative, so the sum over a
// tile's transactions equals its available pieces.
type StockTransaction struct {
	ID              string          `bson:"_id"`
	TileID          string          `bson:"tileId"`
	ShopID          string          `bson:"shopId,omitempty"`
	Type            TransactionType `bson:"transactionType"`
	Quantity        int             `bson:"quantity"`
	Packets         int             `bson:"packets"`
	Pieces          int             `bson:"pieces"`
	UnitPrice       int64           `bson:"unitPrice"`
	TotalAmount     int64           `bson:"totalAmount"`
	ReferenceNumber string          `bson:"referenceNumber,omitempty"`
	Notes           string          `bson:"notes,omitempty"`
	PerformedBy     string          `bson:"performedBy,omitempty"`
	CreatedAt       time.Time       `bson:"createdAt"`
}

// NewStockTransaction records a movement of pieces. pieces is unsigned and
// the type decides the sign, except for adjustments where it is used as is.
func NewStockTransaction(tile *Tile, txnType TransactionType, pieces int, performedBy string) *StockTransaction {
	quantity := pieces
	if txnType != TransactionAdjustment {
		if quantity < 0 {
			quantity = -quantity
		}
		quantity *= txnType.Sign()
	}

	packets, loose := ToPacketsAndLoose(abs(quantity), tile.ItemsPerPacket)
	return &StockTransaction{
		ID:          uuid.New().String(),
		TileID:      tile.ID,
		ShopID:      tile.ShopID,
		Type:        txnType,
		Quantity:    quantity,
		Packets:     packets,
		Pieces:      loose,
		UnitPrice:   tile.Price,
		TotalAmount: tile.Price * int64(abs(quantity)),
		PerformedBy: performedBy,
		CreatedAt:   time.Now().UTC(),
	}
}

// WithPacketsPieces records the packet/piece split the caller entered
func (t *StockTransaction) WithPacketsPieces(packets, pieces int) *StockTransaction {
	t.Packets = packets
	t.Pieces = pieces
	return t
}

// WithReference sets the reference number and notes
func (t *StockTransaction) WithReference(reference, notes string) *StockTransaction {
	t.ReferenceNumber = reference
	t.Notes = notes
	return t
}

// WithUnitPrice overrides the unit price, e.g. with a sale line price
func (t *StockTransaction) WithUnitPrice(unitPrice int64) *StockTransaction {
	t.UnitPrice = unitPrice
	t.TotalAmount = unitPrice * int64(abs(t.Quantity))
	return t
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
