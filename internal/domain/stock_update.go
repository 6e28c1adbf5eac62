package domain

import (
	"errors"
	"time"
)

// ErrStalePacketSize is returned when a tile's packet size changed between
// reading it and applying a change computed from it
var ErrStalePacketSize = errors.New("tile packet size changed concurrently")

// StockUpdate is one atomic change to a tile's stock counters. Repositories
// apply it as a single conditional write.
type StockUpdate struct {
	TileID string
	ShopID string // when set, the tile must belong to this shop

	QuantityDelta int
	ReservedDelta int

	// MinAvailable requires at least this many available pieces before the
	// change is applied
	MinAvailable int

	// ExpectItemsPerPacket guards against a concurrent packet size change
	ExpectItemsPerPacket int
	// SetItemsPerPacket replaces the packet size when positive
	SetItemsPerPacket int

	RequireActive bool
	// ClampAtZero lets negative deltas stop at zero instead of being applied
	// in full
	ClampAtZero bool
}

// ApplyTo applies the update to an in-memory tile, with the same rules a
// repository enforces
func (u StockUpdate) ApplyTo(tile *Tile) error {
	if tile == nil || (u.ShopID != "" && tile.ShopID != u.ShopID) || (u.RequireActive && !tile.IsActive) {
		return ErrTileNotFound
	}
	if u.ExpectItemsPerPacket > 0 && tile.ItemsPerPacket != u.ExpectItemsPerPacket {
		return ErrStalePacketSize
	}
	if u.MinAvailable > 0 {
		if err := tile.CheckAvailable(u.MinAvailable); err != nil {
			return err
		}
	}

	quantity := tile.Quantity + u.QuantityDelta
	reserved := tile.ReservedQuantity + u.ReservedDelta
	if u.ClampAtZero {
		quantity = max(quantity, 0)
		reserved = max(reserved, 0)
	}

	tile.Quantity = quantity
	tile.ReservedQuantity = reserved
	if u.SetItemsPerPacket > 0 {
		tile.ItemsPerPacket = u.SetItemsPerPacket
	}
	tile.UpdatedAt = time.Now().UTC()
	return nil
}

// AddStockUpdate increases on-hand pieces
func AddStockUpdate(tileID, shopID string, pieces, expectItemsPerPacket, setItemsPerPacket int) StockUpdate {
	return StockUpdate{
		TileID:               tileID,
		ShopID:               shopID,
		QuantityDelta:        pieces,
		ExpectItemsPerPacket: expectItemsPerPacket,
		SetItemsPerPacket:    setItemsPerPacket,
	}
}

// RemoveStockUpdate decreases on-hand pieces if enough are available
func RemoveStockUpdate(tileID, shopID string, pieces, expectItemsPerPacket int) StockUpdate {
	return StockUpdate{
		TileID:               tileID,
		ShopID:               shopID,
		QuantityDelta:        -pieces,
		MinAvailable:         pieces,
		ExpectItemsPerPacket: expectItemsPerPacket,
	}
}

// ReserveUpdate holds pieces for a sale if enough are available
func ReserveUpdate(tileID, shopID string, pieces int) StockUpdate {
	return StockUpdate{
		TileID:        tileID,
		ShopID:        shopID,
		ReservedDelta: pieces,
		MinAvailable:  pieces,
		RequireActive: true,
	}
}

// ReleaseUpdate returns reserved pieces to availability
func ReleaseUpdate(tileID string, pieces int) StockUpdate {
	return StockUpdate{
		TileID:        tileID,
		ReservedDelta: -pieces,
		ClampAtZero:   true,
	}
}

// DeliverUpdate removes delivered pieces from both on-hand and reserved
func DeliverUpdate(tileID string, pieces int) StockUpdate {
	return StockUpdate{
		TileID:        tileID,
		QuantityDelta: -pieces,
		ReservedDelta: -pieces,
		ClampAtZero:   true,
	}
}
