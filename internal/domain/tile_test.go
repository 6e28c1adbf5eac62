package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTile(t *testing.T, quantity, reserved int) *Tile {
	t.Helper()
	tile, err := NewTile("shop-1", "TILE-000001", "Marble White", 12, quantity, 250, "user-1")
	require.NoError(t, err)
	tile.ReservedQuantity = reserved
	return tile
}

func TestNewTile(t *testing.T) {
	tile, err := NewTile("shop-1", "", "  Marble White ", 12, 41, 0, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, tile.ID)
	assert.Equal(t, "Marble White", tile.Name)
	assert.Equal(t, 41, tile.Quantity)
	assert.Equal(t, 41, tile.Available())
	assert.True(t, tile.IsActive)
	assert.NotNil(t, tile.Images)

	tests := []struct {
		name           string
		tileName       string
		itemsPerPacket int
		quantity       int
		price          int64
		expectError    error
	}{
		{name: "Missing name", tileName: " ", itemsPerPacket: 1, expectError: ErrInvalidInput},
		{name: "Zero packet size", tileName: "A", itemsPerPacket: 0, expectError: ErrInvalidQuantity},
		{name: "Negative quantity", tileName: "A", itemsPerPacket: 1, quantity: -1, expectError: ErrInvalidQuantity},
		{name: "Negative price", tileName: "A", itemsPerPacket: 1, price: -5, expectError: ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTile("shop-1", "", tt.tileName, tt.itemsPerPacket, tt.quantity, tt.price, "")
			assert.ErrorIs(t, err, tt.expectError)
		})
	}
}

func TestTileAvailable(t *testing.T) {
	tile := newTestTile(t, 41, 10)
	assert.Equal(t, 31, tile.Available())

	packets, pieces := tile.Packets()
	assert.Equal(t, 2, packets)
	assert.Equal(t, 7, pieces)

	tile.ReservedQuantity = 50
	assert.Zero(t, tile.Available())
}

func TestTileCheckAvailable(t *testing.T) {
	tile := newTestTile(t, 41, 0)
	assert.NoError(t, tile.CheckAvailable(41))

	err := tile.CheckAvailable(48)
	require.Error(t, err)
	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, 41, ise.Available)
	assert.Equal(t, 48, ise.Requested)
	assert.Equal(t, "TILE-000001", ise.SKU)
}

func TestTileApply(t *testing.T) {
	tile := newTestTile(t, 10, 0)
	name := "Granite Grey"
	ipp := 8
	inactive := false

	err := tile.Apply(TileChanges{Name: &name, ItemsPerPacket: &ipp, IsActive: &inactive, Images: []string{"https://cdn/a.jpg", ""}})
	require.NoError(t, err)
	assert.Equal(t, "Granite Grey", tile.Name)
	assert.Equal(t, 8, tile.ItemsPerPacket)
	assert.False(t, tile.IsActive)
	require.Len(t, tile.Images, 1)
	assert.Equal(t, "https://cdn/a.jpg", tile.Images[0].URL)
	assert.Equal(t, 10, tile.Quantity)

	bad := 0
	assert.ErrorIs(t, tile.Apply(TileChanges{ItemsPerPacket: &bad}), ErrInvalidQuantity)
	assert.Equal(t, 8, tile.ItemsPerPacket)
}
