package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilestock/stock-service/internal/domain"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
)

func intPtr(v int) *int { return &v }

func TestAddStock_PacketsAndPieces(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 0)

	result, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{
		TileID:  tile.ID,
		Packets: 3,
		Pieces:  5,
	})
	require.NoError(t, err)

	assert.Equal(t, 41, result.Tile.Quantity)
	assert.Equal(t, 3, result.Tile.Packets)
	assert.Equal(t, 5, result.Tile.LoosePieces)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, string(domain.TransactionStockIn), result.Transaction.TransactionType)
	assert.Equal(t, 41, result.Transaction.Quantity)
	assert.Equal(t, 3, result.Transaction.Packets)
	assert.Equal(t, 5, result.Transaction.Pieces)
	assert.Equal(t, "staff-1", result.Transaction.PerformedBy)

	assert.Equal(t, 41, env.tiles.get(t, tile.ID).Quantity)
	env.requireLedgerBalanced(t, tile.ID)
	assert.Contains(t, env.publisher.types(), "tilestock.stock.updated")
}

func TestAddStock_NewItemsPerPacketAppliesToThisAddition(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Granite Black", 12, 0)

	result, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{
		TileID:            tile.ID,
		Packets:           2,
		Pieces:            1,
		NewItemsPerPacket: intPtr(10),
	})
	require.NoError(t, err)

	assert.Equal(t, 21, result.Tile.Quantity)
	assert.Equal(t, 10, result.Tile.ItemsPerPacket)
	assert.Equal(t, 10, env.tiles.get(t, tile.ID).ItemsPerPacket)
	env.requireLedgerBalanced(t, tile.ID)
}

func TestAddStock_RejectsEmptyMovement(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 0)

	_, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID})
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidQuantity, appErr.Code)
	assert.Equal(t, "At least packets or pieces must be greater than 0", appErr.Message)
	assert.Empty(t, env.txns.forTile(tile.ID))
}

func TestAddStock_InvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		cmd  AddStockCommand
	}{
		{"negative packets", AddStockCommand{Packets: -1, Pieces: 3}},
		{"negative pieces", AddStockCommand{Packets: 1, Pieces: -3}},
		{"zero packet size", AddStockCommand{Packets: 1, NewItemsPerPacket: intPtr(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tile := env.createTile(t, "Marble White", 12, 5)
			tt.cmd.TileID = tile.ID

			_, err := env.stock.AddStock(context.Background(), shopStaff, tt.cmd)
			assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidQuantity))
			assert.Equal(t, 5, env.tiles.get(t, tile.ID).Quantity)
		})
	}
}

func TestAddStock_TileOfOtherShop(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 5)

	_, err := env.stock.AddStock(context.Background(), otherStaff, AddStockCommand{TileID: tile.ID, Pieces: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTileNotFound))

	_, err = env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: "missing", Pieces: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeTileNotFound))
}

func TestAddStock_RetriesStalePacketSize(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 0)

	// an admin changes the packet size between the read and the write
	first := true
	env.tiles.applyHook = func(update domain.StockUpdate) error {
		if first {
			first = false
			stored := env.tiles.tiles[update.TileID]
			stored.ItemsPerPacket = 6
		}
		return nil
	}

	result, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID, Packets: 2})
	require.NoError(t, err)

	assert.Equal(t, 12, result.Tile.Quantity, "total must use the packet size current at write time")
	assert.Equal(t, 12, result.Transaction.Quantity)
	env.requireLedgerBalanced(t, tile.ID)
}

func TestAddStock_RevertsWhenLedgerWriteFails(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 5)
	env.txns.saveErr = errStoreDown

	_, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID, Packets: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))

	assert.Equal(t, 5, env.tiles.get(t, tile.ID).Quantity)
	env.txns.saveErr = nil
	env.requireLedgerBalanced(t, tile.ID)
}

func TestAddStock_RevertRestoresPacketSize(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 5)
	env.txns.saveErr = errStoreDown

	_, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID, Packets: 1, NewItemsPerPacket: intPtr(10)})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 5, stored.Quantity)
	assert.Equal(t, 12, stored.ItemsPerPacket)
}

func TestAddStock_RevertKeepsPiecesReservedMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 0)
	env.txns.saveErr = errStoreDown

	// a sale reserves most of the new pieces before the revert runs
	env.tiles.applyHook = func(update domain.StockUpdate) error {
		if update.QuantityDelta < 0 {
			env.tiles.tiles[update.TileID].ReservedQuantity = 8
		}
		return nil
	}

	_, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID, Pieces: 10})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 10, stored.Quantity)
	assert.Equal(t, 8, stored.ReservedQuantity)
	assert.GreaterOrEqual(t, stored.Quantity, stored.ReservedQuantity)
}

func TestRemoveStock(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 41)

	result, err := env.stock.RemoveStock(context.Background(), shopStaff, RemoveStockCommand{
		TileID:          tile.ID,
		Packets:         2,
		Pieces:          3,
		ReferenceNumber: "DMG-7",
		Notes:           "broken in transit",
	})
	require.NoError(t, err)

	assert.Equal(t, 14, result.Tile.Quantity)
	assert.Equal(t, string(domain.TransactionStockOut), result.Transaction.TransactionType)
	assert.Equal(t, -27, result.Transaction.Quantity)
	assert.Equal(t, "DMG-7", result.Transaction.ReferenceNumber)
	env.requireLedgerBalanced(t, tile.ID)
}

func TestRemoveStock_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 41)

	_, err := env.stock.RemoveStock(context.Background(), shopStaff, RemoveStockCommand{TileID: tile.ID, Packets: 4})
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInsufficientStock, appErr.Code)
	assert.Contains(t, appErr.Message, "Available: 41 pieces, Requested: 48 pieces")
	assert.Equal(t, "41", appErr.Details["available"])
	assert.Equal(t, "48", appErr.Details["requested"])

	assert.Equal(t, 41, env.tiles.get(t, tile.ID).Quantity)
	assert.Len(t, env.txns.forTile(tile.ID), 1, "only the initial stock_in")
}

func TestRemoveStock_CannotTakeReservedPieces(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 8, UnitPrice: 100})

	_, err := env.stock.RemoveStock(context.Background(), shopStaff, RemoveStockCommand{TileID: tile.ID, Pieces: 3})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock))

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 10, stored.Quantity)
	assert.Equal(t, 8, stored.ReservedQuantity)
}

func TestRemoveStock_NeverGoesNegative(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 5, 12)

	moves := []struct {
		add     bool
		packets int
		pieces  int
	}{
		{false, 2, 0},
		{false, 1, 0},
		{true, 0, 4},
		{false, 0, 7},
		{false, 1, 1},
		{true, 3, 0},
		{false, 4, 0},
	}
	for _, move := range moves {
		if move.add {
			_, _ = env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID, Packets: move.packets, Pieces: move.pieces})
		} else {
			_, _ = env.stock.RemoveStock(context.Background(), shopStaff, RemoveStockCommand{TileID: tile.ID, Packets: move.packets, Pieces: move.pieces})
		}
		assert.GreaterOrEqual(t, env.tiles.get(t, tile.ID).Quantity, 0)
		env.requireLedgerBalanced(t, tile.ID)
	}
}

func TestSetQuantity_AuditsDelta(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 20)

	result, err := env.stock.SetQuantity(context.Background(), shopAdmin, SetQuantityCommand{
		TileID:   tile.ID,
		Quantity: 15,
		Notes:    "stock count",
	})
	require.NoError(t, err)

	assert.Equal(t, 15, result.Tile.Quantity)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, string(domain.TransactionAdjustment), result.Transaction.TransactionType)
	assert.Equal(t, -5, result.Transaction.Quantity)
	env.requireLedgerBalanced(t, tile.ID)
}

func TestSetQuantity_NoChangeWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 20)

	result, err := env.stock.SetQuantity(context.Background(), shopAdmin, SetQuantityCommand{TileID: tile.ID, Quantity: 20})
	require.NoError(t, err)

	assert.Nil(t, result.Transaction)
	assert.Len(t, env.txns.forTile(tile.ID), 1)
}

func TestSetQuantity_Rejections(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 6, UnitPrice: 100})

	tests := []struct {
		name   string
		caller domain.Caller
		qty    int
		code   string
	}{
		{"staff", shopStaff, 5, apperrors.CodeForbidden},
		{"negative", shopAdmin, -1, apperrors.CodeInvalidQuantity},
		{"below reserved", shopAdmin, 5, apperrors.CodeInvalidQuantity},
		{"other shop", domain.Caller{UserID: "a2", Role: domain.RoleShopAdmin, ShopID: "shop-2"}, 5, apperrors.CodeTileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.stock.SetQuantity(context.Background(), tt.caller, SetQuantityCommand{TileID: tile.ID, Quantity: tt.qty})
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Equal(t, 10, env.tiles.get(t, tile.ID).Quantity)
		})
	}
}

func TestStockEvents_PublishFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 12, 0)
	env.publisher.err = errStoreDown

	result, err := env.stock.AddStock(context.Background(), shopStaff, AddStockCommand{TileID: tile.ID, Pieces: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Tile.Quantity)
}
