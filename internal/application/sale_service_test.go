package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tilestock/stock-service/internal/domain"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
)

func strPtr(s string) *string { return &s }

func TestCreateSale_ReservesStock(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)

	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 10, UnitPrice: 100})

	assert.Equal(t, int64(1000), sale.Subtotal)
	assert.Equal(t, int64(1000), sale.TotalAmount)
	assert.Equal(t, string(domain.SaleStatusConfirmed), sale.Status)
	assert.Equal(t, domain.FormatSaleNumber(sale.CreatedAt, 1), sale.SaleNumber)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "Marble White", sale.Items[0].TileName)
	assert.Equal(t, tile.SKU, sale.Items[0].SKU)

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 0, stored.Available())
	assert.Equal(t, 10, stored.ReservedQuantity)
	assert.Equal(t, 10, stored.Quantity)

	txns := env.txns.forTile(tile.ID)
	require.Len(t, txns, 2)
	assert.Equal(t, domain.TransactionSale, txns[1].Type)
	assert.Equal(t, -10, txns[1].Quantity)
	assert.Equal(t, sale.SaleNumber, txns[1].ReferenceNumber)
	env.requireLedgerBalanced(t, tile.ID)

	assert.Contains(t, env.publisher.types(), "tilestock.sale.created")
}

func TestCreateSale_Totals(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTile(t, "Marble White", 1, 50)
	b := env.createTile(t, "Granite Black", 1, 50)

	sale, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal", Phone: "0300-1234567"},
		Items: []SaleItemInput{
			{TileID: a.ID, Quantity: 3, UnitPrice: 250},
			{TileID: b.ID, Quantity: 2, UnitPrice: 400},
		},
		Discount:      150,
		Tax:           80,
		PaymentMethod: "card",
		PaymentStatus: "paid",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1550), sale.Subtotal)
	assert.Equal(t, int64(1550-150+80), sale.TotalAmount)
	assert.Equal(t, "card", sale.PaymentMethod)
	assert.Equal(t, "paid", sale.PaymentStatus)
}

func TestCreateSale_SequentialNumbers(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)

	first := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 1, UnitPrice: 100})
	second := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 1, UnitPrice: 100})

	assert.NotEqual(t, first.SaleNumber, second.SaleNumber)
	assert.Equal(t, domain.FormatSaleNumber(second.CreatedAt, 2), second.SaleNumber)
}

func TestCreateSale_ValidationFailuresChangeNothing(t *testing.T) {
	tests := []struct {
		name  string
		items func(ok, inactive, foreign string) []SaleItemInput
		code  string
	}{
		{
			name:  "insufficient stock",
			items: func(ok, _, _ string) []SaleItemInput { return []SaleItemInput{{TileID: ok, Quantity: 11, UnitPrice: 1}} },
			code:  apperrors.CodeInsufficientStock,
		},
		{
			name: "duplicate lines exceed stock together",
			items: func(ok, _, _ string) []SaleItemInput {
				return []SaleItemInput{{TileID: ok, Quantity: 6, UnitPrice: 1}, {TileID: ok, Quantity: 6, UnitPrice: 1}}
			},
			code: apperrors.CodeInsufficientStock,
		},
		{
			name:  "unknown tile",
			items: func(ok, _, _ string) []SaleItemInput { return []SaleItemInput{{TileID: ok, Quantity: 1}, {TileID: "nope", Quantity: 1}} },
			code:  apperrors.CodeTileNotFound,
		},
		{
			name:  "inactive tile",
			items: func(_, inactive, _ string) []SaleItemInput { return []SaleItemInput{{TileID: inactive, Quantity: 1}} },
			code:  apperrors.CodeTileNotFound,
		},
		{
			name:  "tile of another shop",
			items: func(_, _, foreign string) []SaleItemInput { return []SaleItemInput{{TileID: foreign, Quantity: 1}} },
			code:  apperrors.CodeTileNotFound,
		},
		{
			name:  "zero quantity",
			items: func(ok, _, _ string) []SaleItemInput { return []SaleItemInput{{TileID: ok, Quantity: 0}} },
			code:  apperrors.CodeInvalidQuantity,
		},
		{
			name:  "no items",
			items: func(_, _, _ string) []SaleItemInput { return nil },
			code:  apperrors.CodeValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ok := env.createTile(t, "Marble White", 1, 10)
			inactive := env.createTile(t, "Old Stock", 1, 10)
			stored := env.tiles.get(t, inactive.ID)
			stored.IsActive = false
			env.tiles.put(stored)
			foreign, err := domain.NewTile("shop-2", "TILE-999999", "Foreign", 1, 10, 100, "x")
			require.NoError(t, err)
			env.tiles.put(foreign)

			_, err = env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
				Customer: CustomerInput{Name: "Bilal"},
				Items:    tt.items(ok.ID, inactive.ID, foreign.ID),
			})
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)

			assert.Equal(t, 0, env.sales.count())
			assert.Equal(t, 0, env.tiles.get(t, ok.ID).ReservedQuantity)
			env.requireLedgerBalanced(t, ok.ID)
		})
	}
}

func TestCreateSale_InsufficientStockNamesTile(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 4)

	_, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 10, UnitPrice: 1}},
	})
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Message, "Marble White")
	assert.Contains(t, appErr.Message, tile.SKU)
	assert.Contains(t, appErr.Message, "Available: 4 pieces, Requested: 10 pieces")
}

func TestCreateSale_GlobalCallerNeedsShop(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)

	_, err := env.sale.CreateSale(context.Background(), grandAdmin, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 1}},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError))

	sale, err := env.sale.CreateSale(context.Background(), grandAdmin, CreateSaleCommand{
		ShopID:   "shop-1",
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "shop-1", sale.ShopID)
}

func TestCreateSale_CompensatesReservationsWhenLaterLineFails(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTile(t, "Marble White", 1, 10)
	b := env.createTile(t, "Granite Black", 1, 10)
	c := env.createTile(t, "Slate Grey", 1, 10)

	// c is drained by a concurrent request after validation
	env.tiles.applyHook = func(update domain.StockUpdate) error {
		if update.TileID == c.ID && update.ReservedDelta > 0 {
			return &domain.InsufficientStockError{TileID: c.ID, Available: 0, Requested: update.ReservedDelta}
		}
		return nil
	}

	_, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items: []SaleItemInput{
			{TileID: a.ID, Quantity: 2, UnitPrice: 1},
			{TileID: b.ID, Quantity: 3, UnitPrice: 1},
			{TileID: c.ID, Quantity: 4, UnitPrice: 1},
		},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientStock))

	for _, id := range []string{a.ID, b.ID, c.ID} {
		stored := env.tiles.get(t, id)
		assert.Equal(t, 0, stored.ReservedQuantity, stored.Name)
		assert.Equal(t, 10, stored.Available(), stored.Name)
		env.requireLedgerBalanced(t, id)
	}
	assert.Equal(t, 0, env.sales.count())
}

func TestCreateSale_CompensatesWhenSaleCannotBeStored(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	env.sales.createErr = errStoreDown

	_, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 5, UnitPrice: 1}},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))
	assert.Equal(t, 0, env.tiles.get(t, tile.ID).ReservedQuantity)
}

func TestCreateSale_CompensatesWhenTransactionsCannotBeStored(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	env.txns.saveAllErr = errStoreDown

	_, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 5, UnitPrice: 1}},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))

	assert.Equal(t, 0, env.tiles.get(t, tile.ID).ReservedQuantity)
	assert.Equal(t, 0, env.sales.count())
	env.requireLedgerBalanced(t, tile.ID)
}

func TestCreateSale_LogsFailedTransactionCleanup(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	env.txns.saveAllErr = errStoreDown
	env.txns.deleteErr = errStoreDown

	var logs bytes.Buffer
	cfg := logging.DefaultConfig("stock-service-test")
	cfg.Level = logging.LevelError
	cfg.Output = &logs
	service := NewSaleService(env.tiles, env.sales, env.txns, env.counters, env.publisher, logging.New(cfg), env.metrics)

	_, err := service.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 5, UnitPrice: 1}},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))

	assert.Contains(t, logs.String(), "Failed to remove partially stored sale transactions")
	assert.Equal(t, 0, env.tiles.get(t, tile.ID).ReservedQuantity)
	assert.Equal(t, 0, env.sales.count())
}

func TestCreateSale_ConcurrentSalesNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
				Customer: CustomerInput{Name: fmt.Sprintf("customer %d", i)},
				Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 3, UnitPrice: 1}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 9, stored.ReservedQuantity)
	assert.Equal(t, 1, stored.Available())
	env.requireLedgerBalanced(t, tile.ID)
}

func TestCancelSale_RestoresStock(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 10, UnitPrice: 100})

	cancelled, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)

	assert.Equal(t, string(domain.SaleStatusCancelled), cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 10, stored.Available())
	assert.Equal(t, 0, stored.ReservedQuantity)

	txns := env.txns.forTile(tile.ID)
	require.Len(t, txns, 3)
	assert.Equal(t, domain.TransactionReturn, txns[2].Type)
	assert.Equal(t, 10, txns[2].Quantity)
	assert.Equal(t, sale.SaleNumber, txns[2].ReferenceNumber)
	env.requireLedgerBalanced(t, tile.ID)

	assert.Contains(t, env.publisher.types(), "tilestock.sale.cancelled")
}

func TestCancelSale_ReversesEveryLine(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTile(t, "Marble White", 12, 40)
	b := env.createTile(t, "Granite Black", 6, 18)
	before := map[string]*domain.Tile{a.ID: env.tiles.get(t, a.ID), b.ID: env.tiles.get(t, b.ID)}

	sale := env.createSale(t,
		SaleItemInput{TileID: a.ID, Quantity: 7, UnitPrice: 100},
		SaleItemInput{TileID: b.ID, Quantity: 18, UnitPrice: 50},
		SaleItemInput{TileID: a.ID, Quantity: 3, UnitPrice: 100},
	)
	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)

	for id, prev := range before {
		stored := env.tiles.get(t, id)
		assert.Equal(t, prev.Available(), stored.Available(), stored.Name)
		assert.Equal(t, prev.ReservedQuantity, stored.ReservedQuantity, stored.Name)
		env.requireLedgerBalanced(t, id)
	}
}

func TestCancelSale_DeliveredIsRejected(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 100})
	_, err := env.sale.DeliverSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)
	before := env.tiles.get(t, tile.ID)

	_, err = env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeInvalidState, appErr.Code)
	assert.Contains(t, appErr.Message, "cannot cancel a delivered sale")

	after := env.tiles.get(t, tile.ID)
	assert.Equal(t, before.Quantity, after.Quantity)
	assert.Equal(t, before.ReservedQuantity, after.ReservedQuantity)
}

func TestCancelSale_Twice(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 100})

	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)
	_, err = env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	assert.Equal(t, 10, env.tiles.get(t, tile.ID).Available())
	env.requireLedgerBalanced(t, tile.ID)
}

func TestCancelSale_LosesRaceToConcurrentCancel(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 100})

	// another request cancels between our read and our conditional write
	env.sales.beforeUpdate = func(s *domain.Sale) error {
		env.sales.beforeUpdate = nil
		_, err := env.sale.CancelSale(context.Background(), shopStaff, s.ID)
		return err
	}

	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 0, stored.ReservedQuantity)
	assert.Equal(t, 10, stored.Available(), "stock must be released exactly once")
	env.requireLedgerBalanced(t, tile.ID)
}

func TestCancelSale_DeletedTileIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTile(t, "Marble White", 1, 10)
	b := env.createTile(t, "Granite Black", 1, 10)
	sale := env.createSale(t,
		SaleItemInput{TileID: a.ID, Quantity: 2, UnitPrice: 1},
		SaleItemInput{TileID: b.ID, Quantity: 2, UnitPrice: 1},
	)
	require.NoError(t, env.tiles.Delete(context.Background(), b.ID))

	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)

	assert.Equal(t, 10, env.tiles.get(t, a.ID).Available())
	assert.Len(t, env.txns.forTile(b.ID), 2, "no return for a tile that no longer exists")
}

func TestCancelSale_ReportsIncompleteRelease(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 2, UnitPrice: 1})
	env.tiles.applyHook = func(domain.StockUpdate) error { return errStoreDown }

	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))

	stored, err := env.sales.FindByID(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, stored.Status)
	assert.Equal(t, []string{tile.ID}, stored.PendingRelease)
}

func TestCancelSale_RetryFinishesReleaseAfterStoreRecovers(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTile(t, "Marble White", 1, 10)
	b := env.createTile(t, "Granite Black", 1, 10)
	sale := env.createSale(t,
		SaleItemInput{TileID: a.ID, Quantity: 2, UnitPrice: 1},
		SaleItemInput{TileID: b.ID, Quantity: 3, UnitPrice: 1},
	)

	env.tiles.applyHook = func(update domain.StockUpdate) error {
		if update.TileID == b.ID {
			return errStoreDown
		}
		return nil
	}
	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))
	assert.Equal(t, 0, env.tiles.get(t, a.ID).ReservedQuantity)
	assert.Equal(t, 3, env.tiles.get(t, b.ID).ReservedQuantity)

	env.tiles.applyHook = nil
	cancelled, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, string(domain.SaleStatusCancelled), cancelled.Status)
	assert.Empty(t, cancelled.PendingRelease)

	for _, tileID := range []string{a.ID, b.ID} {
		stored := env.tiles.get(t, tileID)
		assert.Equal(t, 0, stored.ReservedQuantity)
		assert.Equal(t, 10, stored.Available())
		env.requireLedgerBalanced(t, tileID)
	}
	assert.Len(t, env.txns.forTile(a.ID), 3, "tile released on the first attempt is not returned twice")

	_, err = env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	err = env.tile.DeleteTile(context.Background(), shopAdmin, b.ID)
	assert.NoError(t, err)
}

func TestCancelSale_ClaimFailureKeepsReleasePending(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 1})

	env.sales.claimErr = errStoreDown
	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))
	assert.Equal(t, 4, env.tiles.get(t, tile.ID).ReservedQuantity)

	env.sales.claimErr = nil
	_, err = env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, env.tiles.get(t, tile.ID).ReservedQuantity)
	env.requireLedgerBalanced(t, tile.ID)
}

func TestDeliverSale_RetryFinishesReleaseAfterStoreRecovers(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 1})

	env.tiles.applyHook = func(domain.StockUpdate) error { return errStoreDown }
	_, err := env.sale.DeliverSale(context.Background(), shopStaff, sale.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))
	assert.Equal(t, 4, env.tiles.get(t, tile.ID).ReservedQuantity)

	env.tiles.applyHook = nil
	status := string(domain.SaleStatusDelivered)
	delivered, err := env.sale.UpdateSale(context.Background(), shopStaff, UpdateSaleCommand{SaleID: sale.ID, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, status, delivered.Status)

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 0, stored.ReservedQuantity)
	assert.Equal(t, 6, stored.Quantity)
	assert.Equal(t, 6, stored.Available())
	env.requireLedgerBalanced(t, tile.ID)

	_, err = env.sale.DeliverSale(context.Background(), shopStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestDeliverSale(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 10, UnitPrice: 100})

	delivered, err := env.sale.DeliverSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)

	assert.Equal(t, string(domain.SaleStatusDelivered), delivered.Status)
	require.NotNil(t, delivered.DeliveredAt)
	assert.WithinDuration(t, time.Now(), *delivered.DeliveredAt, time.Minute)

	stored := env.tiles.get(t, tile.ID)
	assert.Equal(t, 0, stored.ReservedQuantity)
	assert.Equal(t, 0, stored.Available())
	assert.Equal(t, 0, stored.Quantity)

	assert.Len(t, env.txns.forTile(tile.ID), 2, "delivery writes no transaction")
	env.requireLedgerBalanced(t, tile.ID)

	_, err = env.sale.DeliverSale(context.Background(), shopStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestUpdateSale_StatusRoutesThroughLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)

	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 100})
	updated, err := env.sale.UpdateSale(context.Background(), shopStaff, UpdateSaleCommand{
		SaleID:        sale.ID,
		Status:        strPtr("delivered"),
		PaymentStatus: strPtr("paid"),
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.SaleStatusDelivered), updated.Status)
	assert.Equal(t, "paid", updated.PaymentStatus)
	assert.NotNil(t, updated.DeliveredAt)
	assert.Equal(t, 0, env.tiles.get(t, tile.ID).ReservedQuantity, "delivery through update releases the reservation")

	other := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 2, UnitPrice: 100})
	cancelled, err := env.sale.UpdateSale(context.Background(), shopStaff, UpdateSaleCommand{
		SaleID: other.ID,
		Status: strPtr("cancelled"),
	})
	require.NoError(t, err)
	assert.Equal(t, string(domain.SaleStatusCancelled), cancelled.Status)
	env.requireLedgerBalanced(t, tile.ID)
}

func TestUpdateSale_Fields(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 100})

	discount := int64(50)
	updated, err := env.sale.UpdateSale(context.Background(), shopStaff, UpdateSaleCommand{
		SaleID:        sale.ID,
		Customer:      &CustomerInput{Name: "Ayesha Siddiqui", Phone: "0321-0000000"},
		Discount:      &discount,
		PaymentMethod: strPtr("bank_transfer"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Ayesha Siddiqui", updated.Customer.Name)
	assert.Equal(t, int64(350), updated.TotalAmount)
	assert.Equal(t, "bank_transfer", updated.PaymentMethod)
	assert.Equal(t, string(domain.SaleStatusConfirmed), updated.Status)
	assert.Contains(t, env.publisher.types(), "tilestock.sale.updated")
}

func TestUpdateSale_Rejections(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 4, UnitPrice: 100})
	_, err := env.sale.CancelSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  UpdateSaleCommand
		code string
	}{
		{"unknown status", UpdateSaleCommand{SaleID: sale.ID, Status: strPtr("lost")}, apperrors.CodeValidationError},
		{"terminal status", UpdateSaleCommand{SaleID: sale.ID, Status: strPtr("delivered")}, apperrors.CodeInvalidState},
		{"cancelled is read-only", UpdateSaleCommand{SaleID: sale.ID, PaymentStatus: strPtr("paid")}, apperrors.CodeInvalidState},
		{"missing sale", UpdateSaleCommand{SaleID: "nope"}, apperrors.CodeSaleNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.sale.UpdateSale(context.Background(), shopStaff, tt.cmd)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestGetSale_Scoped(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	sale := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 1, UnitPrice: 100})

	got, err := env.sale.GetSale(context.Background(), shopStaff, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.SaleNumber, got.SaleNumber)

	_, err = env.sale.GetSale(context.Background(), otherStaff, sale.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeSaleNotFound))

	_, err = env.sale.GetSale(context.Background(), grandAdmin, sale.ID)
	assert.NoError(t, err)
}

func TestListSales(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 100)
	for i := 0; i < 3; i++ {
		env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 1, UnitPrice: 100})
	}
	cancelled := env.createSale(t, SaleItemInput{TileID: tile.ID, Quantity: 1, UnitPrice: 100})
	_, err := env.sale.CancelSale(context.Background(), shopStaff, cancelled.ID)
	require.NoError(t, err)

	page, err := env.sale.ListSales(context.Background(), shopStaff, ListSalesQuery{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, int64(2), page.Pages)
	assert.Len(t, page.Data, 2)

	page, err = env.sale.ListSales(context.Background(), shopStaff, ListSalesQuery{Status: "cancelled"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, cancelled.ID, page.Data[0].ID)

	_, err = env.sale.ListSales(context.Background(), shopStaff, ListSalesQuery{Status: "lost"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidationError))

	_, err = env.sale.ListSales(context.Background(), shopStaff, ListSalesQuery{ShopID: "shop-2"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))
}

func TestCreateSale_CounterFailure(t *testing.T) {
	env := newTestEnv(t)
	tile := env.createTile(t, "Marble White", 1, 10)
	env.counters.err = errors.New("counter down")

	_, err := env.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Bilal"},
		Items:    []SaleItemInput{{TileID: tile.ID, Quantity: 1}},
	})
	assert.True(t, apperrors.HasCode(err, apperrors.CodePersistenceFailure))
	assert.Equal(t, 0, env.tiles.get(t, tile.ID).ReservedQuantity)
}
