package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tilestock/stock-service/internal/domain"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
	"github.com/tilestock/stock-service/pkg/resilience"
)

// packetSizeRetry re-reads a tile whose packet size changed under a pending
// stock change
var packetSizeRetry = &resilience.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  5 * time.Millisecond,
	MaxDelay:      50 * time.Millisecond,
	BackoffFactor: 2,
	RetryableErrors: func(err error) bool {
		return errors.Is(err, domain.ErrStalePacketSize)
	},
}

// StockService is the stock ledger: every change to a tile's on-hand pieces
// goes through it and leaves exactly one audit transaction
type StockService struct {
	tiles     domain.TileRepository
	txns      domain.StockTransactionRepository
	publisher domain.EventPublisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewStockService creates a new StockService
func NewStockService(
	tiles domain.TileRepository,
	txns domain.StockTransactionRepository,
	publisher domain.EventPublisher,
	logger *logging.Logger,
	m *metrics.Metrics,
) *StockService {
	return &StockService{
		tiles:     tiles,
		txns:      txns,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// AddStock adds packets and pieces to a tile. A new packet size, when given,
// is stored first and applies to this addition.
func (s *StockService) AddStock(ctx context.Context, caller domain.Caller, cmd AddStockCommand) (*StockMovementDTO, error) {
	if err := domain.ValidatePacketsPieces(cmd.Packets, cmd.Pieces); err != nil {
		s.metrics.RecordStockRejection("add_stock", "invalid_quantity")
		return nil, toAppError("add stock", err)
	}
	if cmd.NewItemsPerPacket != nil {
		if err := domain.ValidateItemsPerPacket(*cmd.NewItemsPerPacket); err != nil {
			s.metrics.RecordStockRejection("add_stock", "invalid_quantity")
			return nil, toAppError("add stock", err)
		}
	}

	var updated *domain.Tile
	var total, previousItemsPerPacket int
	err := resilience.Retry(ctx, packetSizeRetry, func() error {
		tile, err := loadTile(ctx, s.tiles, caller, cmd.TileID)
		if err != nil {
			return err
		}

		update := domain.AddStockUpdate(tile.ID, tile.ShopID, 0, tile.ItemsPerPacket, 0)
		previousItemsPerPacket = tile.ItemsPerPacket
		itemsPerPacket := tile.ItemsPerPacket
		if cmd.NewItemsPerPacket != nil {
			itemsPerPacket = *cmd.NewItemsPerPacket
			update.ExpectItemsPerPacket = 0
			update.SetItemsPerPacket = itemsPerPacket
		}
		total = domain.ToPieces(cmd.Packets, cmd.Pieces, itemsPerPacket)
		update.QuantityDelta = total

		updated, err = s.tiles.ApplyStockUpdate(ctx, update)
		return err
	})
	if err != nil {
		return nil, s.reject(ctx, "add_stock", cmd.TileID, err)
	}

	txn := domain.NewStockTransaction(updated, domain.TransactionStockIn, total, caller.UserID).
		WithPacketsPieces(cmd.Packets, cmd.Pieces).
		WithReference(cmd.ReferenceNumber, cmd.Notes)
	// the undo must not take pieces a sale reserved in the meantime
	undo := domain.StockUpdate{TileID: updated.ID, QuantityDelta: -total, MinAvailable: total, ClampAtZero: true}
	if updated.ItemsPerPacket != previousItemsPerPacket {
		undo.ExpectItemsPerPacket = updated.ItemsPerPacket
		undo.SetItemsPerPacket = previousItemsPerPacket
	}
	if err := s.recordTransaction(ctx, txn, undo); err != nil {
		return nil, err
	}

	s.completed(ctx, caller, "stock.add", updated, txn)
	return &StockMovementDTO{Tile: ToTileDTO(updated), Transaction: ToStockTransactionDTO(txn)}, nil
}

// RemoveStock removes packets and pieces from a tile using its current
// packet size. Reserved pieces cannot be removed.
func (s *StockService) RemoveStock(ctx context.Context, caller domain.Caller, cmd RemoveStockCommand) (*StockMovementDTO, error) {
	if err := domain.ValidatePacketsPieces(cmd.Packets, cmd.Pieces); err != nil {
		s.metrics.RecordStockRejection("remove_stock", "invalid_quantity")
		return nil, toAppError("remove stock", err)
	}

	var updated *domain.Tile
	var total int
	err := resilience.Retry(ctx, packetSizeRetry, func() error {
		tile, err := loadTile(ctx, s.tiles, caller, cmd.TileID)
		if err != nil {
			return err
		}

		total = domain.ToPieces(cmd.Packets, cmd.Pieces, tile.ItemsPerPacket)
		updated, err = s.tiles.ApplyStockUpdate(ctx, domain.RemoveStockUpdate(tile.ID, tile.ShopID, total, tile.ItemsPerPacket))
		return err
	})
	if err != nil {
		return nil, s.reject(ctx, "remove_stock", cmd.TileID, err)
	}

	txn := domain.NewStockTransaction(updated, domain.TransactionStockOut, total, caller.UserID).
		WithPacketsPieces(cmd.Packets, cmd.Pieces).
		WithReference(cmd.ReferenceNumber, cmd.Notes)
	if err := s.recordTransaction(ctx, txn, domain.StockUpdate{TileID: updated.ID, QuantityDelta: total}); err != nil {
		return nil, err
	}

	s.completed(ctx, caller, "stock.remove", updated, txn)
	return &StockMovementDTO{Tile: ToTileDTO(updated), Transaction: ToStockTransactionDTO(txn)}, nil
}

// SetQuantity overwrites a tile's on-hand pieces and records the difference
// as an adjustment. Admin only.
func (s *StockService) SetQuantity(ctx context.Context, caller domain.Caller, cmd SetQuantityCommand) (*StockMovementDTO, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, toAppError("set quantity", err)
	}
	if cmd.Quantity < 0 {
		s.metrics.RecordStockRejection("set_quantity", "invalid_quantity")
		return nil, toAppError("set quantity", &domain.QuantityError{Field: "quantity", Value: cmd.Quantity, Reason: "must not be negative"})
	}

	tile, err := loadTile(ctx, s.tiles, caller, cmd.TileID)
	if err != nil {
		return nil, s.reject(ctx, "set_quantity", cmd.TileID, err)
	}

	previous, err := s.tiles.SetQuantity(ctx, tile.ID, tile.ShopID, cmd.Quantity)
	if err != nil {
		return nil, s.reject(ctx, "set_quantity", cmd.TileID, err)
	}

	updated := *previous
	updated.Quantity = cmd.Quantity
	updated.UpdatedAt = time.Now().UTC()

	delta := cmd.Quantity - previous.Quantity
	if delta == 0 {
		return &StockMovementDTO{Tile: ToTileDTO(&updated)}, nil
	}

	txn := domain.NewStockTransaction(&updated, domain.TransactionAdjustment, delta, caller.UserID).
		WithReference("", cmd.Notes)
	if err := s.recordTransaction(ctx, txn, domain.StockUpdate{TileID: updated.ID, QuantityDelta: -delta, ClampAtZero: true}); err != nil {
		return nil, err
	}

	s.completed(ctx, caller, "stock.set", &updated, txn)
	return &StockMovementDTO{Tile: ToTileDTO(&updated), Transaction: ToStockTransactionDTO(txn)}, nil
}

// recordTransaction saves txn and reverts the stock change with undo when
// the audit record cannot be written
func (s *StockService) recordTransaction(ctx context.Context, txn *domain.StockTransaction, undo domain.StockUpdate) error {
	err := s.txns.Save(ctx, txn)
	if err == nil {
		return nil
	}

	s.logger.WithContext(ctx).Error("Failed to save stock transaction", "tileId", txn.TileID, "type", txn.Type, "error", err)
	_, undoErr := s.tiles.ApplyStockUpdate(context.WithoutCancel(ctx), undo)
	s.metrics.RecordCompensation("stock_ledger", undoErr == nil)
	if undoErr != nil {
		s.logger.WithContext(ctx).Error("Failed to revert stock change", "tileId", txn.TileID, "error", undoErr)
	}
	return apperrors.ErrPersistence("record stock transaction", err)
}

func (s *StockService) reject(ctx context.Context, operation, tileID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		s.metrics.RecordStockRejection(operation, "insufficient_stock")
	case errors.Is(err, domain.ErrTileNotFound):
		s.metrics.RecordStockRejection(operation, "tile_not_found")
	case errors.Is(err, domain.ErrInvalidQuantity):
		s.metrics.RecordStockRejection(operation, "invalid_quantity")
	case !isDomainError(err):
		s.logger.WithContext(ctx).Error("Stock update failed", "operation", operation, "tileId", tileID, "error", err)
	}
	return toAppError(fmt.Sprintf("update stock of tile %s", tileID), err)
}

func (s *StockService) completed(ctx context.Context, caller domain.Caller, action string, tile *domain.Tile, txn *domain.StockTransaction) {
	s.metrics.RecordStockMovement(string(txn.Type), txn.Quantity)
	s.logger.WithContext(ctx).Info("Stock updated",
		"tileId", tile.ID,
		"shopId", tile.ShopID,
		"type", txn.Type,
		"change", txn.Quantity,
		"quantity", tile.Quantity,
		"available", tile.Available(),
	)
	s.logger.Audit(ctx, action, "tile", tile.ID, caller.UserID, map[string]any{
		"transactionId": txn.ID,
		"change":        txn.Quantity,
		"packets":       txn.Packets,
		"pieces":        txn.Pieces,
	})
	publishEvents(ctx, s.publisher, s.logger,
		domain.NewStockUpdatedEvent(tile, txn.Quantity, txn.Type, txn.ReferenceNumber, caller.UserID))
}

// loadTile reads a tile the caller may access. Tiles of other shops are
// reported as missing.
func loadTile(ctx context.Context, tiles domain.TileRepository, caller domain.Caller, id string) (*domain.Tile, error) {
	tile, err := tiles.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tile == nil || !caller.CanAccess(tile.ShopID) {
		return nil, domain.ErrTileNotFound
	}
	return tile, nil
}
