package application

import (
	"context"
	"errors"
	"strings"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/api"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
)

// TileService manages the tile catalogue and low-stock evaluation
type TileService struct {
	tiles            domain.TileRepository
	txns             domain.StockTransactionRepository
	shops            domain.ShopRepository
	counters         domain.CounterRepository
	publisher        domain.EventPublisher
	logger           *logging.Logger
	metrics          *metrics.Metrics
	defaultThreshold int
}

// NewTileService creates a new TileService. defaultThreshold applies to
// shops without their own low-stock threshold.
func NewTileService(
	tiles domain.TileRepository,
	txns domain.StockTransactionRepository,
	shops domain.ShopRepository,
	counters domain.CounterRepository,
	publisher domain.EventPublisher,
	logger *logging.Logger,
	m *metrics.Metrics,
	defaultThreshold int,
) *TileService {
	if defaultThreshold <= 0 {
		defaultThreshold = domain.DefaultLowStockThreshold
	}
	return &TileService{
		tiles:            tiles,
		txns:             txns,
		shops:            shops,
		counters:         counters,
		publisher:        publisher,
		logger:           logger,
		metrics:          m,
		defaultThreshold: defaultThreshold,
	}
}

// CreateTile adds a tile to a shop. A missing SKU is generated from the SKU
// sequence and an initial quantity is recorded as stock_in.
func (s *TileService) CreateTile(ctx context.Context, caller domain.Caller, cmd CreateTileCommand) (*TileDTO, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, toAppError("create tile", err)
	}
	shopID, err := caller.ScopeShop(cmd.ShopID)
	if err != nil {
		return nil, toAppError("create tile", err)
	}
	if shopID == "" {
		return nil, apperrors.ErrValidation("shopId is required")
	}

	itemsPerPacket := cmd.ItemsPerPacket
	if itemsPerPacket == 0 {
		itemsPerPacket = domain.DefaultItemsPerPacket
	}
	sku := strings.ToUpper(strings.TrimSpace(cmd.SKU))
	tile, err := domain.NewTile(shopID, sku, cmd.Name, itemsPerPacket, cmd.Quantity, cmd.Price, caller.UserID)
	if err != nil {
		return nil, toAppError("create tile", err)
	}
	if cmd.MinimumThreshold > 0 {
		tile.MinimumThreshold = cmd.MinimumThreshold
	}
	tile.AddImages(cmd.Images...)

	if tile.SKU == "" {
		seq, err := s.counters.Next(ctx, domain.CounterKeySKU)
		if err != nil {
			s.logger.WithContext(ctx).Error("Failed to allocate sku", "error", err)
			return nil, apperrors.ErrPersistence("allocate sku", err)
		}
		tile.SKU = domain.FormatSKU(seq)
	}

	if err := s.tiles.Create(ctx, tile); err != nil {
		if !errors.Is(err, domain.ErrDuplicateSKU) {
			s.logger.WithContext(ctx).Error("Failed to create tile", "sku", tile.SKU, "error", err)
		}
		return nil, toAppError("create tile", err)
	}

	if tile.Quantity > 0 {
		txn := domain.NewStockTransaction(tile, domain.TransactionStockIn, tile.Quantity, caller.UserID).
			WithReference("", "initial stock")
		if err := s.txns.Save(ctx, txn); err != nil {
			s.logger.WithContext(ctx).Error("Failed to record initial stock", "tileId", tile.ID, "error", err)
			undoErr := s.tiles.Delete(context.WithoutCancel(ctx), tile.ID)
			s.metrics.RecordCompensation("create_tile", undoErr == nil)
			return nil, apperrors.ErrPersistence("record initial stock", err)
		}
		s.metrics.RecordStockMovement(string(txn.Type), txn.Quantity)
		publishEvents(ctx, s.publisher, s.logger,
			domain.NewStockUpdatedEvent(tile, tile.Quantity, domain.TransactionStockIn, "", caller.UserID))
	}

	s.logger.WithContext(ctx).Info("Created tile", "tileId", tile.ID, "sku", tile.SKU, "shopId", tile.ShopID, "quantity", tile.Quantity)
	s.logger.Audit(ctx, "tile.create", "tile", tile.ID, caller.UserID, map[string]any{"sku": tile.SKU})
	return ToTileDTO(tile), nil
}

// GetTile returns a tile the caller may access
func (s *TileService) GetTile(ctx context.Context, caller domain.Caller, id string) (*TileDTO, error) {
	tile, err := loadTile(ctx, s.tiles, caller, id)
	if err != nil {
		if errors.Is(err, domain.ErrTileNotFound) {
			return nil, apperrors.ErrTileNotFound(id)
		}
		return nil, toAppError("get tile", err)
	}
	return ToTileDTO(tile), nil
}

// ListTiles lists the caller's tiles by name
func (s *TileService) ListTiles(ctx context.Context, caller domain.Caller, query ListTilesQuery) (*TileListDTO, error) {
	shopID, err := caller.ScopeShop(query.ShopID)
	if err != nil {
		return nil, toAppError("list tiles", err)
	}

	page := api.PageRequest{Page: query.Page, Limit: query.Limit}.Normalize()
	tiles, total, err := s.tiles.List(ctx, domain.TileQuery{
		ShopID:          shopID,
		Search:          strings.TrimSpace(query.Search),
		IncludeInactive: query.IncludeInactive,
		Offset:          page.Offset(),
		Limit:           page.Limit,
	})
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to list tiles", "shopId", shopID, "error", err)
		return nil, apperrors.ErrPersistence("list tiles", err)
	}

	result := api.NewPageResponse(ToTileDTOs(tiles), page.Page, page.Limit, total)
	return &result, nil
}

// UpdateTile changes catalogue fields. Stock is only changed through the
// stock ledger.
func (s *TileService) UpdateTile(ctx context.Context, caller domain.Caller, cmd UpdateTileCommand) (*TileDTO, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, toAppError("update tile", err)
	}
	tile, err := loadTile(ctx, s.tiles, caller, cmd.TileID)
	if err != nil {
		if errors.Is(err, domain.ErrTileNotFound) {
			return nil, apperrors.ErrTileNotFound(cmd.TileID)
		}
		return nil, toAppError("update tile", err)
	}

	err = tile.Apply(domain.TileChanges{
		Name:             cmd.Name,
		Price:            cmd.Price,
		ItemsPerPacket:   cmd.ItemsPerPacket,
		MinimumThreshold: cmd.MinimumThreshold,
		IsActive:         cmd.IsActive,
		Images:           cmd.Images,
	})
	if err != nil {
		return nil, toAppError("update tile", err)
	}

	if err := s.tiles.Update(ctx, tile); err != nil {
		s.logger.WithContext(ctx).Error("Failed to update tile", "tileId", tile.ID, "error", err)
		return nil, toAppError("update tile", err)
	}

	s.logger.WithContext(ctx).Info("Updated tile", "tileId", tile.ID)
	s.logger.Audit(ctx, "tile.update", "tile", tile.ID, caller.UserID, nil)
	return ToTileDTO(tile), nil
}

// DeleteTile removes a tile. Tiles holding reserved pieces for open sales
// cannot be deleted. Its transactions stay in the ledger.
func (s *TileService) DeleteTile(ctx context.Context, caller domain.Caller, id string) error {
	if err := caller.RequireAdmin(); err != nil {
		return toAppError("delete tile", err)
	}
	tile, err := loadTile(ctx, s.tiles, caller, id)
	if err != nil {
		if errors.Is(err, domain.ErrTileNotFound) {
			return apperrors.ErrTileNotFound(id)
		}
		return toAppError("delete tile", err)
	}
	if tile.ReservedQuantity > 0 {
		return apperrors.ErrInvalidState("tile has pieces reserved by open sales").
			WithDetail("tileId", id)
	}

	if err := s.tiles.Delete(ctx, id); err != nil {
		s.logger.WithContext(ctx).Error("Failed to delete tile", "tileId", id, "error", err)
		return toAppError("delete tile", err)
	}

	s.logger.WithContext(ctx).Info("Deleted tile", "tileId", id, "sku", tile.SKU)
	s.logger.Audit(ctx, "tile.delete", "tile", id, caller.UserID, map[string]any{"sku": tile.SKU})
	return nil
}

// LowStock evaluates a shop's tiles against the shop's threshold
func (s *TileService) LowStock(ctx context.Context, caller domain.Caller, shopID string) (*LowStockDTO, error) {
	scoped, err := caller.ScopeShop(shopID)
	if err != nil {
		return nil, toAppError("evaluate low stock", err)
	}
	if scoped == "" {
		return nil, apperrors.ErrValidation("shopId is required")
	}

	shop, err := s.shops.FindByID(ctx, scoped)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to get shop", "shopId", scoped, "error", err)
		return nil, apperrors.ErrPersistence("get shop", err)
	}
	threshold := shop.LowStockThreshold(s.defaultThreshold)

	tiles, err := s.tiles.FindByShop(ctx, scoped)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to load tiles", "shopId", scoped, "error", err)
		return nil, apperrors.ErrPersistence("load tiles", err)
	}

	report := domain.EvaluateLowStock(tiles, threshold)
	s.metrics.SetLowStock(scoped, len(report.Critical), len(report.OutOfStock))

	return &LowStockDTO{
		ShopID:     scoped,
		Threshold:  report.Threshold,
		Critical:   ToTileDTOs(report.Critical),
		OutOfStock: ToTileDTOs(report.OutOfStock),
	}, nil
}
