package application

import (
	"context"
	"time"

	"github.com/tilestock/stock-service/internal/domain"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
)

// ShopService reads and configures shops
type ShopService struct {
	shops            domain.ShopRepository
	logger           *logging.Logger
	defaultThreshold int
}

// NewShopService creates a new ShopService
func NewShopService(shops domain.ShopRepository, logger *logging.Logger, defaultThreshold int) *ShopService {
	if defaultThreshold <= 0 {
		defaultThreshold = domain.DefaultLowStockThreshold
	}
	return &ShopService{shops: shops, logger: logger, defaultThreshold: defaultThreshold}
}

// GetShop returns a shop the caller belongs to. Shops without a stored
// document are reported with default settings.
func (s *ShopService) GetShop(ctx context.Context, caller domain.Caller, id string) (*ShopDTO, error) {
	if !caller.CanAccess(id) {
		return nil, apperrors.ErrForbidden("")
	}

	shop, err := s.shops.FindByID(ctx, id)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to get shop", "shopId", id, "error", err)
		return nil, apperrors.ErrPersistence("get shop", err)
	}
	if shop == nil {
		shop = &domain.Shop{ID: id, IsActive: true}
	}
	return ToShopDTO(shop, s.defaultThreshold), nil
}

// UpdateSettings stores shop settings. Admin only.
func (s *ShopService) UpdateSettings(ctx context.Context, caller domain.Caller, cmd UpdateShopSettingsCommand) (*ShopDTO, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, toAppError("update shop settings", err)
	}
	if !caller.CanAccess(cmd.ShopID) {
		return nil, apperrors.ErrForbidden("")
	}

	settings := domain.ShopSettings{LowStockThreshold: cmd.LowStockThreshold}
	if err := domain.ValidateSettings(settings); err != nil {
		return nil, toAppError("update shop settings", err)
	}

	shop, err := s.shops.UpdateSettings(ctx, cmd.ShopID, settings)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to update shop settings", "shopId", cmd.ShopID, "error", err)
		return nil, toAppError("update shop settings", err)
	}
	if shop.UpdatedAt.IsZero() {
		shop.UpdatedAt = time.Now().UTC()
	}

	s.logger.WithContext(ctx).Info("Updated shop settings", "shopId", cmd.ShopID, "lowStockThreshold", cmd.LowStockThreshold)
	s.logger.Audit(ctx, "shop.settings", "shop", cmd.ShopID, caller.UserID, map[string]any{
		"lowStockThreshold": cmd.LowStockThreshold,
	})
	return ToShopDTO(shop, s.defaultThreshold), nil
}
