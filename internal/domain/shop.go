package domain

import (
	"fmt"
	"time"
)

// ShopSettings holds per-shop configuration
type ShopSettings struct {
	LowStockThreshold int `bson:"lowStockThreshold"`
}

// Shop is the tenant boundary for tiles, sales and transactions
type Shop struct {
	ID        string       `bson:"_id"`
	Name      string       `bson:"name"`
	Settings  ShopSettings `bson:"settings"`
	IsActive  bool         `bson:"isActive"`
	CreatedAt time.Time    `bson:"createdAt"`
	UpdatedAt time.Time    `bson:"updatedAt"`
}

// LowStockThreshold returns the shop threshold, or fallback when unset
func (s *Shop) LowStockThreshold(fallback int) int {
	if s == nil || s.Settings.LowStockThreshold <= 0 {
		return fallback
	}
	return s.Settings.LowStockThreshold
}

// ValidateSettings rejects unusable settings
func ValidateSettings(settings ShopSettings) error {
	if settings.LowStockThreshold < 0 {
		return fmt.Errorf("%w: lowStockThreshold must not be negative", ErrInvalidInput)
	}
	return nil
}
