package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrTileNotFound      = errors.New("tile not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrSaleNotFound      = errors.New("sale not found")
	ErrShopNotFound      = errors.New("shop not found")
	ErrForbidden         = errors.New("forbidden")
	ErrDuplicateSKU      = errors.New("sku already exists")
	ErrInvalidInput      = errors.New("invalid input")
)

// QuantityError reports a rejected quantity input together with the
// offending field and value.
type QuantityError struct {
	Field  string
	Value  int
	Reason string
}

func (e *QuantityError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s (got %d)", e.Field, e.Reason, e.Value)
}

// Is makes errors.Is(err, ErrInvalidQuantity) hold
func (e *QuantityError) Is(target error) bool {
	return target == ErrInvalidQuantity
}

// InsufficientStockError reports a removal or sale that exceeds the
// available pieces of a tile.
type InsufficientStockError struct {
	TileID    string
	TileName  string
	SKU       string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	counts := fmt.Sprintf("Available: %d pieces, Requested: %d pieces", e.Available, e.Requested)
	if e.TileName == "" && e.SKU == "" {
		return "Insufficient stock. " + counts
	}
	return fmt.Sprintf("Insufficient stock for %s (%s). %s", e.TileName, e.SKU, counts)
}

// Is makes errors.Is(err, ErrInsufficientStock) hold
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StateError reports an illegal sale status transition
type StateError struct {
	From    SaleStatus
	To      SaleStatus
	Message string
}

func (e *StateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("cannot move sale from %s to %s", e.From, e.To)
}

func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
