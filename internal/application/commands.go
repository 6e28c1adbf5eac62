package application

import "time"

// AddStockCommand adds packets and loose pieces to a tile
type AddStockCommand struct {
	TileID            string
	Packets           int
	Pieces            int
	NewItemsPerPacket *int
	ReferenceNumber   string
	Notes             string
}

// RemoveStockCommand removes packets and loose pieces from a tile
type RemoveStockCommand struct {
	TileID          string
	Packets         int
	Pieces          int
	ReferenceNumber string
	Notes           string
}

// SetQuantityCommand overwrites the on-hand pieces of a tile
type SetQuantityCommand struct {
	TileID   string
	Quantity int
	Notes    string
}

// CreateTileCommand creates a tile in a shop
type CreateTileCommand struct {
	ShopID           string
	SKU              string
	Name             string
	Price            int64
	ItemsPerPacket   int
	Quantity         int
	MinimumThreshold int
	Images           []string
}

// UpdateTileCommand changes catalogue fields of a tile
type UpdateTileCommand struct {
	TileID           string
	Name             *string
	Price            *int64
	ItemsPerPacket   *int
	MinimumThreshold *int
	IsActive         *bool
	Images           []string
}

// ListTilesQuery lists the tiles of a shop
type ListTilesQuery struct {
	ShopID          string
	Search          string
	IncludeInactive bool
	Page            int64
	Limit           int64
}

// SaleItemInput is one requested sale line
type SaleItemInput struct {
	TileID    string
	Quantity  int
	UnitPrice int64
}

// CustomerInput identifies the buyer
type CustomerInput struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// CreateSaleCommand creates and confirms a sale
type CreateSaleCommand struct {
	ShopID        string
	Customer      CustomerInput
	Items         []SaleItemInput
	Discount      int64
	Tax           int64
	PaymentMethod string
	PaymentStatus string
}

// UpdateSaleCommand changes a sale. A status change is routed through the
// matching lifecycle operation.
type UpdateSaleCommand struct {
	SaleID        string
	Status        *string
	Customer      *CustomerInput
	Discount      *int64
	Tax           *int64
	PaymentMethod *string
	PaymentStatus *string
}

// ListSalesQuery lists sales newest first
type ListSalesQuery struct {
	ShopID    string
	Status    string
	StartDate *time.Time
	EndDate   *time.Time
	Page      int64
	Limit     int64
}

// ReportQuery selects stock transactions
type ReportQuery struct {
	ShopID    string
	TileID    string
	StartDate *time.Time
	EndDate   *time.Time
	Type      string
	Page      int64
	Limit     int64
}

// UpdateShopSettingsCommand changes shop settings
type UpdateShopSettingsCommand struct {
	ShopID            string
	LowStockThreshold int
}
