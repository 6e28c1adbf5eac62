package application

import "github.com/tilestock/stock-service/internal/domain"

// ToTileDTO converts a domain Tile to TileDTO
func ToTileDTO(tile *domain.Tile) *TileDTO {
	if tile == nil {
		return nil
	}

	images := tile.Images
	if images == nil {
		images = []domain.Image{}
	}
	packets, loose := tile.Packets()

	return &TileDTO{
		ID:                tile.ID,
		SKU:               tile.SKU,
		ShopID:            tile.ShopID,
		Name:              tile.Name,
		Price:             tile.Price,
		Quantity:          tile.Quantity,
		ReservedQuantity:  tile.ReservedQuantity,
		AvailableQuantity: tile.Available(),
		ItemsPerPacket:    tile.ItemsPerPacket,
		Packets:           packets,
		LoosePieces:       loose,
		MinimumThreshold:  tile.MinimumThreshold,
		Images:            images,
		IsActive:          tile.IsActive,
		CreatedAt:         tile.CreatedAt,
		UpdatedAt:         tile.UpdatedAt,
	}
}

// ToTileDTOs converts a slice of tiles
func ToTileDTOs(tiles []*domain.Tile) []*TileDTO {
	dtos := make([]*TileDTO, 0, len(tiles))
	for _, tile := range tiles {
		dtos = append(dtos, ToTileDTO(tile))
	}
	return dtos
}

// ToStockTransactionDTO converts a domain StockTransaction
func ToStockTransactionDTO(txn *domain.StockTransaction) *StockTransactionDTO {
	if txn == nil {
		return nil
	}

	return &StockTransactionDTO{
		ID:              txn.ID,
		TileID:          txn.TileID,
		ShopID:          txn.ShopID,
		TransactionType: string(txn.Type),
		Quantity:        txn.Quantity,
		Packets:         txn.Packets,
		Pieces:          txn.Pieces,
		UnitPrice:       txn.UnitPrice,
		TotalAmount:     txn.TotalAmount,
		ReferenceNumber: txn.ReferenceNumber,
		Notes:           txn.Notes,
		PerformedBy:     txn.PerformedBy,
		CreatedAt:       txn.CreatedAt,
	}
}

// ToSaleDTO converts a domain Sale
func ToSaleDTO(sale *domain.Sale) *SaleDTO {
	if sale == nil {
		return nil
	}

	items := make([]SaleItemDTO, 0, len(sale.Items))
	for _, item := range sale.Items {
		items = append(items, SaleItemDTO{
			TileID:     item.TileID,
			TileName:   item.TileName,
			SKU:        item.SKU,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}

	return &SaleDTO{
		ID:            sale.ID,
		SaleNumber:    sale.SaleNumber,
		ShopID:        sale.ShopID,
		Customer:      sale.Customer,
		Items:         items,
		Subtotal:      sale.Subtotal,
		Discount:      sale.Discount,
		Tax:           sale.Tax,
		TotalAmount:   sale.TotalAmount,
		PaymentMethod: string(sale.PaymentMethod),
		PaymentStatus: string(sale.PaymentStatus),
		Status:        string(sale.Status),
		SoldBy:        sale.SoldBy,
		DeliveredAt:   sale.DeliveredAt,
		CancelledAt:   sale.CancelledAt,
		CreatedAt:     sale.CreatedAt,
		UpdatedAt:     sale.UpdatedAt,

		PendingRelease: sale.PendingRelease,
	}
}

// ToShopDTO converts a domain Shop, resolving an unset threshold to fallback
func ToShopDTO(shop *domain.Shop, fallback int) *ShopDTO {
	if shop == nil {
		return nil
	}
	return &ShopDTO{
		ID:                shop.ID,
		Name:              shop.Name,
		LowStockThreshold: shop.LowStockThreshold(fallback),
		IsActive:          shop.IsActive,
		UpdatedAt:         shop.UpdatedAt,
	}
}

func toCustomer(in CustomerInput) domain.Customer {
	return domain.Customer{
		Name:    in.Name,
		Phone:   in.Phone,
		Email:   in.Email,
		Address: in.Address,
	}
}
