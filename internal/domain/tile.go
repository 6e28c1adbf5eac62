package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Image is an opaque reference to an uploaded tile picture
type Image struct {
	URL        string    `bson:"url" json:"url"`
	UploadedAt time.Time `bson:"uploadedAt" json:"uploadedAt"`
}

// Tile is a stock keeping unit owned by a shop.
//
// Quantity counts every piece on hand, reserved pieces included. Pieces held
// by confirmed but undelivered sales are tracked in ReservedQuantity, so the
// pieces that can still be sold or removed are Quantity - ReservedQuantity.
type Tile struct {
	ID               string    `bson:"_id"`
	SKU              string    `bson:"sku"`
	ShopID           string    `bson:"shopId"`
	Name             string    `bson:"name"`
	Price            int64     `bson:"price"` // minor units, informational only
	Quantity         int       `bson:"quantity"`
	ReservedQuantity int       `bson:"reservedQuantity"`
	ItemsPerPacket   int       `bson:"itemsPerPacket"`
	MinimumThreshold int       `bson:"minimumThreshold,omitempty"`
	Images           []Image   `bson:"images"`
	IsActive         bool      `bson:"isActive"`
	CreatedBy        string    `bson:"createdBy,omitempty"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
}

// NewTile creates an active tile. An empty sku is filled in by the caller
// from the SKU sequence before the tile is saved.
func NewTile(shopID, sku, name string, itemsPerPacket, quantity int, price int64, createdBy string) (*Tile, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := ValidateItemsPerPacket(itemsPerPacket); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, &QuantityError{Field: "quantity", Value: quantity, Reason: "must not be negative"}
	}
	if price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}

	now := time.Now().UTC()
	return &Tile{
		ID:             uuid.New().String(),
		SKU:            sku,
		ShopID:         shopID,
		Name:           strings.TrimSpace(name),
		Price:          price,
		Quantity:       quantity,
		ItemsPerPacket: itemsPerPacket,
		Images:         make([]Image, 0),
		IsActive:       true,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Available returns the pieces that are neither sold nor reserved
func (t *Tile) Available() int {
	if available := t.Quantity - t.ReservedQuantity; available > 0 {
		return available
	}
	return 0
}

// Packets splits the available pieces into packets and loose pieces
func (t *Tile) Packets() (packets, pieces int) {
	return ToPacketsAndLoose(t.Available(), t.ItemsPerPacket)
}

// CheckAvailable returns an InsufficientStockError when fewer than requested
// pieces are available
func (t *Tile) CheckAvailable(requested int) error {
	if requested > t.Available() {
		return &InsufficientStockError{
			TileID:    t.ID,
			TileName:  t.Name,
			SKU:       t.SKU,
			Available: t.Available(),
			Requested: requested,
		}
	}
	return nil
}

// AddImages appends image urls stamped with the current time
func (t *Tile) AddImages(urls ...string) {
	now := time.Now().UTC()
	for _, url := range urls {
		if url == "" {
			continue
		}
		t.Images = append(t.Images, Image{URL: url, UploadedAt: now})
	}
}

// TileChanges holds the optional catalogue fields of an update
type TileChanges struct {
	Name             *string
	Price            *int64
	ItemsPerPacket   *int
	MinimumThreshold *int
	IsActive         *bool
	Images           []string
}

// Apply validates and applies catalogue changes. Stock fields are never
// changed here.
func (t *Tile) Apply(changes TileChanges) error {
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		t.Name = name
	}
	if changes.Price != nil {
		if *changes.Price < 0 {
			return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
		}
		t.Price = *changes.Price
	}
	if changes.ItemsPerPacket != nil {
		if err := ValidateItemsPerPacket(*changes.ItemsPerPacket); err != nil {
			return err
		}
		t.ItemsPerPacket = *changes.ItemsPerPacket
	}
	if changes.MinimumThreshold != nil {
		if *changes.MinimumThreshold < 0 {
			return &QuantityError{Field: "minimumThreshold", Value: *changes.MinimumThreshold, Reason: "must not be negative"}
		}
		t.MinimumThreshold = *changes.MinimumThreshold
	}
	if changes.IsActive != nil {
		t.IsActive = *changes.IsActive
	}
	if changes.Images != nil {
		t.Images = make([]Image, 0, len(changes.Images))
		t.AddImages(changes.Images...)
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}
