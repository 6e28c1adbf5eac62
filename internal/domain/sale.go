package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SaleStatus represents the lifecycle state of a sale
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusConfirmed SaleStatus = "confirmed"
	SaleStatusDelivered SaleStatus = "delivered"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// IsValid checks if the status is known
func (s SaleStatus) IsValid() bool {
	switch s {
	case SaleStatusPending, SaleStatusConfirmed, SaleStatusDelivered, SaleStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves the status
func (s SaleStatus) IsTerminal() bool {
	return s == SaleStatusDelivered || s == SaleStatusCancelled
}

var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusPending:   {SaleStatusConfirmed, SaleStatusCancelled},
	SaleStatusConfirmed: {SaleStatusDelivered, SaleStatusCancelled},
}

// CanTransitionTo reports whether the state machine allows s -> to
func (s SaleStatus) CanTransitionTo(to SaleStatus) bool {
	for _, next := range saleTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod is how the customer pays
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentCredit       PaymentMethod = "credit"
)

// IsValid checks if the payment method is known
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentCredit:
		return true
	}
	return false
}

// PaymentStatus tracks settlement of a sale
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// IsValid checks if the payment status is known
func (p PaymentStatus) IsValid() bool {
	switch p {
	case PaymentPending, PaymentPartial, PaymentPaid:
		return true
	}
	return false
}

// Customer is the buyer of a sale
type Customer struct {
	Name    string `bson:"name" json:"name"`
	Phone   string `bson:"phone,omitempty" json:"phone,omitempty"`
	Email   string `bson:"email,omitempty" json:"email,omitempty"`
	Address string `bson:"address,omitempty" json:"address,omitempty"`
}

// SaleItem is one line of a sale. Prices are in minor currency units.
type SaleItem struct {
	TileID     string `bson:"tileId" json:"tileId"`
	TileName   string `bson:"tileName,omitempty" json:"tileName,omitempty"`
	SKU        string `bson:"sku,omitempty" json:"sku,omitempty"`
	Quantity   int    `bson:"quantity" json:"quantity"`
	UnitPrice  int64  `bson:"unitPrice" json:"unitPrice"`
	TotalPrice int64  `bson:"totalPrice" json:"totalPrice"`
}

// Sale is the customer transaction aggregate
type Sale struct {
	ID            string        `bson:"_id" json:"id"`
	SaleNumber    string        `bson:"saleNumber" json:"saleNumber"`
	ShopID        string        `bson:"shopId" json:"shopId"`
	Customer      Customer      `bson:"customer" json:"customer"`
	Items         []SaleItem    `bson:"items" json:"items"`
	Subtotal      int64         `bson:"subtotal" json:"subtotal"`
	Discount      int64         `bson:"discount" json:"discount"`
	Tax           int64         `bson:"tax" json:"tax"`
	TotalAmount   int64         `bson:"totalAmount" json:"totalAmount"`
	PaymentMethod PaymentMethod `bson:"paymentMethod" json:"paymentMethod"`
	PaymentStatus PaymentStatus `bson:"paymentStatus" json:"paymentStatus"`
	Status        SaleStatus    `bson:"status" json:"status"`
	SoldBy        string        `bson:"soldBy" json:"soldBy"`
	DeliveredAt   *time.Time    `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CancelledAt   *time.Time    `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`

	// PendingRelease lists the tiles whose reservation a cancel or delivery
	// has not released yet
	PendingRelease []string `bson:"pendingRelease,omitempty" json:"pendingRelease,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`

	DomainEvents []DomainEvent `bson:"-" json:"-"`
}

// NewSale validates the input and builds a confirmed sale with computed
// totals. The sale number is assigned by the caller.
func NewSale(shopID string, customer Customer, items []SaleItem, discount, tax int64, method PaymentMethod, payment PaymentStatus, soldBy string) (*Sale, error) {
	if shopID == "" {
		return nil, fmt.Errorf("%w: shopId is required", ErrInvalidInput)
	}
	customer.Name = strings.TrimSpace(customer.Name)
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	if discount < 0 || tax < 0 {
		return nil, fmt.Errorf("%w: discount and tax must not be negative", ErrInvalidInput)
	}
	if method == "" {
		method = PaymentCash
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, method)
	}
	if payment == "" {
		payment = PaymentPending
	}
	if !payment.IsValid() {
		return nil, fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, payment)
	}

	lines := make([]SaleItem, len(items))
	for i, item := range items {
		if item.TileID == "" {
			return nil, fmt.Errorf("%w: items[%d].tileId is required", ErrInvalidInput, i)
		}
		if item.Quantity < 1 {
			return nil, &QuantityError{Field: fmt.Sprintf("items[%d].quantity", i), Value: item.Quantity, Reason: "must be at least 1"}
		}
		if item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: items[%d].unitPrice must not be negative", ErrInvalidInput, i)
		}
		lines[i] = item
	}

	now := time.Now().UTC()
	sale := &Sale{
		ID:            uuid.New().String(),
		ShopID:        shopID,
		Customer:      customer,
		Items:         lines,
		Discount:      discount,
		Tax:           tax,
		PaymentMethod: method,
		PaymentStatus: payment,
		Status:        SaleStatusConfirmed,
		SoldBy:        soldBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		DomainEvents:  make([]DomainEvent, 0),
	}
	if err := sale.ComputeTotals(); err != nil {
		return nil, err
	}
	return sale, nil
}

// ComputeTotals recomputes line totals, subtotal and total amount
func (s *Sale) ComputeTotals() error {
	var subtotal int64
	for i := range s.Items {
		s.Items[i].TotalPrice = int64(s.Items[i].Quantity) * s.Items[i].UnitPrice
		subtotal += s.Items[i].TotalPrice
	}
	total := subtotal - s.Discount + s.Tax
	if total < 0 {
		return fmt.Errorf("%w: discount exceeds subtotal plus tax", ErrInvalidInput)
	}
	s.Subtotal = subtotal
	s.TotalAmount = total
	return nil
}

// QuantitiesByTile sums line quantities per tile, in first-seen order
func (s *Sale) QuantitiesByTile() ([]string, map[string]int) {
	order := make([]string, 0, len(s.Items))
	totals := make(map[string]int, len(s.Items))
	for _, item := range s.Items {
		if _, seen := totals[item.TileID]; !seen {
			order = append(order, item.TileID)
		}
		totals[item.TileID] += item.Quantity
	}
	return order, totals
}

// Cancel moves the sale to cancelled. A delivered sale cannot be cancelled.
func (s *Sale) Cancel(by string) error {
	if s.Status == SaleStatusDelivered {
		return &StateError{From: s.Status, To: SaleStatusCancelled, Message: "cannot cancel a delivered sale"}
	}
	if !s.Status.CanTransitionTo(SaleStatusCancelled) {
		return &StateError{From: s.Status, To: SaleStatusCancelled}
	}

	now := time.Now().UTC()
	s.Status = SaleStatusCancelled
	s.CancelledAt = &now
	s.PendingRelease, _ = s.QuantitiesByTile()
	s.UpdatedAt = now
	s.AddDomainEvent(NewSaleEvent(SaleActionCancelled, s, by))
	return nil
}

// Deliver moves a confirmed sale to delivered and stamps the delivery time
func (s *Sale) Deliver(by string) error {
	if !s.Status.CanTransitionTo(SaleStatusDelivered) {
		return &StateError{From: s.Status, To: SaleStatusDelivered}
	}

	now := time.Now().UTC()
	s.Status = SaleStatusDelivered
	s.DeliveredAt = &now
	s.PendingRelease, _ = s.QuantitiesByTile()
	s.UpdatedAt = now
	s.AddDomainEvent(NewSaleEvent(SaleActionDelivered, s, by))
	return nil
}

// HasPendingRelease reports whether a terminal sale still holds reserved
// stock on some tile
func (s *Sale) HasPendingRelease() bool {
	return s.Status.IsTerminal() && len(s.PendingRelease) > 0
}

// Confirm moves a pending sale to confirmed
func (s *Sale) Confirm(by string) error {
	if !s.Status.CanTransitionTo(SaleStatusConfirmed) {
		return &StateError{From: s.Status, To: SaleStatusConfirmed}
	}
	s.Status = SaleStatusConfirmed
	s.UpdatedAt = time.Now().UTC()
	s.AddDomainEvent(NewSaleEvent(SaleActionUpdated, s, by))
	return nil
}

// SaleChanges holds the fields a generic sale update may change.
// Status changes are handled by Confirm, Deliver and Cancel.
type SaleChanges struct {
	Customer      *Customer
	Discount      *int64
	Tax           *int64
	PaymentMethod *PaymentMethod
	PaymentStatus *PaymentStatus
}

// IsEmpty reports whether no field is set
func (c SaleChanges) IsEmpty() bool {
	return c.Customer == nil && c.Discount == nil && c.Tax == nil && c.PaymentMethod == nil && c.PaymentStatus == nil
}

// Apply validates and applies changes, recomputing totals when the
// discount or tax changed. Cancelled sales are read-only.
func (s *Sale) Apply(changes SaleChanges, by string) error {
	if changes.IsEmpty() {
		return nil
	}
	if s.Status == SaleStatusCancelled {
		return &StateError{From: s.Status, To: s.Status, Message: "cannot update a cancelled sale"}
	}

	updated := *s
	if changes.Customer != nil {
		customer := *changes.Customer
		customer.Name = strings.TrimSpace(customer.Name)
		if customer.Name == "" {
			return fmt.Errorf("%w: customer name is required", ErrInvalidInput)
		}
		updated.Customer = customer
	}
	if changes.Discount != nil {
		if *changes.Discount < 0 {
			return fmt.Errorf("%w: discount must not be negative", ErrInvalidInput)
		}
		updated.Discount = *changes.Discount
	}
	if changes.Tax != nil {
		if *changes.Tax < 0 {
			return fmt.Errorf("%w: tax must not be negative", ErrInvalidInput)
		}
		updated.Tax = *changes.Tax
	}
	if changes.PaymentMethod != nil {
		if !changes.PaymentMethod.IsValid() {
			return fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, *changes.PaymentMethod)
		}
		updated.PaymentMethod = *changes.PaymentMethod
	}
	if changes.PaymentStatus != nil {
		if !changes.PaymentStatus.IsValid() {
			return fmt.Errorf("%w: unknown payment status %q", ErrInvalidInput, *changes.PaymentStatus)
		}
		updated.PaymentStatus = *changes.PaymentStatus
	}

	updated.Items = append([]SaleItem(nil), s.Items...)
	if err := updated.ComputeTotals(); err != nil {
		return err
	}

	*s = updated
	s.UpdatedAt = time.Now().UTC()
	s.AddDomainEvent(NewSaleEvent(SaleActionUpdated, s, by))
	return nil
}

// AddDomainEvent adds a domain event
func (s *Sale) AddDomainEvent(event DomainEvent) {
	s.DomainEvents = append(s.DomainEvents, event)
}

// GetDomainEvents returns all domain events
func (s *Sale) GetDomainEvents() []DomainEvent {
	return s.DomainEvents
}

// ClearDomainEvents clears all domain events
func (s *Sale) ClearDomainEvents() {
	s.DomainEvents = make([]DomainEvent, 0)
}
