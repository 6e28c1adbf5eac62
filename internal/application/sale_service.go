package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/api"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
	"github.com/tilestock/stock-service/pkg/resilience"
)

// releaseRetry retries stock releases that failed for infrastructure reasons
var releaseRetry = &resilience.RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  20 * time.Millisecond,
	MaxDelay:      200 * time.Millisecond,
	BackoffFactor: 2,
	RetryableErrors: func(err error) bool {
		return !isDomainError(err)
	},
}

// SaleService runs the sale workflow: it reserves stock for new sales and
// releases it on delivery or cancellation
type SaleService struct {
	tiles     domain.TileRepository
	sales     domain.SaleRepository
	txns      domain.StockTransactionRepository
	counters  domain.CounterRepository
	publisher domain.EventPublisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewSaleService creates a new SaleService
func NewSaleService(
	tiles domain.TileRepository,
	sales domain.SaleRepository,
	txns domain.StockTransactionRepository,
	counters domain.CounterRepository,
	publisher domain.EventPublisher,
	logger *logging.Logger,
	m *metrics.Metrics,
) *SaleService {
	return &SaleService{
		tiles:     tiles,
		sales:     sales,
		txns:      txns,
		counters:  counters,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// CreateSale validates every line against available stock, then reserves
// the stock, stores the sale and writes one sale transaction per line. A
// failure after validation undoes the completed steps.
func (s *SaleService) CreateSale(ctx context.Context, caller domain.Caller, cmd CreateSaleCommand) (*SaleDTO, error) {
	shopID, err := caller.ScopeShop(cmd.ShopID)
	if err != nil {
		return nil, toAppError("create sale", err)
	}
	if shopID == "" {
		return nil, apperrors.ErrValidation("shopId is required")
	}

	items := make([]domain.SaleItem, 0, len(cmd.Items))
	for _, in := range cmd.Items {
		items = append(items, domain.SaleItem{TileID: in.TileID, Quantity: in.Quantity, UnitPrice: in.UnitPrice})
	}
	sale, err := domain.NewSale(shopID, toCustomer(cmd.Customer), items,
		cmd.Discount, cmd.Tax,
		domain.PaymentMethod(cmd.PaymentMethod), domain.PaymentStatus(cmd.PaymentStatus),
		caller.UserID)
	if err != nil {
		return nil, toAppError("create sale", err)
	}

	// validation pass: every line must be sellable before anything changes
	order, quantities := sale.QuantitiesByTile()
	tiles := make(map[string]*domain.Tile, len(order))
	for _, tileID := range order {
		tile, err := s.tiles.FindByID(ctx, tileID)
		if err != nil {
			return nil, toAppError("load tile", err)
		}
		if tile == nil || tile.ShopID != shopID || !tile.IsActive {
			s.metrics.RecordStockRejection("create_sale", "tile_not_found")
			return nil, apperrors.ErrTileNotFound(tileID)
		}
		if err := tile.CheckAvailable(quantities[tileID]); err != nil {
			s.metrics.RecordStockRejection("create_sale", "insufficient_stock")
			return nil, toAppError("create sale", err)
		}
		tiles[tileID] = tile
	}
	for i := range sale.Items {
		tile := tiles[sale.Items[i].TileID]
		sale.Items[i].TileName = tile.Name
		sale.Items[i].SKU = tile.SKU
	}

	seq, err := s.counters.Next(ctx, domain.SaleCounterKey(sale.CreatedAt))
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to allocate sale number", "error", err)
		return nil, apperrors.ErrPersistence("allocate sale number", err)
	}
	sale.SaleNumber = domain.FormatSaleNumber(sale.CreatedAt, seq)

	reserved, err := s.reserveAndStore(ctx, caller, sale, order, quantities)
	if err != nil {
		return nil, err
	}

	sale.AddDomainEvent(domain.NewSaleEvent(domain.SaleActionCreated, sale, caller.UserID))
	events := append([]domain.DomainEvent{}, sale.GetDomainEvents()...)
	for _, tileID := range order {
		events = append(events, domain.NewStockUpdatedEvent(reserved[tileID], -quantities[tileID], domain.TransactionSale, sale.SaleNumber, caller.UserID))
	}
	publishEvents(ctx, s.publisher, s.logger, events...)
	sale.ClearDomainEvents()

	s.metrics.RecordSaleCreated(string(sale.PaymentMethod), sale.TotalAmount)
	s.metrics.RecordSaleTransition(string(sale.Status))
	for _, item := range sale.Items {
		s.metrics.RecordStockMovement(string(domain.TransactionSale), item.Quantity)
	}
	s.logger.WithContext(ctx).Info("Created sale",
		"saleId", sale.ID,
		"saleNumber", sale.SaleNumber,
		"shopId", sale.ShopID,
		"items", len(sale.Items),
		"totalAmount", sale.TotalAmount,
	)
	s.logger.Audit(ctx, "sale.create", "sale", sale.ID, caller.UserID, map[string]any{
		"saleNumber":  sale.SaleNumber,
		"totalAmount": sale.TotalAmount,
	})

	return ToSaleDTO(sale), nil
}

// reserveAndStore is the mutation half of CreateSale. It returns the tiles
// as they were after their reservation.
func (s *SaleService) reserveAndStore(ctx context.Context, caller domain.Caller, sale *domain.Sale, order []string, quantities map[string]int) (map[string]*domain.Tile, error) {
	tx := newSaga("create_sale", s.logger, s.metrics)
	reserved := make(map[string]*domain.Tile, len(order))

	fail := func(err error) (map[string]*domain.Tile, error) {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			s.logger.WithContext(ctx).Error("Sale rollback incomplete", "saleNumber", sale.SaleNumber, "error", rbErr)
		}
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.metrics.RecordStockRejection("create_sale", "insufficient_stock")
		}
		return nil, toAppError("create sale", err)
	}

	for _, tileID := range order {
		quantity := quantities[tileID]
		err := tx.run(ctx, "reserve "+tileID,
			func(ctx context.Context) error {
				tile, err := s.tiles.ApplyStockUpdate(ctx, domain.ReserveUpdate(tileID, sale.ShopID, quantity))
				if err != nil {
					return err
				}
				reserved[tileID] = tile
				return nil
			},
			func(ctx context.Context) error {
				_, err := s.tiles.ApplyStockUpdate(ctx, domain.ReleaseUpdate(tileID, quantity))
				return err
			})
		if err != nil {
			return fail(err)
		}
	}

	err := tx.run(ctx, "store sale",
		func(ctx context.Context) error { return s.sales.Create(ctx, sale) },
		func(ctx context.Context) error { return s.sales.Delete(ctx, sale.ID) })
	if err != nil {
		return fail(err)
	}

	txns := make([]*domain.StockTransaction, 0, len(sale.Items))
	ids := make([]string, 0, len(sale.Items))
	for _, item := range sale.Items {
		txn := domain.NewStockTransaction(reserved[item.TileID], domain.TransactionSale, item.Quantity, caller.UserID).
			WithUnitPrice(item.UnitPrice).
			WithReference(sale.SaleNumber, "")
		txns = append(txns, txn)
		ids = append(ids, txn.ID)
	}
	err = tx.run(ctx, "record transactions",
		func(ctx context.Context) error { return s.txns.SaveAll(ctx, txns) },
		nil)
	if err != nil {
		// a partial insert may have stored some records
		if delErr := s.txns.DeleteByIDs(context.WithoutCancel(ctx), ids); delErr != nil {
			s.logger.WithContext(ctx).Error("Failed to remove partially stored sale transactions",
				"saleNumber", sale.SaleNumber, "transactions", ids, "error", delErr)
			s.metrics.RecordCompensation("sale_transactions", false)
		}
		return fail(err)
	}

	return reserved, nil
}

// GetSale returns a sale the caller may access
func (s *SaleService) GetSale(ctx context.Context, caller domain.Caller, id string) (*SaleDTO, error) {
	sale, err := s.loadSale(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return ToSaleDTO(sale), nil
}

// ListSales lists sales newest first
func (s *SaleService) ListSales(ctx context.Context, caller domain.Caller, query ListSalesQuery) (*SaleListDTO, error) {
	shopID, err := caller.ScopeShop(query.ShopID)
	if err != nil {
		return nil, toAppError("list sales", err)
	}
	status := domain.SaleStatus(query.Status)
	if status != "" && !status.IsValid() {
		return nil, apperrors.ErrValidation(fmt.Sprintf("unknown sale status %q", query.Status))
	}

	page := api.PageRequest{Page: query.Page, Limit: query.Limit}.Normalize()
	var end *time.Time
	if query.EndDate != nil {
		e := domain.EndOfDay(*query.EndDate)
		end = &e
	}

	sales, total, err := s.sales.List(ctx, domain.SaleQuery{
		ShopID:    shopID,
		Status:    status,
		StartDate: query.StartDate,
		EndDate:   end,
		Offset:    page.Offset(),
		Limit:     page.Limit,
	})
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to list sales", "shopId", shopID, "error", err)
		return nil, apperrors.ErrPersistence("list sales", err)
	}

	dtos := make([]*SaleDTO, 0, len(sales))
	for _, sale := range sales {
		dtos = append(dtos, ToSaleDTO(sale))
	}
	result := api.NewPageResponse(dtos, page.Page, page.Limit, total)
	return &result, nil
}

// UpdateSale changes the editable fields of a sale. A status of delivered or
// cancelled is applied through DeliverSale or CancelSale so stock is always
// released the same way.
func (s *SaleService) UpdateSale(ctx context.Context, caller domain.Caller, cmd UpdateSaleCommand) (*SaleDTO, error) {
	sale, err := s.loadSale(ctx, caller, cmd.SaleID)
	if err != nil {
		return nil, err
	}

	var target domain.SaleStatus
	if cmd.Status != nil {
		target = domain.SaleStatus(*cmd.Status)
		if !target.IsValid() {
			return nil, apperrors.ErrValidation(fmt.Sprintf("unknown sale status %q", *cmd.Status))
		}
		if target != sale.Status && !sale.Status.CanTransitionTo(target) {
			return nil, toAppError("update sale", &domain.StateError{From: sale.Status, To: target})
		}
	}

	changes := domain.SaleChanges{Discount: cmd.Discount, Tax: cmd.Tax}
	if cmd.Customer != nil {
		customer := toCustomer(*cmd.Customer)
		changes.Customer = &customer
	}
	if cmd.PaymentMethod != nil {
		method := domain.PaymentMethod(*cmd.PaymentMethod)
		changes.PaymentMethod = &method
	}
	if cmd.PaymentStatus != nil {
		payment := domain.PaymentStatus(*cmd.PaymentStatus)
		changes.PaymentStatus = &payment
	}

	if !changes.IsEmpty() {
		expected := sale.Status
		if err := sale.Apply(changes, caller.UserID); err != nil {
			return nil, toAppError("update sale", err)
		}
		if err := s.sales.Update(ctx, sale, expected); err != nil {
			return nil, s.persistFailed(ctx, "update sale", sale, err)
		}
		publishEvents(ctx, s.publisher, s.logger, sale.GetDomainEvents()...)
		sale.ClearDomainEvents()
		s.logger.WithContext(ctx).Info("Updated sale", "saleId", sale.ID, "saleNumber", sale.SaleNumber)
	}

	switch {
	case target == "" || (target == sale.Status && !sale.HasPendingRelease()):
		return ToSaleDTO(sale), nil
	case target == domain.SaleStatusDelivered:
		return s.DeliverSale(ctx, caller, sale.ID)
	case target == domain.SaleStatusCancelled:
		return s.CancelSale(ctx, caller, sale.ID)
	}

	expected := sale.Status
	if err := sale.Confirm(caller.UserID); err != nil {
		return nil, toAppError("update sale", err)
	}
	if err := s.sales.Update(ctx, sale, expected); err != nil {
		return nil, s.persistFailed(ctx, "update sale", sale, err)
	}
	publishEvents(ctx, s.publisher, s.logger, sale.GetDomainEvents()...)
	sale.ClearDomainEvents()
	s.metrics.RecordSaleTransition(string(sale.Status))
	return ToSaleDTO(sale), nil
}

// CancelSale cancels a sale that is not delivered, returns its reserved
// pieces to availability and writes one return transaction per line. When an
// earlier cancel left some tiles unreleased, calling it again finishes them.
func (s *SaleService) CancelSale(ctx context.Context, caller domain.Caller, id string) (*SaleDTO, error) {
	sale, err := s.loadSale(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	var events []domain.DomainEvent
	resumed := sale.Status == domain.SaleStatusCancelled && sale.HasPendingRelease()
	if !resumed {
		expected := sale.Status
		if err := sale.Cancel(caller.UserID); err != nil {
			return nil, toAppError("cancel sale", err)
		}
		// the conditional status write makes this request the only one to
		// queue the releases of this sale
		if err := s.sales.Update(ctx, sale, expected); err != nil {
			return nil, s.persistFailed(ctx, "cancel sale", sale, err)
		}
		events = append(events, sale.GetDomainEvents()...)
		sale.ClearDomainEvents()
	}

	released, failed := s.releaseReservations(ctx, sale)

	order, quantities := sale.QuantitiesByTile()
	for _, tileID := range order {
		if tile, ok := released[tileID]; ok {
			events = append(events, domain.NewStockUpdatedEvent(tile, quantities[tileID], domain.TransactionReturn, sale.SaleNumber, caller.UserID))
		}
	}

	txns := make([]*domain.StockTransaction, 0, len(sale.Items))
	for _, item := range sale.Items {
		tile, ok := released[item.TileID]
		if !ok {
			continue
		}
		txns = append(txns, domain.NewStockTransaction(tile, domain.TransactionReturn, item.Quantity, caller.UserID).
			WithUnitPrice(item.UnitPrice).
			WithReference(sale.SaleNumber, "sale cancelled"))
	}
	if len(txns) > 0 {
		if err := s.txns.SaveAll(ctx, txns); err != nil {
			s.logger.WithContext(ctx).Error("Failed to record return transactions", "saleId", sale.ID, "error", err)
			failed = append(failed, "transactions")
		}
	}

	publishEvents(ctx, s.publisher, s.logger, events...)
	if !resumed {
		s.metrics.RecordSaleTransition(string(sale.Status))
		s.logger.Audit(ctx, "sale.cancel", "sale", sale.ID, caller.UserID, map[string]any{"saleNumber": sale.SaleNumber})
	}
	for _, txn := range txns {
		s.metrics.RecordStockMovement(string(txn.Type), txn.Quantity)
	}

	if len(failed) > 0 {
		return nil, apperrors.ErrPersistence("release stock of cancelled sale", fmt.Errorf("incomplete for %v", failed)).
			WithDetail("saleId", sale.ID)
	}
	s.logger.WithContext(ctx).Info("Cancelled sale", "saleId", sale.ID, "saleNumber", sale.SaleNumber, "resumed", resumed)
	return ToSaleDTO(sale), nil
}

// DeliverSale marks a confirmed sale delivered and takes its reserved pieces
// off the shelf. Available stock was already reduced when the sale was
// created, so no transaction is written. Like CancelSale, a repeated call
// finishes deliveries an earlier call could not apply.
func (s *SaleService) DeliverSale(ctx context.Context, caller domain.Caller, id string) (*SaleDTO, error) {
	sale, err := s.loadSale(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	var events []domain.DomainEvent
	resumed := sale.Status == domain.SaleStatusDelivered && sale.HasPendingRelease()
	if !resumed {
		expected := sale.Status
		if err := sale.Deliver(caller.UserID); err != nil {
			return nil, toAppError("deliver sale", err)
		}
		if err := s.sales.Update(ctx, sale, expected); err != nil {
			return nil, s.persistFailed(ctx, "deliver sale", sale, err)
		}
		events = append(events, sale.GetDomainEvents()...)
		sale.ClearDomainEvents()
	}

	released, failed := s.releaseReservations(ctx, sale)
	order, _ := sale.QuantitiesByTile()
	for _, tileID := range order {
		if tile, ok := released[tileID]; ok {
			events = append(events, domain.NewStockUpdatedEvent(tile, 0, "", sale.SaleNumber, caller.UserID))
		}
	}

	publishEvents(ctx, s.publisher, s.logger, events...)
	if !resumed {
		s.metrics.RecordSaleTransition(string(sale.Status))
		s.logger.Audit(ctx, "sale.deliver", "sale", sale.ID, caller.UserID, map[string]any{"saleNumber": sale.SaleNumber})
	}

	if len(failed) > 0 {
		return nil, apperrors.ErrPersistence("release stock of delivered sale", fmt.Errorf("incomplete for %v", failed)).
			WithDetail("saleId", sale.ID)
	}
	s.logger.WithContext(ctx).Info("Delivered sale", "saleId", sale.ID, "saleNumber", sale.SaleNumber, "resumed", resumed)
	return ToSaleDTO(sale), nil
}

// releaseReservations works through the pending releases of a cancelled or
// delivered sale. Each tile is claimed on the sale before its stock changes,
// and a failed release is queued again for the next attempt. It returns the
// released tiles and the ids still pending.
func (s *SaleService) releaseReservations(ctx context.Context, sale *domain.Sale) (map[string]*domain.Tile, []string) {
	logger := s.logger.WithContext(ctx).With("saleId", sale.ID, "status", sale.Status)
	_, quantities := sale.QuantitiesByTile()
	released := make(map[string]*domain.Tile, len(sale.PendingRelease))
	var pending []string

	for _, tileID := range sale.PendingRelease {
		claimed, err := s.sales.ClaimRelease(ctx, sale.ID, tileID)
		if err != nil {
			logger.Error("Failed to claim stock release", "tileId", tileID, "error", err)
			pending = append(pending, tileID)
			continue
		}
		if !claimed {
			// released by a concurrent call
			continue
		}

		update := domain.ReleaseUpdate(tileID, quantities[tileID])
		if sale.Status == domain.SaleStatusDelivered {
			update = domain.DeliverUpdate(tileID, quantities[tileID])
		}
		tile, err := s.releaseStock(ctx, update)
		switch {
		case errors.Is(err, domain.ErrTileNotFound):
			logger.Warn("Tile of sale no longer exists", "tileId", tileID)
		case err != nil:
			logger.Error("Failed to release reserved stock", "tileId", tileID, "error", err)
			if err := s.sales.RequeueRelease(context.WithoutCancel(ctx), sale.ID, tileID); err != nil {
				logger.Error("Failed to requeue stock release", "tileId", tileID, "error", err)
			}
			pending = append(pending, tileID)
		default:
			released[tileID] = tile
		}
	}

	sale.PendingRelease = pending
	return released, pending
}

func (s *SaleService) releaseStock(ctx context.Context, update domain.StockUpdate) (*domain.Tile, error) {
	var tile *domain.Tile
	err := resilience.Retry(ctx, releaseRetry, func() error {
		var err error
		tile, err = s.tiles.ApplyStockUpdate(ctx, update)
		return err
	})
	return tile, err
}

func (s *SaleService) loadSale(ctx context.Context, caller domain.Caller, id string) (*domain.Sale, error) {
	sale, err := s.sales.FindByID(ctx, id)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to get sale", "saleId", id, "error", err)
		return nil, apperrors.ErrPersistence("get sale", err)
	}
	if sale == nil || !caller.CanAccess(sale.ShopID) {
		return nil, apperrors.ErrSaleNotFound(id)
	}
	return sale, nil
}

func (s *SaleService) persistFailed(ctx context.Context, operation string, sale *domain.Sale, err error) error {
	if !isDomainError(err) {
		s.logger.WithContext(ctx).Error("Failed to save sale", "saleId", sale.ID, "operation", operation, "error", err)
	}
	if errors.Is(err, domain.ErrInvalidState) {
		return apperrors.ErrInvalidState("sale was changed concurrently").Wrap(err)
	}
	return toAppError(operation, err)
}
