package application

import (
	"context"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/api"
	apperrors "github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
)

// ReportService reads and purges the stock transaction log. Purging never
// changes tile stock.
type ReportService struct {
	txns   domain.StockTransactionRepository
	logger *logging.Logger
}

// NewReportService creates a new ReportService
func NewReportService(txns domain.StockTransactionRepository, logger *logging.Logger) *ReportService {
	return &ReportService{txns: txns, logger: logger}
}

// Query returns a page of matching transactions, newest first, with totals
// over every match
func (s *ReportService) Query(ctx context.Context, caller domain.Caller, query ReportQuery) (*ReportDTO, error) {
	filter, err := s.filter(caller, query)
	if err != nil {
		return nil, err
	}

	page := api.PageRequest{Page: query.Page, Limit: query.Limit}.Normalize()
	txns, total, err := s.txns.Find(ctx, filter, page.Offset(), page.Limit)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to query transactions", "shopId", filter.ShopID, "error", err)
		return nil, apperrors.ErrPersistence("query transactions", err)
	}
	stats, err := s.txns.Stats(ctx, filter)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to aggregate transactions", "shopId", filter.ShopID, "error", err)
		return nil, apperrors.ErrPersistence("aggregate transactions", err)
	}

	dtos := make([]*StockTransactionDTO, 0, len(txns))
	for _, txn := range txns {
		dtos = append(dtos, ToStockTransactionDTO(txn))
	}

	return &ReportDTO{
		Transactions: dtos,
		Total:        total,
		Page:         page.Page,
		Pages:        api.TotalPages(total, page.Limit),
		Stats:        stats,
	}, nil
}

// ClearFiltered deletes every transaction the query selects. Admin only.
func (s *ReportService) ClearFiltered(ctx context.Context, caller domain.Caller, query ReportQuery) (*ClearReportDTO, error) {
	if err := caller.RequireAdmin(); err != nil {
		return nil, toAppError("clear transactions", err)
	}
	filter, err := s.filter(caller, query)
	if err != nil {
		return nil, err
	}

	deleted, err := s.txns.DeleteMatching(ctx, filter)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to clear transactions", "shopId", filter.ShopID, "error", err)
		return nil, apperrors.ErrPersistence("clear transactions", err)
	}

	s.logger.WithContext(ctx).Info("Cleared transactions", "shopId", filter.ShopID, "type", filter.Type, "deleted", deleted)
	s.logger.Audit(ctx, "report.clear", "stock_transactions", filter.ShopID, caller.UserID, map[string]any{
		"type":    string(filter.Type),
		"deleted": deleted,
	})
	return &ClearReportDTO{Deleted: deleted}, nil
}

// DeleteTransaction deletes one transaction. Admin only.
func (s *ReportService) DeleteTransaction(ctx context.Context, caller domain.Caller, id string) error {
	if err := caller.RequireAdmin(); err != nil {
		return toAppError("delete transaction", err)
	}

	txn, err := s.txns.FindByID(ctx, id)
	if err != nil {
		s.logger.WithContext(ctx).Error("Failed to get transaction", "transactionId", id, "error", err)
		return apperrors.ErrPersistence("get transaction", err)
	}
	if txn == nil || !caller.CanAccess(txn.ShopID) {
		return apperrors.ErrNotFound("transaction").WithDetail("transactionId", id)
	}

	if err := s.txns.Delete(ctx, id); err != nil {
		s.logger.WithContext(ctx).Error("Failed to delete transaction", "transactionId", id, "error", err)
		return apperrors.ErrPersistence("delete transaction", err)
	}

	s.logger.Audit(ctx, "report.delete", "stock_transaction", id, caller.UserID, map[string]any{"tileId": txn.TileID})
	return nil
}

func (s *ReportService) filter(caller domain.Caller, query ReportQuery) (domain.ReportFilter, error) {
	shopID, err := caller.ScopeShop(query.ShopID)
	if err != nil {
		return domain.ReportFilter{}, toAppError("build report filter", err)
	}
	filter, err := domain.NewReportFilter(shopID, query.TileID, query.StartDate, query.EndDate, query.Type)
	if err != nil {
		return domain.ReportFilter{}, toAppError("build report filter", err)
	}
	return filter, nil
}
