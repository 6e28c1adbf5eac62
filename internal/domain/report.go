package domain

import (
	"fmt"
	"time"
)

// ReportFilter selects stock transactions for reports and purges.
// ShopID is empty only for global callers reading across shops.
type ReportFilter struct {
	ShopID    string
	TileID    string
	StartDate *time.Time
	EndDate   *time.Time
	Type      TransactionType
}

// NewReportFilter validates the filter and extends the end date to the last
// millisecond of its day so the range is inclusive.
func NewReportFilter(shopID, tileID string, start, end *time.Time, txnType string) (ReportFilter, error) {
	filter := ReportFilter{ShopID: shopID, TileID: tileID}

	if txnType != "" && txnType != "all" {
		filter.Type = TransactionType(txnType)
		if !filter.Type.IsValid() {
			return ReportFilter{}, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, txnType)
		}
	}
	if start != nil {
		s := *start
		filter.StartDate = &s
	}
	if end != nil {
		e := EndOfDay(*end)
		filter.EndDate = &e
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.StartDate.After(*filter.EndDate) {
		return ReportFilter{}, fmt.Errorf("%w: startDate is after endDate", ErrInvalidInput)
	}
	return filter, nil
}

// EndOfDay returns 23:59:59.999 of t's day in t's location
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// Matches reports whether txn is selected by the filter
func (f ReportFilter) Matches(txn *StockTransaction) bool {
	if f.ShopID != "" && txn.ShopID != f.ShopID {
		return false
	}
	if f.TileID != "" && txn.TileID != f.TileID {
		return false
	}
	if f.Type != "" && txn.Type != f.Type {
		return false
	}
	if f.StartDate != nil && txn.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && txn.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}

// ReportStats totals transaction quantities by type. StockIn and StockOut
// are reported as positive piece counts.
type ReportStats struct {
	StockIn  int                     `json:"stock_in"`
	StockOut int                     `json:"stock_out"`
	ByType   map[TransactionType]int `json:"byType"`
}

// NewReportStats builds stats from per-type quantity sums
func NewReportStats(sums map[TransactionType]int) ReportStats {
	stats := ReportStats{ByType: make(map[TransactionType]int, len(sums))}
	for txnType, sum := range sums {
		stats.ByType[txnType] = sum
	}
	stats.StockIn = abs(sums[TransactionStockIn])
	stats.StockOut = abs(sums[TransactionStockOut])
	return stats
}

// SummarizeTransactions aggregates transactions in memory
func SummarizeTransactions(txns []*StockTransaction) ReportStats {
	sums := make(map[TransactionType]int)
	for _, txn := range txns {
		sums[txn.Type] += txn.Quantity
	}
	return NewReportStats(sums)
}
