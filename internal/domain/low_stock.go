package domain

import "sort"

// DefaultLowStockThreshold applies to shops that have not set their own
const DefaultLowStockThreshold = 10

// LowStockReport splits tiles needing replenishment by severity
type LowStockReport struct {
	Threshold  int
	Critical   []*Tile
	OutOfStock []*Tile
}

// Count returns the number of flagged tiles
func (r LowStockReport) Count() int {
	return len(r.Critical) + len(r.OutOfStock)
}

// EvaluateLowStock flags tiles whose available pieces are below threshold.
// Tiles with nothing available are out of stock, the rest are critical.
// Both lists are sorted by available pieces, lowest first. A tile's own
// minimum threshold overrides the shop threshold when it is set.
func EvaluateLowStock(tiles []*Tile, threshold int) LowStockReport {
	if threshold < 0 {
		threshold = 0
	}
	report := LowStockReport{
		Threshold:  threshold,
		Critical:   make([]*Tile, 0),
		OutOfStock: make([]*Tile, 0),
	}

	for _, tile := range tiles {
		if tile == nil || !tile.IsActive {
			continue
		}
		limit := threshold
		if tile.MinimumThreshold > 0 {
			limit = tile.MinimumThreshold
		}

		available := tile.Available()
		switch {
		case available <= 0:
			report.OutOfStock = append(report.OutOfStock, tile)
		case available < limit:
			report.Critical = append(report.Critical, tile)
		}
	}

	byAvailable := func(list []*Tile) func(i, j int) bool {
		return func(i, j int) bool {
			if list[i].Available() == list[j].Available() {
				return list[i].Name < list[j].Name
			}
			return list[i].Available() < list[j].Available()
		}
	}
	sort.SliceStable(report.Critical, byAvailable(report.Critical))
	sort.SliceStable(report.OutOfStock, byAvailable(report.OutOfStock))
	return report
}
