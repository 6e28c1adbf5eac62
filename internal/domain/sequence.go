package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Counter keys
const (
	CounterKeySKU        = "tile_sku"
	counterKeySalePrefix = "sale_number_"
)

// FormatSKU renders a generated SKU, e.g. TILE-000042
func FormatSKU(seq int64) string {
	return fmt.Sprintf("TILE-%06d", seq)
}

// SaleCounterKey returns the per-month counter key for sale numbers
func SaleCounterKey(at time.Time) string {
	return counterKeySalePrefix + at.UTC().Format("200601")
}

// FormatSaleNumber renders a sale number, e.g. SALE-202604-000007
func FormatSaleNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("SALE-%s-%06d", at.UTC().Format("200601"), seq)
}

// ParseSKUSequence extracts the counter value from a generated SKU. Hand
// entered SKUs report false.
func ParseSKUSequence(sku string) (int64, bool) {
	digits, ok := strings.CutPrefix(sku, "TILE-")
	if !ok || len(digits) < 6 {
		return 0, false
	}
	seq, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

// ParseSaleNumber splits a sale number into its counter key and value
func ParseSaleNumber(number string) (key string, seq int64, ok bool) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] != "SALE" {
		return "", 0, false
	}
	month, err := time.Parse("200601", parts[1])
	if err != nil {
		return "", 0, false
	}
	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq <= 0 {
		return "", 0, false
	}
	return SaleCounterKey(month), seq, true
}
