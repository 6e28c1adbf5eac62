package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSequences(t *testing.T) {
	at := time.Date(2026, 4, 30, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, "TILE-000042", FormatSKU(42))
	assert.Equal(t, "SALE-202604-000007", FormatSaleNumber(at, 7))
	assert.Equal(t, "sale_number_202604", SaleCounterKey(at))
}

func TestParseSKUSequence(t *testing.T) {
	tests := []struct {
		sku      string
		expected int64
		ok       bool
	}{
		{sku: "TILE-000042", expected: 42, ok: true},
		{sku: "TILE-1234567", expected: 1234567, ok: true},
		{sku: FormatSKU(9), expected: 9, ok: true},
		{sku: "TILE-42", ok: false},
		{sku: "TILE-00004X", ok: false},
		{sku: "TILE-000000", ok: false},
		{sku: "MARBLE-60X60", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.sku, func(t *testing.T) {
			seq, ok := ParseSKUSequence(tt.sku)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, seq)
		})
	}
}

func TestParseSaleNumber(t *testing.T) {
	at := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	key, seq, ok := ParseSaleNumber(FormatSaleNumber(at, 15))
	assert.True(t, ok)
	assert.Equal(t, SaleCounterKey(at), key)
	assert.Equal(t, int64(15), seq)

	for _, number := range []string{"", "SALE-2025-000001", "SALE-202513-000001", "INV-202511-000001", "SALE-202511-abc", "SALE-202511-000000"} {
		_, _, ok := ParseSaleNumber(number)
		assert.False(t, ok, number)
	}
}
