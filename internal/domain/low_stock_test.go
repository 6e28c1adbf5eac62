package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stockedTile(name string, quantity, reserved int) *Tile {
	return &Tile{ID: name, Name: name, Quantity: quantity, ReservedQuantity: reserved, ItemsPerPacket: 1, IsActive: true}
}

func TestEvaluateLowStock(t *testing.T) {
	tiles := []*Tile{
		stockedTile("plenty", 50, 0),
		stockedTile("nine", 9, 0),
		stockedTile("one", 1, 0),
		stockedTile("empty", 0, 0),
		stockedTile("all-reserved", 5, 5),
		stockedTile("at-threshold", 10, 0),
		stockedTile("reserved-down-to-four", 20, 16),
	}
	inactive := stockedTile("inactive", 0, 0)
	inactive.IsActive = false
	tiles = append(tiles, inactive, nil)

	report := EvaluateLowStock(tiles, 10)

	assert.Equal(t, 10, report.Threshold)
	assert.Equal(t, []string{"one", "reserved-down-to-four", "nine"}, tileNames(report.Critical))
	assert.Equal(t, []string{"all-reserved", "empty"}, tileNames(report.OutOfStock))
	assert.Equal(t, 5, report.Count())
}

func TestEvaluateLowStockTileThreshold(t *testing.T) {
	custom := stockedTile("custom", 15, 0)
	custom.MinimumThreshold = 20

	report := EvaluateLowStock([]*Tile{custom, stockedTile("default", 15, 0)}, 10)
	assert.Equal(t, []string{"custom"}, tileNames(report.Critical))
}

func TestEvaluateLowStockEmpty(t *testing.T) {
	report := EvaluateLowStock(nil, 10)
	assert.NotNil(t, report.Critical)
	assert.NotNil(t, report.OutOfStock)
	assert.Zero(t, report.Count())
}

func tileNames(tiles []*Tile) []string {
	names := make([]string, 0, len(tiles))
	for _, tile := range tiles {
		names = append(names, tile.Name)
	}
	return names
}
