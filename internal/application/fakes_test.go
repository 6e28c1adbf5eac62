package application

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tilestock/stock-service/internal/domain"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
)

var errStoreDown = errors.New("store unavailable")

var (
	shopAdmin  = domain.Caller{UserID: "admin-1", Role: domain.RoleShopAdmin, ShopID: "shop-1"}
	shopStaff  = domain.Caller{UserID: "staff-1", Role: domain.RoleStaff, ShopID: "shop-1"}
	otherStaff = domain.Caller{UserID: "staff-2", Role: domain.RoleStaff, ShopID: "shop-2"}
	grandAdmin = domain.Caller{UserID: "root", Role: domain.RoleGrandAdmin}
)

func cloneTile(t *domain.Tile) *domain.Tile {
	c := *t
	c.Images = append([]domain.Image(nil), t.Images...)
	return &c
}

func cloneSale(s *domain.Sale) *domain.Sale {
	c := *s
	c.Items = append([]domain.SaleItem(nil), s.Items...)
	c.PendingRelease = append([]string(nil), s.PendingRelease...)
	c.DomainEvents = make([]domain.DomainEvent, 0)
	return &c
}

type fakeTileRepo struct {
	mu    sync.Mutex
	tiles map[string]*domain.Tile

	createErr error
	deleteErr error
	// applyHook runs before each stock update and can fail it
	applyHook func(update domain.StockUpdate) error
	applied   []domain.StockUpdate
}

func newFakeTileRepo() *fakeTileRepo {
	return &fakeTileRepo{tiles: make(map[string]*domain.Tile)}
}

func (r *fakeTileRepo) Create(_ context.Context, tile *domain.Tile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.tiles {
		if existing.ShopID == tile.ShopID && existing.SKU == tile.SKU {
			return domain.ErrDuplicateSKU
		}
	}
	r.tiles[tile.ID] = cloneTile(tile)
	return nil
}

func (r *fakeTileRepo) FindByID(_ context.Context, id string) (*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tile, ok := r.tiles[id]
	if !ok {
		return nil, nil
	}
	return cloneTile(tile), nil
}

func (r *fakeTileRepo) List(_ context.Context, query domain.TileQuery) ([]*domain.Tile, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.Tile
	search := strings.ToLower(query.Search)
	for _, tile := range r.tiles {
		if query.ShopID != "" && tile.ShopID != query.ShopID {
			continue
		}
		if !query.IncludeInactive && !tile.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(tile.Name), search) && !strings.Contains(strings.ToLower(tile.SKU), search) {
			continue
		}
		matched = append(matched, cloneTile(tile))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := int64(len(matched))
	start := min(query.Offset, total)
	end := total
	if query.Limit > 0 {
		end = min(start+query.Limit, total)
	}
	return matched[start:end], total, nil
}

func (r *fakeTileRepo) FindByShop(_ context.Context, shopID string) ([]*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tiles []*domain.Tile
	for _, tile := range r.tiles {
		if tile.ShopID == shopID {
			tiles = append(tiles, cloneTile(tile))
		}
	}
	return tiles, nil
}

func (r *fakeTileRepo) Update(_ context.Context, tile *domain.Tile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tiles[tile.ID]; !ok {
		return domain.ErrTileNotFound
	}
	r.tiles[tile.ID] = cloneTile(tile)
	return nil
}

func (r *fakeTileRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.tiles, id)
	return nil
}

func (r *fakeTileRepo) ApplyStockUpdate(_ context.Context, update domain.StockUpdate) (*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyHook != nil {
		if err := r.applyHook(update); err != nil {
			return nil, err
		}
	}
	stored, ok := r.tiles[update.TileID]
	if !ok {
		return nil, domain.ErrTileNotFound
	}
	tile := cloneTile(stored)
	if err := update.ApplyTo(tile); err != nil {
		return nil, err
	}
	r.tiles[tile.ID] = tile
	r.applied = append(r.applied, update)
	return cloneTile(tile), nil
}

func (r *fakeTileRepo) SetQuantity(_ context.Context, id, shopID string, quantity int) (*domain.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tiles[id]
	if !ok || stored.ShopID != shopID {
		return nil, domain.ErrTileNotFound
	}
	if quantity < stored.ReservedQuantity {
		return nil, &domain.QuantityError{Field: "quantity", Value: quantity, Reason: "must not be below reserved pieces"}
	}
	previous := cloneTile(stored)
	stored.Quantity = quantity
	return previous, nil
}

// put stores a tile as is, bypassing the ledger
func (r *fakeTileRepo) put(tile *domain.Tile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tiles[tile.ID] = cloneTile(tile)
}

func (r *fakeTileRepo) get(t *testing.T, id string) *domain.Tile {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	tile, ok := r.tiles[id]
	require.True(t, ok, "tile %s not stored", id)
	return cloneTile(tile)
}

type fakeTxnRepo struct {
	mu   sync.Mutex
	txns []*domain.StockTransaction

	saveErr    error
	saveAllErr error
	deleteErr  error
}

func (r *fakeTxnRepo) Save(_ context.Context, txn *domain.StockTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	c := *txn
	r.txns = append(r.txns, &c)
	return nil
}

func (r *fakeTxnRepo) SaveAll(_ context.Context, txns []*domain.StockTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveAllErr != nil {
		return r.saveAllErr
	}
	for _, txn := range txns {
		c := *txn
		r.txns = append(r.txns, &c)
	}
	return nil
}

func (r *fakeTxnRepo) FindByID(_ context.Context, id string) (*domain.StockTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.txns {
		if txn.ID == id {
			c := *txn
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeTxnRepo) matching(filter domain.ReportFilter) []*domain.StockTransaction {
	var matched []*domain.StockTransaction
	for _, txn := range r.txns {
		if filter.Matches(txn) {
			matched = append(matched, txn)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return matched
}

func (r *fakeTxnRepo) Find(_ context.Context, filter domain.ReportFilter, offset, limit int64) ([]*domain.StockTransaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := r.matching(filter)
	total := int64(len(matched))
	start := min(offset, total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (r *fakeTxnRepo) Stats(_ context.Context, filter domain.ReportFilter) (domain.ReportStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.SummarizeTransactions(r.matching(filter)), nil
}

func (r *fakeTxnRepo) Delete(_ context.Context, id string) error {
	return r.DeleteByIDs(context.Background(), []string{id})
}

func (r *fakeTxnRepo) DeleteByIDs(_ context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := r.txns[:0]
	for _, txn := range r.txns {
		if !drop[txn.ID] {
			kept = append(kept, txn)
		}
	}
	r.txns = kept
	return nil
}

func (r *fakeTxnRepo) DeleteMatching(_ context.Context, filter domain.ReportFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.txns[:0]
	var deleted int64
	for _, txn := range r.txns {
		if filter.Matches(txn) {
			deleted++
			continue
		}
		kept = append(kept, txn)
	}
	r.txns = kept
	return deleted, nil
}

func (r *fakeTxnRepo) forTile(tileID string) []*domain.StockTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var txns []*domain.StockTransaction
	for _, txn := range r.txns {
		if txn.TileID == tileID {
			txns = append(txns, txn)
		}
	}
	return txns
}

// ledgerSum is the signed sum of a tile's transactions, which must equal
// its available pieces
func (r *fakeTxnRepo) ledgerSum(tileID string) int {
	sum := 0
	for _, txn := range r.forTile(tileID) {
		sum += txn.Quantity
	}
	return sum
}

type fakeSaleRepo struct {
	mu    sync.Mutex
	sales map[string]*domain.Sale

	createErr error
	claimErr  error
	// beforeUpdate runs before each conditional update
	beforeUpdate func(sale *domain.Sale) error
}

func newFakeSaleRepo() *fakeSaleRepo {
	return &fakeSaleRepo{sales: make(map[string]*domain.Sale)}
}

func (r *fakeSaleRepo) Create(_ context.Context, sale *domain.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (r *fakeSaleRepo) FindByID(_ context.Context, id string) (*domain.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sale, ok := r.sales[id]
	if !ok {
		return nil, nil
	}
	return cloneSale(sale), nil
}

func (r *fakeSaleRepo) List(_ context.Context, query domain.SaleQuery) ([]*domain.Sale, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.Sale
	for _, sale := range r.sales {
		if query.ShopID != "" && sale.ShopID != query.ShopID {
			continue
		}
		if query.Status != "" && sale.Status != query.Status {
			continue
		}
		if query.StartDate != nil && sale.CreatedAt.Before(*query.StartDate) {
			continue
		}
		if query.EndDate != nil && sale.CreatedAt.After(*query.EndDate) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	start := min(query.Offset, total)
	end := min(start+query.Limit, total)
	return matched[start:end], total, nil
}

func (r *fakeSaleRepo) Update(_ context.Context, sale *domain.Sale, expected domain.SaleStatus) error {
	if r.beforeUpdate != nil {
		if err := r.beforeUpdate(sale); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sales[sale.ID]
	if !ok {
		return domain.ErrSaleNotFound
	}
	if stored.Status != expected {
		return &domain.StateError{From: stored.Status, To: sale.Status, Message: "sale status changed"}
	}
	updated := cloneSale(sale)
	if sale.Status == expected {
		updated.PendingRelease = stored.PendingRelease
	}
	r.sales[sale.ID] = updated
	return nil
}

func (r *fakeSaleRepo) ClaimRelease(_ context.Context, saleID, tileID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return false, r.claimErr
	}
	stored, ok := r.sales[saleID]
	if !ok {
		return false, nil
	}
	for i, pending := range stored.PendingRelease {
		if pending == tileID {
			stored.PendingRelease = append(stored.PendingRelease[:i:i], stored.PendingRelease[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSaleRepo) RequeueRelease(_ context.Context, saleID, tileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sales[saleID]
	if !ok {
		return domain.ErrSaleNotFound
	}
	for _, pending := range stored.PendingRelease {
		if pending == tileID {
			return nil
		}
	}
	stored.PendingRelease = append(stored.PendingRelease, tileID)
	return nil
}

func (r *fakeSaleRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sales, id)
	return nil
}

func (r *fakeSaleRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sales)
}

type fakeShopRepo struct {
	mu    sync.Mutex
	shops map[string]*domain.Shop
}

func newFakeShopRepo() *fakeShopRepo {
	return &fakeShopRepo{shops: make(map[string]*domain.Shop)}
}

func (r *fakeShopRepo) FindByID(_ context.Context, id string) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shop, ok := r.shops[id]
	if !ok {
		return nil, nil
	}
	c := *shop
	return &c, nil
}

func (r *fakeShopRepo) Save(_ context.Context, shop *domain.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *shop
	r.shops[shop.ID] = &c
	return nil
}

func (r *fakeShopRepo) UpdateSettings(_ context.Context, id string, settings domain.ShopSettings) (*domain.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shop, ok := r.shops[id]
	if !ok {
		shop = &domain.Shop{ID: id, IsActive: true}
		r.shops[id] = shop
	}
	shop.Settings = settings
	c := *shop
	return &c, nil
}

type fakeCounterRepo struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (r *fakeCounterRepo) Next(_ context.Context, key string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	if r.values == nil {
		r.values = make(map[string]int64)
	}
	r.values[key]++
	return r.values[key], nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.DomainEvent
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	return p.PublishAll(ctx, []domain.DomainEvent{event})
}

func (p *fakePublisher) PublishAll(_ context.Context, events []domain.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType())
	}
	return types
}

// testEnv wires every service to shared in-memory repositories
type testEnv struct {
	tiles     *fakeTileRepo
	txns      *fakeTxnRepo
	sales     *fakeSaleRepo
	shops     *fakeShopRepo
	counters  *fakeCounterRepo
	publisher *fakePublisher
	metrics   *metrics.Metrics

	stock  *StockService
	sale   *SaleService
	tile   *TileService
	report *ReportService
	shop   *ShopService
}

func testLogger() *logging.Logger {
	cfg := logging.DefaultConfig("stock-service-test")
	cfg.Level = logging.LevelError
	cfg.Output = io.Discard
	return logging.New(cfg)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		tiles:     newFakeTileRepo(),
		txns:      &fakeTxnRepo{},
		sales:     newFakeSaleRepo(),
		shops:     newFakeShopRepo(),
		counters:  &fakeCounterRepo{},
		publisher: &fakePublisher{},
		metrics:   metrics.New(metrics.DefaultConfig("stock-service-test")),
	}
	logger := testLogger()
	env.stock = NewStockService(env.tiles, env.txns, env.publisher, logger, env.metrics)
	env.sale = NewSaleService(env.tiles, env.sales, env.txns, env.counters, env.publisher, logger, env.metrics)
	env.tile = NewTileService(env.tiles, env.txns, env.shops, env.counters, env.publisher, logger, env.metrics, domain.DefaultLowStockThreshold)
	env.report = NewReportService(env.txns, logger)
	env.shop = NewShopService(env.shops, logger, domain.DefaultLowStockThreshold)
	return env
}

// createTile creates a tile in shop-1 through the catalogue so its initial
// stock is on the ledger
func (e *testEnv) createTile(t *testing.T, name string, itemsPerPacket, quantity int) *TileDTO {
	t.Helper()
	dto, err := e.tile.CreateTile(context.Background(), shopAdmin, CreateTileCommand{
		Name:           name,
		Price:          250,
		ItemsPerPacket: itemsPerPacket,
		Quantity:       quantity,
	})
	require.NoError(t, err)
	return dto
}

func (e *testEnv) createSale(t *testing.T, lines ...SaleItemInput) *SaleDTO {
	t.Helper()
	dto, err := e.sale.CreateSale(context.Background(), shopStaff, CreateSaleCommand{
		Customer: CustomerInput{Name: "Ayesha Khan"},
		Items:    lines,
	})
	require.NoError(t, err)
	return dto
}

// requireLedgerBalanced checks that a tile's transactions add up to its
// available pieces
func (e *testEnv) requireLedgerBalanced(t *testing.T, tileID string) {
	t.Helper()
	tile := e.tiles.get(t, tileID)
	require.Equal(t, tile.Available(), e.txns.ledgerSum(tileID), "ledger out of balance for %s", tile.Name)
}
