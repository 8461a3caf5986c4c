// Package ledgertest provides an in-memory ledger used by service tests
// across modules. It mirrors the transactional semantics of the SQL
// repository: a failed callback restores the pre-transaction state.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/loomcart/loomcart/internal/ledger"
)

// Store holds lots and stocks in memory.
type Store struct {
	NextLotID   int64
	NextStockID int64
	Lots        map[int64]*ledger.Lot
	Stocks      map[string]*ledger.Stock
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		Lots:   make(map[int64]*ledger.Lot),
		Stocks: make(map[string]*ledger.Stock),
	}
}

func stockKey(variantID, locationID int64) string {
	return fmt.Sprintf("%d:%d", variantID, locationID)
}

type snapshot struct {
	nextLotID   int64
	nextStockID int64
	lots        map[int64]ledger.Lot
	stocks      map[string]ledger.Stock
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		nextLotID:   s.NextLotID,
		nextStockID: s.NextStockID,
		lots:        make(map[int64]ledger.Lot, len(s.Lots)),
		stocks:      make(map[string]ledger.Stock, len(s.Stocks)),
	}
	for id, lot := range s.Lots {
		snap.lots[id] = *lot
	}
	for key, stock := range s.Stocks {
		snap.stocks[key] = *stock
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.NextLotID = snap.nextLotID
	s.NextStockID = snap.nextStockID
	s.Lots = make(map[int64]*ledger.Lot, len(snap.lots))
	for id := range snap.lots {
		lot := snap.lots[id]
		s.Lots[id] = &lot
	}
	s.Stocks = make(map[string]*ledger.Stock, len(snap.stocks))
	for key := range snap.stocks {
		stock := snap.stocks[key]
		s.Stocks[key] = &stock
	}
}

// WithTx runs fn, rolling the store back when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	snap := s.snapshot()
	if err := fn(ctx, &Tx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// Tx implements ledger.Tx against the store.
type Tx struct {
	store *Store
}

// NewTx exposes the transactional surface directly, for callers that manage
// their own rollback (sibling module fakes embed this).
func NewTx(store *Store) *Tx {
	return &Tx{store: store}
}

func (t *Tx) CreateLot(ctx context.Context, input ledger.NewLot) (ledger.Lot, error) {
	if input.Qty <= 0 {
		return ledger.Lot{}, ledger.ErrInvalidQuantity
	}
	// Mirror the repository: a missing summary row is materialised at zero
	// quantity so every lot carries a stock id.
	stock, ok := t.store.Stocks[stockKey(input.VariantID, input.LocationID)]
	if !ok {
		t.store.NextStockID++
		stock = &ledger.Stock{
			ID:         t.store.NextStockID,
			ProductID:  input.ProductID,
			VariantID:  input.VariantID,
			LocationID: input.LocationID,
			UpdatedAt:  time.Now(),
		}
		t.store.Stocks[stockKey(input.VariantID, input.LocationID)] = stock
	}
	t.store.NextLotID++
	lot := &ledger.Lot{
		ID:           t.store.NextLotID,
		StockID:      stock.ID,
		VariantID:    input.VariantID,
		ProductID:    input.ProductID,
		LocationID:   input.LocationID,
		LotNumber:    input.LotNumber,
		ReceivedAt:   input.ReceivedAt,
		CostPerUnit:  input.CostPerUnit,
		QtyTotal:     input.Qty,
		QtyAvailable: input.Qty,
		SourceType:   input.SourceType,
		SourceRefID:  input.SourceRefID,
		ExpiryDate:   input.ExpiryDate,
		Status:       ledger.LotStatusActive,
		CreatedAt:    time.Now(),
	}
	t.store.Lots[lot.ID] = lot
	return *lot, nil
}

func (t *Tx) LockActiveLots(ctx context.Context, variantID, locationID int64) ([]ledger.Lot, error) {
	var lots []ledger.Lot
	for _, lot := range t.store.Lots {
		if lot.VariantID == variantID && lot.LocationID == locationID && lot.Status == ledger.LotStatusActive && lot.QtyAvailable > 0 {
			lots = append(lots, *lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].ReceivedAt.Equal(lots[j].ReceivedAt) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].ReceivedAt.Before(lots[j].ReceivedAt)
	})
	return lots, nil
}

func (t *Tx) LockSourceLots(ctx context.Context, source ledger.LotSourceType, refID, variantID, locationID int64) ([]ledger.Lot, error) {
	var lots []ledger.Lot
	for _, lot := range t.store.Lots {
		if lot.SourceType == source && lot.SourceRefID == refID && lot.VariantID == variantID && lot.LocationID == locationID {
			lots = append(lots, *lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].ReceivedAt.Equal(lots[j].ReceivedAt) {
			return lots[i].ID > lots[j].ID
		}
		return lots[i].ReceivedAt.After(lots[j].ReceivedAt)
	})
	return lots, nil
}

func (t *Tx) LockNewestLot(ctx context.Context, variantID, locationID int64) (ledger.Lot, error) {
	var newest *ledger.Lot
	for _, lot := range t.store.Lots {
		if lot.VariantID != variantID || lot.LocationID != locationID {
			continue
		}
		if lot.Status != ledger.LotStatusActive && lot.Status != ledger.LotStatusClosed {
			continue
		}
		if newest == nil || lot.ReceivedAt.After(newest.ReceivedAt) || (lot.ReceivedAt.Equal(newest.ReceivedAt) && lot.ID > newest.ID) {
			newest = lot
		}
	}
	if newest == nil {
		return ledger.Lot{}, ledger.ErrNoLotForAddition
	}
	return *newest, nil
}

func (t *Tx) LockExpiredLots(ctx context.Context, asOf time.Time) ([]ledger.Lot, error) {
	var lots []ledger.Lot
	for _, lot := range t.store.Lots {
		if lot.Status == ledger.LotStatusActive && lot.ExpiryDate != nil && lot.ExpiryDate.Before(asOf) {
			lots = append(lots, *lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].ID < lots[j].ID })
	return lots, nil
}

func (t *Tx) SetLotAvailability(ctx context.Context, lotID, qtyAvailable int64, status ledger.LotStatus) error {
	lot, ok := t.store.Lots[lotID]
	if !ok {
		return ledger.ErrLotNotFound
	}
	lot.QtyAvailable = qtyAvailable
	lot.Status = status
	return nil
}

func (t *Tx) SetLotCost(ctx context.Context, lotID int64, costPerUnit float64) error {
	lot, ok := t.store.Lots[lotID]
	if !ok {
		return ledger.ErrLotNotFound
	}
	lot.CostPerUnit = costPerUnit
	return nil
}

func (t *Tx) ReceiveIntoLot(ctx context.Context, lotID, qty int64) (ledger.Lot, error) {
	if qty <= 0 {
		return ledger.Lot{}, ledger.ErrInvalidQuantity
	}
	lot, ok := t.store.Lots[lotID]
	if !ok {
		return ledger.Lot{}, ledger.ErrLotNotFound
	}
	lot.QtyAvailable += qty
	if lot.QtyAvailable > lot.QtyTotal {
		lot.QtyTotal = lot.QtyAvailable
	}
	lot.Status = ledger.LotStatusActive
	return *lot, nil
}

func (t *Tx) SetLotStatus(ctx context.Context, lotID int64, status ledger.LotStatus) error {
	lot, ok := t.store.Lots[lotID]
	if !ok {
		return ledger.ErrLotNotFound
	}
	lot.Status = status
	return nil
}

func (t *Tx) GetStockForUpdate(ctx context.Context, variantID, locationID int64) (ledger.Stock, error) {
	stock, ok := t.store.Stocks[stockKey(variantID, locationID)]
	if !ok {
		return ledger.Stock{}, ledger.ErrStockNotFound
	}
	return *stock, nil
}

func (t *Tx) GetStockByIDForUpdate(ctx context.Context, stockID int64) (ledger.Stock, error) {
	for _, stock := range t.store.Stocks {
		if stock.ID == stockID {
			return *stock, nil
		}
	}
	return ledger.Stock{}, ledger.ErrStockNotFound
}

func (t *Tx) ApplyStockDelta(ctx context.Context, delta ledger.StockDelta) (ledger.Stock, error) {
	key := stockKey(delta.VariantID, delta.LocationID)
	stock, ok := t.store.Stocks[key]
	if !ok {
		t.store.NextStockID++
		stock = &ledger.Stock{
			ID:         t.store.NextStockID,
			ProductID:  delta.ProductID,
			VariantID:  delta.VariantID,
			LocationID: delta.LocationID,
		}
		t.store.Stocks[key] = stock
	}
	stock.AvailableQuantity += delta.Available
	stock.TotalReceived += delta.Received
	stock.TotalSold += delta.Sold
	stock.UpdatedAt = time.Now()
	return *stock, nil
}

// Helpers used by test assertions.

// Stock returns the stock row for (variant, location), if present.
func (s *Store) Stock(variantID, locationID int64) (ledger.Stock, bool) {
	stock, ok := s.Stocks[stockKey(variantID, locationID)]
	if !ok {
		return ledger.Stock{}, false
	}
	return *stock, true
}

// ActiveLotSum sums qty_available across active lots for (variant, location).
func (s *Store) ActiveLotSum(variantID, locationID int64) int64 {
	var sum int64
	for _, lot := range s.Lots {
		if lot.VariantID == variantID && lot.LocationID == locationID && lot.Status == ledger.LotStatusActive {
			sum += lot.QtyAvailable
		}
	}
	return sum
}

// SeedLot inserts a lot and bumps the matching stock row, keeping the
// cross-entity invariant intact for test fixtures.
func (s *Store) SeedLot(lot ledger.Lot) ledger.Lot {
	tx := &Tx{store: s}
	stock, _ := tx.ApplyStockDelta(context.Background(), ledger.StockDelta{
		ProductID:  lot.ProductID,
		VariantID:  lot.VariantID,
		LocationID: lot.LocationID,
		Available:  lot.QtyAvailable,
		Received:   lot.QtyTotal,
	})
	s.NextLotID++
	lot.ID = s.NextLotID
	lot.StockID = stock.ID
	if lot.Status == "" {
		lot.Status = ledger.LotStatusActive
	}
	stored := lot
	s.Lots[lot.ID] = &stored
	return lot
}

// Read-side methods satisfying ledger.RepositoryPort.

// GetStock finds a stock row by id.
func (s *Store) GetStock(ctx context.Context, id int64) (ledger.Stock, error) {
	for _, stock := range s.Stocks {
		if stock.ID == id {
			return *stock, nil
		}
	}
	return ledger.Stock{}, ledger.ErrStockNotFound
}

// ListStocks lists stock rows matching the filter.
func (s *Store) ListStocks(ctx context.Context, filter ledger.StockFilter) ([]ledger.Stock, int, error) {
	var stocks []ledger.Stock
	for _, stock := range s.Stocks {
		if filter.LocationID != 0 && stock.LocationID != filter.LocationID {
			continue
		}
		if filter.VariantID != 0 && stock.VariantID != filter.VariantID {
			continue
		}
		if filter.ProductID != 0 && stock.ProductID != filter.ProductID {
			continue
		}
		stocks = append(stocks, *stock)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].ID < stocks[j].ID })
	return stocks, len(stocks), nil
}

// GetStocksByProductSlug is unsupported in the memory store.
func (s *Store) GetStocksByProductSlug(ctx context.Context, slug string) ([]ledger.Stock, error) {
	return nil, ledger.ErrStockNotFound
}

// UpdateStock patches a stock row.
func (s *Store) UpdateStock(ctx context.Context, id int64, patch ledger.StockPatch) (ledger.Stock, error) {
	for _, stock := range s.Stocks {
		if stock.ID == id {
			if patch.QtyReserved != nil {
				stock.QtyReserved = *patch.QtyReserved
			}
			return *stock, nil
		}
	}
	return ledger.Stock{}, ledger.ErrStockNotFound
}

// DeleteStock removes an empty stock row.
func (s *Store) DeleteStock(ctx context.Context, id int64) error {
	for key, stock := range s.Stocks {
		if stock.ID == id {
			if stock.AvailableQuantity != 0 {
				return ledger.ErrStockNotEmpty
			}
			delete(s.Stocks, key)
			return nil
		}
	}
	return ledger.ErrStockNotFound
}

// FullStockReport builds report rows from the store.
func (s *Store) FullStockReport(ctx context.Context, filter ledger.ReportFilter) ([]ledger.ReportRow, int, error) {
	var rows []ledger.ReportRow
	for _, stock := range s.Stocks {
		if filter.Threshold > 0 && stock.AvailableQuantity > filter.Threshold {
			continue
		}
		row := ledger.ReportRow{
			StockID:           stock.ID,
			SKU:               fmt.Sprintf("variant:%d", stock.VariantID),
			ProductID:         stock.ProductID,
			VariantID:         stock.VariantID,
			LocationID:        stock.LocationID,
			AvailableQuantity: stock.AvailableQuantity,
			TotalReceived:     stock.TotalReceived,
			TotalSold:         stock.TotalSold,
		}
		var layerQty int64
		var layerCost float64
		for _, lot := range s.Lots {
			if lot.VariantID == stock.VariantID && lot.LocationID == stock.LocationID && lot.Status == ledger.LotStatusActive {
				row.LotCount++
				layerQty += lot.QtyAvailable
				layerCost += float64(lot.QtyAvailable) * lot.CostPerUnit
			}
		}
		if layerQty > 0 {
			row.AvgCost = layerCost / float64(layerQty)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StockID < rows[j].StockID })
	return rows, len(rows), nil
}

// LowStock filters by threshold.
func (s *Store) LowStock(ctx context.Context, threshold int64, page, perPage int) ([]ledger.ReportRow, int, error) {
	return s.FullStockReport(ctx, ledger.ReportFilter{Threshold: threshold, Page: page, PerPage: perPage})
}

// ListLotsByStock lists lots oldest first.
func (s *Store) ListLotsByStock(ctx context.Context, variantID, locationID int64) ([]ledger.Lot, error) {
	var lots []ledger.Lot
	for _, lot := range s.Lots {
		if lot.VariantID == variantID && lot.LocationID == locationID {
			lots = append(lots, *lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].ReceivedAt.Equal(lots[j].ReceivedAt) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].ReceivedAt.Before(lots[j].ReceivedAt)
	})
	return lots, nil
}
