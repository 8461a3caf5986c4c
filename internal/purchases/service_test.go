package purchases_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/costdefaults"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/ledger/ledgertest"
	"github.com/loomcart/loomcart/internal/purchases"
	"github.com/loomcart/loomcart/internal/shared"
)

type memoryRepo struct {
	store      *ledgertest.Store
	nextID     int64
	nextItemID int64
	sequences  map[string]int64
	docs       map[int64]*purchases.Purchase
	codes      map[string]*barcodes.Barcode
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		store:     ledgertest.NewStore(),
		sequences: map[string]int64{},
		docs:      map[int64]*purchases.Purchase{},
		codes:     map[string]*barcodes.Barcode{},
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, purchases.TxRepository) error) error {
	docsSnap := make(map[int64]purchases.Purchase, len(m.docs))
	for id, doc := range m.docs {
		docsSnap[id] = *doc
	}
	codesSnap := make(map[string]barcodes.Barcode, len(m.codes))
	for code, b := range m.codes {
		codesSnap[code] = *b
	}
	seqSnap := make(map[string]int64, len(m.sequences))
	for key, value := range m.sequences {
		seqSnap[key] = value
	}
	nextID, nextItemID := m.nextID, m.nextItemID

	err := m.store.WithTx(ctx, func(ctx context.Context, ltx ledger.Tx) error {
		return fn(ctx, &memoryTx{Tx: ltx, repo: m})
	})
	if err != nil {
		m.nextID, m.nextItemID = nextID, nextItemID
		m.docs = make(map[int64]*purchases.Purchase, len(docsSnap))
		for id := range docsSnap {
			doc := docsSnap[id]
			m.docs[id] = &doc
		}
		m.codes = make(map[string]*barcodes.Barcode, len(codesSnap))
		for code := range codesSnap {
			b := codesSnap[code]
			m.codes[code] = &b
		}
		m.sequences = seqSnap
	}
	return err
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (purchases.Purchase, error) {
	doc, ok := m.docs[id]
	if !ok {
		return purchases.Purchase{}, purchases.ErrNotFound
	}
	return *doc, nil
}

func (m *memoryRepo) List(_ context.Context, filter purchases.Filter) ([]purchases.Purchase, int, error) {
	var out []purchases.Purchase
	for _, doc := range m.docs {
		if filter.LocationID != 0 && doc.LocationID != filter.LocationID {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, *doc)
	}
	return out, len(out), nil
}

type memoryTx struct {
	ledger.Tx
	repo *memoryRepo
}

func (t *memoryTx) NextNumber(_ context.Context, locationID int64) (int64, error) {
	key := shared.PurchaseKey(locationID)
	t.repo.sequences[key]++
	return t.repo.sequences[key], nil
}

func (t *memoryTx) InsertPurchase(_ context.Context, p *purchases.Purchase) error {
	t.repo.nextID++
	p.ID = t.repo.nextID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	for i := range p.Items {
		t.repo.nextItemID++
		p.Items[i].ID = t.repo.nextItemID
		p.Items[i].PurchaseID = p.ID
	}
	stored := *p
	t.repo.docs[p.ID] = &stored
	return nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, id int64) (purchases.Purchase, error) {
	doc, ok := t.repo.docs[id]
	if !ok {
		return purchases.Purchase{}, purchases.ErrNotFound
	}
	return *doc, nil
}

func (t *memoryTx) ReplaceItems(_ context.Context, purchaseID int64, items []purchases.PurchaseItem, expenses []purchases.Expense, totalCost float64) error {
	doc, ok := t.repo.docs[purchaseID]
	if !ok {
		return purchases.ErrNotFound
	}
	for i := range items {
		t.repo.nextItemID++
		items[i].ID = t.repo.nextItemID
		items[i].PurchaseID = purchaseID
	}
	doc.Items = items
	doc.Expenses = expenses
	doc.TotalCost = totalCost
	return nil
}

func (t *memoryTx) SetItemLot(_ context.Context, itemID, lotID int64) error {
	for _, doc := range t.repo.docs {
		for i := range doc.Items {
			if doc.Items[i].ID == itemID {
				doc.Items[i].LotID = lotID
				return nil
			}
		}
	}
	return purchases.ErrNotFound
}

func (t *memoryTx) SetStatus(_ context.Context, id int64, status purchases.Status) error {
	doc, ok := t.repo.docs[id]
	if !ok {
		return purchases.ErrNotFound
	}
	doc.Status = status
	return nil
}

func (t *memoryTx) DeletePurchase(_ context.Context, id int64) error {
	if _, ok := t.repo.docs[id]; !ok {
		return purchases.ErrNotFound
	}
	delete(t.repo.docs, id)
	return nil
}

func (t *memoryTx) LockUnusedBarcodes(_ context.Context, codes []string) ([]barcodes.Barcode, error) {
	out := make([]barcodes.Barcode, 0, len(codes))
	for _, code := range codes {
		b, ok := t.repo.codes[code]
		if !ok {
			return nil, barcodes.ErrNotFound
		}
		if b.IsUsed {
			return nil, barcodes.ErrAlreadyUsed
		}
		out = append(out, *b)
	}
	return out, nil
}

func (t *memoryTx) MarkBarcodesUsed(_ context.Context, codes []string, lotID, stockID int64, entry barcodes.UpdatedLog) error {
	for _, code := range codes {
		b, ok := t.repo.codes[code]
		if !ok || b.IsUsed {
			return barcodes.ErrAlreadyUsed
		}
		b.IsUsed = true
		b.Status = barcodes.StatusInStock
		lot, stock := lotID, stockID
		b.LotID, b.StockID = &lot, &stock
		b.UpdatedLogs = append([]barcodes.UpdatedLog{entry}, b.UpdatedLogs...)
	}
	return nil
}

type fakeCosts map[int64]costdefaults.DefaultCost

func (f fakeCosts) ByVariant(_ context.Context, variantID int64) (costdefaults.DefaultCost, error) {
	entry, ok := f[variantID]
	if !ok {
		return costdefaults.DefaultCost{}, costdefaults.ErrNotFound
	}
	return entry, nil
}

func newService(repo *memoryRepo, costs fakeCosts) *purchases.Service {
	return purchases.NewService(repo, costs, nil, nil, nil, nil)
}

func seedBarcode(repo *memoryRepo, code, sku string, variantID, productID int64) {
	repo.codes[code] = &barcodes.Barcode{
		Code:      code,
		SKU:       sku,
		VariantID: variantID,
		ProductID: productID,
		Status:    barcodes.StatusQCPending,
		Condition: barcodes.ConditionNew,
	}
}

func TestCreateApportionsExpensesIntoLotCost(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})

	purchase, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}},
		Expenses:   []purchases.Expense{{Type: "freight", Amount: 50}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, purchase.PurchaseNumber)
	require.Equal(t, purchases.StatusReceived, purchase.Status)
	require.Equal(t, 1050.0, purchase.TotalCost)
	require.Len(t, purchase.Items, 1)
	require.Equal(t, 105.0, purchase.Items[0].EffectiveUnitCost)

	lot := repo.store.Lots[purchase.Items[0].LotID]
	require.NotNil(t, lot)
	require.Equal(t, 105.0, lot.CostPerUnit)
	require.EqualValues(t, 10, lot.QtyAvailable)
	require.Equal(t, ledger.SourcePurchase, lot.SourceType)
	require.Equal(t, purchase.ID, lot.SourceRefID)

	stock, ok := repo.store.Stock(11, 1)
	require.True(t, ok)
	require.EqualValues(t, 10, stock.AvailableQuantity)
	require.EqualValues(t, 10, stock.TotalReceived)

	second, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 1, UnitCost: 100}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 2, second.PurchaseNumber)
}

func TestCreateApportionsProRataAcrossItems(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})

	purchase, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items: []purchases.ItemInput{
			{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}, // total 1000
			{VariantID: 12, ProductID: 5, Qty: 10, UnitCost: 300}, // total 3000
		},
		Expenses: []purchases.Expense{{Type: "freight", Amount: 100}},
	})
	require.NoError(t, err)
	// 1000/4000 share -> 25 of the 100, 3000/4000 -> 75.
	require.InDelta(t, 102.5, purchase.Items[0].EffectiveUnitCost, 1e-9)
	require.InDelta(t, 307.5, purchase.Items[1].EffectiveUnitCost, 1e-9)
	require.Equal(t, 4100.0, purchase.TotalCost)
}

func TestCreateBindsLotToFreshStockRow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})

	// First receipt ever for this (variant, location): no stock row exists
	// when the lot is inserted.
	purchase, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 3,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 21, ProductID: 7, Qty: 5, UnitCost: 40}},
	})
	require.NoError(t, err)

	stock, ok := repo.store.Stock(21, 3)
	require.True(t, ok)
	require.EqualValues(t, 5, stock.AvailableQuantity)
	require.EqualValues(t, 5, stock.TotalReceived)

	lot := repo.store.Lots[purchase.Items[0].LotID]
	require.NotNil(t, lot)
	require.NotZero(t, lot.StockID)
	require.Equal(t, stock.ID, lot.StockID)
}

func TestUpdateNoDeltaRewritesLotCostOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}},
	})
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), created.ID, []purchases.ItemInput{
		{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 110},
	}, nil, "ops")
	require.NoError(t, err)
	require.Equal(t, 1100.0, updated.TotalCost)

	lot := repo.store.Lots[created.Items[0].LotID]
	require.Equal(t, 110.0, lot.CostPerUnit)
	require.EqualValues(t, 10, lot.QtyAvailable)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 10, stock.AvailableQuantity)
}

func TestUpdateIncreaseAppendsLot(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}},
	})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, []purchases.ItemInput{
		{VariantID: 11, ProductID: 5, Qty: 15, UnitCost: 100},
	}, nil, "ops")
	require.NoError(t, err)

	require.Len(t, repo.store.Lots, 2)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 15, stock.AvailableQuantity)
	require.EqualValues(t, 15, stock.TotalReceived)
	require.EqualValues(t, 15, repo.store.ActiveLotSum(11, 1))
}

func TestUpdateAggregatesRepeatedVariantLines(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items: []purchases.ItemInput{
			{VariantID: 11, ProductID: 5, Qty: 6, UnitCost: 100},
			{VariantID: 11, ProductID: 5, Qty: 4, UnitCost: 100},
		},
	})
	require.NoError(t, err)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 10, stock.AvailableQuantity)

	// Resubmitting the same two lines is a no-op: the variant's total is
	// unchanged, so no quantity may move.
	updated, err := svc.Update(context.Background(), created.ID, []purchases.ItemInput{
		{VariantID: 11, ProductID: 5, Qty: 6, UnitCost: 100},
		{VariantID: 11, ProductID: 5, Qty: 4, UnitCost: 100},
	}, nil, "ops")
	require.NoError(t, err)
	require.Equal(t, 1000.0, updated.TotalCost)

	stock, _ = repo.store.Stock(11, 1)
	require.EqualValues(t, 10, stock.AvailableQuantity)
	require.EqualValues(t, 10, stock.TotalReceived)
	require.EqualValues(t, 10, repo.store.ActiveLotSum(11, 1))

	// Shifting quantity between the lines while keeping the total is equally
	// a no-op for the ledger.
	_, err = svc.Update(context.Background(), created.ID, []purchases.ItemInput{
		{VariantID: 11, ProductID: 5, Qty: 7, UnitCost: 100},
		{VariantID: 11, ProductID: 5, Qty: 3, UnitCost: 100},
	}, nil, "ops")
	require.NoError(t, err)
	stock, _ = repo.store.Stock(11, 1)
	require.EqualValues(t, 10, stock.AvailableQuantity)
	require.EqualValues(t, 10, repo.store.ActiveLotSum(11, 1))
}

func TestUpdateDecreaseDrainsNewestLotFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		ReceivedAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}},
	})
	require.NoError(t, err)
	firstLotID := created.Items[0].LotID

	_, err = svc.Update(context.Background(), created.ID, []purchases.ItemInput{
		{VariantID: 11, ProductID: 5, Qty: 15, UnitCost: 100},
	}, nil, "ops")
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), created.ID, []purchases.ItemInput{
		{VariantID: 11, ProductID: 5, Qty: 12, UnitCost: 100},
	}, nil, "ops")
	require.NoError(t, err)

	// The retraction comes out of the most recently created lot.
	var newestRemaining, firstRemaining int64 = -1, -1
	for id, lot := range repo.store.Lots {
		if id == firstLotID {
			firstRemaining = lot.QtyAvailable
		} else {
			newestRemaining = lot.QtyAvailable
		}
	}
	require.EqualValues(t, 10, firstRemaining)
	require.EqualValues(t, 2, newestRemaining)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 12, stock.AvailableQuantity)
	require.EqualValues(t, 12, stock.TotalReceived)
}

func TestDeleteReversesPurchase(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID, "ops"))

	_, err = svc.GetByID(context.Background(), created.ID)
	require.ErrorIs(t, err, purchases.ErrNotFound)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 0, stock.AvailableQuantity)
	require.EqualValues(t, 0, stock.TotalReceived)
	require.EqualValues(t, 0, repo.store.ActiveLotSum(11, 1))
}

func TestDeleteFailsWhenStockConsumed(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 10, UnitCost: 100}},
	})
	require.NoError(t, err)

	// Simulate a downstream sale eating part of the lot.
	tx := ledgertest.NewTx(repo.store)
	_, err = ledger.ConsumeFIFO(context.Background(), tx, "SKU-1", 11, 1, 4)
	require.NoError(t, err)
	_, err = tx.ApplyStockDelta(context.Background(), ledger.StockDelta{ProductID: 5, VariantID: 11, LocationID: 1, Available: -4, Sold: 4})
	require.NoError(t, err)

	err = svc.Delete(context.Background(), created.ID, "ops")
	require.ErrorIs(t, err, purchases.ErrConsumed)
	// Nothing rolled: document still present, stock untouched.
	_, err = svc.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 6, stock.AvailableQuantity)
}

func TestUpdateStatusTransitions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.Create(context.Background(), purchases.CreateInput{
		LocationID: 1,
		CreatedBy:  "ops",
		Items:      []purchases.ItemInput{{VariantID: 11, ProductID: 5, Qty: 2, UnitCost: 10}},
	})
	require.NoError(t, err)

	cancelled, err := svc.UpdateStatus(context.Background(), created.ID, purchases.StatusCancelled, "ops")
	require.NoError(t, err)
	require.Equal(t, purchases.StatusCancelled, cancelled.Status)

	// Cancelled is terminal; the lots and stock were not touched by the change.
	_, err = svc.UpdateStatus(context.Background(), created.ID, purchases.StatusReceived, "ops")
	require.ErrorIs(t, err, purchases.ErrInvalidTransition)
	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 2, stock.AvailableQuantity)
}

func TestCreateFromBarcodesGroupsAndMarksUsed(t *testing.T) {
	repo := newMemoryRepo()
	costs := fakeCosts{
		11: {VariantID: 11, ProductID: 5, Supplier: "Acme", UnitCost: 90},
		12: {VariantID: 12, ProductID: 5, Supplier: "Globex", UnitCost: 40},
	}
	svc := newService(repo, costs)
	seedBarcode(repo, "2000000000017", "SKU-1", 11, 5)
	seedBarcode(repo, "2000000000024", "SKU-1", 11, 5)
	seedBarcode(repo, "2000000000031", "SKU-2", 12, 5)

	purchase, updated, err := svc.CreateFromBarcodes(context.Background(), purchases.BarcodeIntakeInput{
		Codes:      []string{"2000000000017", "2000000000024", "2000000000031"},
		LocationID: 1,
		Actor:      "ops",
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, purchase.PurchaseNumber)
	require.Len(t, purchase.Items, 2)
	require.EqualValues(t, 2, purchase.Items[0].Qty)
	require.Equal(t, 90.0, purchase.Items[0].UnitCost)
	require.EqualValues(t, 1, purchase.Items[1].Qty)
	require.Equal(t, 220.0, purchase.TotalCost)
	require.Contains(t, purchase.Supplier, "Acme")
	require.Contains(t, purchase.Supplier, "Globex")

	require.Len(t, updated, 3)
	for _, b := range updated {
		require.True(t, b.IsUsed)
		require.Equal(t, barcodes.StatusInStock, b.Status)
		require.NotNil(t, b.LotID)
		require.NotNil(t, b.StockID)
		require.Contains(t, b.UpdatedLogs[0].SystemMessage, "folded into purchase")
	}

	stock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 2, stock.AvailableQuantity)
	stock, _ = repo.store.Stock(12, 1)
	require.EqualValues(t, 1, stock.AvailableQuantity)

	// Single use: the same codes can never be folded twice.
	_, _, err = svc.CreateFromBarcodes(context.Background(), purchases.BarcodeIntakeInput{
		Codes:      []string{"2000000000017"},
		LocationID: 1,
		Actor:      "ops",
	})
	require.ErrorIs(t, err, barcodes.ErrAlreadyUsed)
}

func TestCreateFromBarcodesFailsWhollyOnMissingDefaultCost(t *testing.T) {
	repo := newMemoryRepo()
	costs := fakeCosts{
		11: {VariantID: 11, ProductID: 5, Supplier: "Acme", UnitCost: 90},
		12: {VariantID: 12, ProductID: 5, UnitCost: 40}, // supplier missing
	}
	svc := newService(repo, costs)
	seedBarcode(repo, "2000000000017", "SKU-1", 11, 5)
	seedBarcode(repo, "2000000000031", "SKU-2", 12, 5)

	_, _, err := svc.CreateFromBarcodes(context.Background(), purchases.BarcodeIntakeInput{
		Codes:      []string{"2000000000017", "2000000000031"},
		LocationID: 1,
		Actor:      "ops",
	})
	require.ErrorIs(t, err, costdefaults.ErrIncomplete)

	// Nothing landed: no stock, no lots, no used barcodes, no document.
	_, ok := repo.store.Stock(11, 1)
	require.False(t, ok)
	require.Empty(t, repo.store.Lots)
	require.False(t, repo.codes["2000000000017"].IsUsed)
	docs, _, _ := repo.List(context.Background(), purchases.Filter{})
	require.Empty(t, docs)
}
