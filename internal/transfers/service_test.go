package transfers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/ledger/ledgertest"
	"github.com/loomcart/loomcart/internal/transfers"
)

type memoryRepo struct {
	store  *ledgertest.Store
	nextID int64
	docs   map[int64]*transfers.Transfer
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{store: ledgertest.NewStore(), docs: map[int64]*transfers.Transfer{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, transfers.TxRepository) error) error {
	docsSnap := make(map[int64]transfers.Transfer, len(m.docs))
	for id, doc := range m.docs {
		docsSnap[id] = *doc
	}
	nextID := m.nextID
	err := m.store.WithTx(ctx, func(ctx context.Context, ltx ledger.Tx) error {
		return fn(ctx, &memoryTx{Tx: ltx, repo: m})
	})
	if err != nil {
		m.nextID = nextID
		m.docs = make(map[int64]*transfers.Transfer, len(docsSnap))
		for id := range docsSnap {
			doc := docsSnap[id]
			m.docs[id] = &doc
		}
	}
	return err
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (transfers.Transfer, error) {
	doc, ok := m.docs[id]
	if !ok {
		return transfers.Transfer{}, transfers.ErrNotFound
	}
	return *doc, nil
}

func (m *memoryRepo) List(_ context.Context, _ transfers.Filter) ([]transfers.Transfer, int, error) {
	var out []transfers.Transfer
	for _, doc := range m.docs {
		out = append(out, *doc)
	}
	return out, len(out), nil
}

type memoryTx struct {
	ledger.Tx
	repo *memoryRepo
}

func (t *memoryTx) InsertTransfer(_ context.Context, doc *transfers.Transfer) error {
	t.repo.nextID++
	doc.ID = t.repo.nextID
	doc.CreatedAt = time.Now()
	stored := *doc
	t.repo.docs[doc.ID] = &stored
	return nil
}

func seedLots(store *ledgertest.Store) (ledger.Lot, ledger.Lot) {
	lot1 := store.SeedLot(ledger.Lot{
		VariantID: 11, ProductID: 5, LocationID: 1, LotNumber: "L1",
		ReceivedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		CostPerUnit: 100, QtyTotal: 3, QtyAvailable: 3, SourceType: ledger.SourcePurchase,
	})
	lot2 := store.SeedLot(ledger.Lot{
		VariantID: 11, ProductID: 5, LocationID: 1, LotNumber: "L2",
		ReceivedAt:  time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		CostPerUnit: 120, QtyTotal: 5, QtyAvailable: 5, SourceType: ledger.SourcePurchase,
	})
	return lot1, lot2
}

func TestTransferPreservesLotProvenance(t *testing.T) {
	repo := newMemoryRepo()
	svc := transfers.NewService(repo, nil, nil, nil, nil)
	lot1, lot2 := seedLots(repo.store)

	transfer, err := svc.Transfer(context.Background(), transfers.Input{
		FromLocationID: 1,
		ToLocationID:   2,
		TransferBy:     "ops",
		Items:          []transfers.ItemInput{{VariantID: 11, ProductID: 5, Qty: 4}},
	})
	require.NoError(t, err)
	require.Len(t, transfer.Items, 1)

	// FIFO at the source: the older lot is fully consumed, the newer partially.
	allocs := transfer.Items[0].Allocations
	require.Len(t, allocs, 2)
	require.Equal(t, lot1.ID, allocs[0].SourceLotID)
	require.EqualValues(t, 3, allocs[0].Qty)
	require.Equal(t, 100.0, allocs[0].CostPerUnit)
	require.Equal(t, lot2.ID, allocs[1].SourceLotID)
	require.EqualValues(t, 1, allocs[1].Qty)
	require.Equal(t, 120.0, allocs[1].CostPerUnit)

	var allocated int64
	for _, alloc := range allocs {
		allocated += alloc.Qty
	}
	require.Equal(t, transfer.Items[0].Qty, allocated)

	require.Equal(t, ledger.LotStatusClosed, repo.store.Lots[lot1.ID].Status)
	require.EqualValues(t, 0, repo.store.Lots[lot1.ID].QtyAvailable)
	require.EqualValues(t, 4, repo.store.Lots[lot2.ID].QtyAvailable)

	// Destination lots carry the source received_at and cost, so FIFO age
	// survives the move.
	for _, alloc := range allocs {
		dest := repo.store.Lots[alloc.DestLotID]
		require.NotNil(t, dest)
		source := repo.store.Lots[alloc.SourceLotID]
		require.Equal(t, source.ReceivedAt, dest.ReceivedAt)
		require.Equal(t, source.CostPerUnit, dest.CostPerUnit)
		require.Equal(t, ledger.SourceTransferIn, dest.SourceType)
		require.Equal(t, alloc.SourceLotID, dest.SourceRefID)
		require.EqualValues(t, 2, dest.LocationID)
	}

	sourceStock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 4, sourceStock.AvailableQuantity)
	destStock, _ := repo.store.Stock(11, 2)
	require.EqualValues(t, 4, destStock.AvailableQuantity)
	require.EqualValues(t, 4, destStock.TotalReceived)
	// The destination (variant, location) had no stock row before the move;
	// its lots must still land bound to the row created for them.
	for _, alloc := range allocs {
		require.Equal(t, destStock.ID, repo.store.Lots[alloc.DestLotID].StockID)
	}
	require.EqualValues(t, 4, repo.store.ActiveLotSum(11, 1))
	require.EqualValues(t, 4, repo.store.ActiveLotSum(11, 2))
}

func TestTransferSameLocationRejected(t *testing.T) {
	svc := transfers.NewService(newMemoryRepo(), nil, nil, nil, nil)
	_, err := svc.Transfer(context.Background(), transfers.Input{
		FromLocationID: 1,
		ToLocationID:   1,
		TransferBy:     "ops",
		Items:          []transfers.ItemInput{{VariantID: 11, ProductID: 5, Qty: 1}},
	})
	require.ErrorIs(t, err, transfers.ErrSameLocation)
}

func TestTransferInsufficientStockNamesShortfall(t *testing.T) {
	repo := newMemoryRepo()
	svc := transfers.NewService(repo, nil, nil, nil, nil)
	seedLots(repo.store)

	_, err := svc.Transfer(context.Background(), transfers.Input{
		FromLocationID: 1,
		ToLocationID:   2,
		TransferBy:     "ops",
		Items:          []transfers.ItemInput{{VariantID: 11, ProductID: 5, Qty: 9}},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.ErrorContains(t, err, "requested 9")
	require.ErrorContains(t, err, "available 8")

	// Nothing moved.
	sourceStock, _ := repo.store.Stock(11, 1)
	require.EqualValues(t, 8, sourceStock.AvailableQuantity)
	_, ok := repo.store.Stock(11, 2)
	require.False(t, ok)
}

func TestTransferRollsBackWhollyOnDesync(t *testing.T) {
	repo := newMemoryRepo()
	svc := transfers.NewService(repo, nil, nil, nil, nil)
	lot1, lot2 := seedLots(repo.store)

	// Corrupt the ledger: stock says 8 but lots only cover 5.
	repo.store.Lots[lot1.ID].Status = ledger.LotStatusQuarantined

	_, err := svc.Transfer(context.Background(), transfers.Input{
		FromLocationID: 1,
		ToLocationID:   2,
		TransferBy:     "ops",
		Items:          []transfers.ItemInput{{VariantID: 11, ProductID: 5, Qty: 7}},
	})
	require.ErrorIs(t, err, ledger.ErrLotDesync)

	// The partial consumption of lot2 was rolled back with everything else.
	require.EqualValues(t, 5, repo.store.Lots[lot2.ID].QtyAvailable)
	require.Empty(t, repo.docs)
	_, ok := repo.store.Stock(11, 2)
	require.False(t, ok)
}

func TestTransferMultiItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := transfers.NewService(repo, nil, nil, nil, nil)
	seedLots(repo.store)
	repo.store.SeedLot(ledger.Lot{
		VariantID: 12, ProductID: 5, LocationID: 1, LotNumber: "L3",
		ReceivedAt:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		CostPerUnit: 40, QtyTotal: 6, QtyAvailable: 6, SourceType: ledger.SourcePurchase,
	})

	transfer, err := svc.Transfer(context.Background(), transfers.Input{
		FromLocationID: 1,
		ToLocationID:   2,
		TransferBy:     "ops",
		Items: []transfers.ItemInput{
			{VariantID: 11, ProductID: 5, Qty: 2},
			{VariantID: 12, ProductID: 5, Qty: 6},
		},
		Expenses: []transfers.Expense{{Type: "trucking", Amount: 30}},
	})
	require.NoError(t, err)
	require.Len(t, transfer.Items, 2)

	// Expenses are recorded on the document only; destination costs are the
	// source lot costs, untouched.
	require.Equal(t, 30.0, transfer.Expenses[0].Amount)
	dest := repo.store.Lots[transfer.Items[1].Allocations[0].DestLotID]
	require.Equal(t, 40.0, dest.CostPerUnit)

	stock12, _ := repo.store.Stock(12, 1)
	require.EqualValues(t, 0, stock12.AvailableQuantity)
	destStock12, _ := repo.store.Stock(12, 2)
	require.EqualValues(t, 6, destStock12.AvailableQuantity)
}
