package barcodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomcart/loomcart/internal/barcodes"
	"github.com/loomcart/loomcart/internal/catalog"
	"github.com/loomcart/loomcart/internal/costdefaults"
)

type memoryRepo struct {
	items map[string]barcodes.Barcode
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[string]barcodes.Barcode{}}
}

func (m *memoryRepo) InsertBatch(_ context.Context, items []barcodes.Barcode) error {
	for _, item := range items {
		if _, exists := m.items[item.Code]; exists {
			return barcodes.ErrDuplicate
		}
	}
	for _, item := range items {
		item.ID = int64(len(m.items) + 1)
		m.items[item.Code] = item
	}
	return nil
}

func (m *memoryRepo) GetByCode(_ context.Context, code string) (barcodes.Barcode, error) {
	item, ok := m.items[code]
	if !ok {
		return barcodes.Barcode{}, barcodes.ErrNotFound
	}
	return item, nil
}

func (m *memoryRepo) SaveStatus(_ context.Context, code string, status barcodes.Status, condition barcodes.Condition, logs []barcodes.UpdatedLog) (barcodes.Barcode, error) {
	item, ok := m.items[code]
	if !ok {
		return barcodes.Barcode{}, barcodes.ErrNotFound
	}
	item.Status = status
	item.Condition = condition
	item.UpdatedLogs = logs
	m.items[code] = item
	return item, nil
}

func (m *memoryRepo) List(_ context.Context, filter barcodes.Filter) ([]barcodes.Barcode, int, error) {
	var out []barcodes.Barcode
	for _, item := range m.items {
		if filter.SKU != "" && item.SKU != filter.SKU {
			continue
		}
		if filter.Code != "" && item.Code != filter.Code {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.IsUsed != nil && item.IsUsed != *filter.IsUsed {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

type fakeVariants struct{}

func (fakeVariants) VariantBySKU(_ context.Context, sku string) (catalog.Variant, error) {
	if sku != "SKU-1" {
		return catalog.Variant{}, catalog.ErrVariantNotFound
	}
	return catalog.Variant{ID: 11, ProductID: 5, SKU: sku, Name: "Widget"}, nil
}

type fakeCosts struct {
	entries map[int64]costdefaults.DefaultCost
}

func (f fakeCosts) ByVariant(_ context.Context, variantID int64) (costdefaults.DefaultCost, error) {
	entry, ok := f.entries[variantID]
	if !ok {
		return costdefaults.DefaultCost{}, costdefaults.ErrNotFound
	}
	return entry, nil
}

type fakeSequences struct {
	next int64
}

func (f *fakeSequences) Next(_ context.Context, _ string) (int64, error) {
	f.next++
	return f.next, nil
}

func newService(repo *memoryRepo, costs fakeCosts) *barcodes.Service {
	return barcodes.NewService(repo, fakeVariants{}, costs, &fakeSequences{}, nil)
}

func TestCheckDigit(t *testing.T) {
	// Known EAN-13: 4006381333931.
	require.Equal(t, 1, barcodes.CheckDigit("400638133393"))
	require.True(t, barcodes.ValidCode("4006381333931"))
	require.False(t, barcodes.ValidCode("4006381333932"))
	require.False(t, barcodes.ValidCode("400638133393"))
}

func TestNewCodeIsValidEAN13(t *testing.T) {
	code := barcodes.NewCode(42)
	require.Len(t, code, 13)
	require.True(t, barcodes.ValidCode(code))
	require.Equal(t, "200", code[:3])
}

func TestCreateForStockRegistersPendingCodes(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})

	created, err := svc.CreateForStock(context.Background(), "SKU-1", 3, "first batch", "ops")
	require.NoError(t, err)
	require.Len(t, created, 3)
	for _, b := range created {
		require.Equal(t, barcodes.StatusQCPending, b.Status)
		require.False(t, b.IsUsed)
		require.True(t, barcodes.ValidCode(b.Code))
		require.Len(t, b.UpdatedLogs, 1)
	}

	_, err = svc.CreateForStock(context.Background(), "SKU-404", 1, "", "ops")
	require.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestUpdateStatusPrependsLog(t *testing.T) {
	repo := newMemoryRepo()
	svc := newService(repo, fakeCosts{})
	created, err := svc.CreateForStock(context.Background(), "SKU-1", 1, "", "ops")
	require.NoError(t, err)
	code := created[0].Code

	updated, err := svc.UpdateStatus(context.Background(), code, barcodes.StatusDamaged, barcodes.ConditionPhysicallyDamaged, "jo", "warehouse", "dropped in intake")
	require.NoError(t, err)
	require.Equal(t, barcodes.StatusDamaged, updated.Status)
	require.Len(t, updated.UpdatedLogs, 2)
	require.Contains(t, updated.UpdatedLogs[0].SystemMessage, "qc_pending -> damaged")
	require.Contains(t, updated.UpdatedLogs[1].SystemMessage, "barcode registered")

	_, err = svc.UpdateStatus(context.Background(), code, barcodes.Status("teleported"), barcodes.ConditionNew, "jo", "", "")
	require.ErrorIs(t, err, barcodes.ErrInvalidStatus)
	_, err = svc.UpdateStatus(context.Background(), "0000000000000", barcodes.StatusDamaged, barcodes.ConditionNew, "jo", "", "")
	require.ErrorIs(t, err, barcodes.ErrNotFound)
}

func TestCheckUsedOrNotRequiresDefaultCost(t *testing.T) {
	repo := newMemoryRepo()
	costs := fakeCosts{entries: map[int64]costdefaults.DefaultCost{}}
	svc := newService(repo, costs)
	created, err := svc.CreateForStock(context.Background(), "SKU-1", 1, "", "ops")
	require.NoError(t, err)
	code := created[0].Code

	_, err = svc.CheckUsedOrNot(context.Background(), code)
	require.ErrorIs(t, err, costdefaults.ErrNotFound)

	costs.entries[11] = costdefaults.DefaultCost{VariantID: 11, UnitCost: 90}
	_, err = svc.CheckUsedOrNot(context.Background(), code)
	require.ErrorIs(t, err, costdefaults.ErrIncomplete)

	costs.entries[11] = costdefaults.DefaultCost{VariantID: 11, UnitCost: 90, Supplier: "Acme"}
	check, err := svc.CheckUsedOrNot(context.Background(), code)
	require.NoError(t, err)
	require.False(t, check.IsUsed)
	require.Equal(t, barcodes.StatusQCPending, check.Status)
}
