package costdefaults_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomcart/loomcart/internal/costdefaults"
)

type memoryRepo struct {
	entries map[int64]costdefaults.DefaultCost
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: map[int64]costdefaults.DefaultCost{}}
}

func (m *memoryRepo) Upsert(_ context.Context, entry costdefaults.DefaultCost) (costdefaults.DefaultCost, error) {
	m.entries[entry.VariantID] = entry
	return entry, nil
}

func (m *memoryRepo) ByVariant(_ context.Context, variantID int64) (costdefaults.DefaultCost, error) {
	entry, ok := m.entries[variantID]
	if !ok {
		return costdefaults.DefaultCost{}, costdefaults.ErrNotFound
	}
	return entry, nil
}

func (m *memoryRepo) List(_ context.Context) ([]costdefaults.DefaultCost, error) {
	var out []costdefaults.DefaultCost
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	return out, nil
}

func TestUpsertReplacesPreviousEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := costdefaults.NewService(repo, nil)

	_, err := svc.Upsert(context.Background(), "ops", costdefaults.DefaultCost{VariantID: 7, ProductID: 3, Supplier: "Acme", UnitCost: 100})
	require.NoError(t, err)
	_, err = svc.Upsert(context.Background(), "ops", costdefaults.DefaultCost{VariantID: 7, ProductID: 3, Supplier: "Acme", UnitCost: 120})
	require.NoError(t, err)

	entry, err := svc.ByVariant(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 120.0, entry.UnitCost)
}

func TestByVariantMissing(t *testing.T) {
	svc := costdefaults.NewService(newMemoryRepo(), nil)
	_, err := svc.ByVariant(context.Background(), 99)
	require.ErrorIs(t, err, costdefaults.ErrNotFound)
}

func TestValidateRequiresCostAndSupplier(t *testing.T) {
	require.ErrorIs(t, costdefaults.DefaultCost{UnitCost: 0, Supplier: "Acme"}.Validate(), costdefaults.ErrIncomplete)
	require.ErrorIs(t, costdefaults.DefaultCost{UnitCost: 10}.Validate(), costdefaults.ErrIncomplete)
	require.NoError(t, costdefaults.DefaultCost{UnitCost: 10, Supplier: "Acme"}.Validate())
}
