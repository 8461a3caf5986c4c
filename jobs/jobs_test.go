package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/shared"
)

type fakeExpirer struct {
	asOf    time.Time
	expired int
	err     error
}

func (f *fakeExpirer) ExpireLots(ctx context.Context, asOf time.Time) (int, error) {
	f.asOf = asOf
	return f.expired, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLotExpiryHandlePassesCutoff(t *testing.T) {
	expirer := &fakeExpirer{expired: 3}
	job := NewLotExpiryJob(expirer, discardLogger(), nil)

	asOf := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	task, err := NewLotExpiryTask(asOf)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, asOf, expirer.asOf)
}

func TestLotExpiryHandleDefaultsToNow(t *testing.T) {
	expirer := &fakeExpirer{}
	job := NewLotExpiryJob(expirer, discardLogger(), nil)

	task, err := NewLotExpiryTask(time.Time{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.False(t, expirer.asOf.IsZero())
}

func TestLotExpiryHandleSkipsRetryOnBadPayload(t *testing.T) {
	job := NewLotExpiryJob(&fakeExpirer{}, discardLogger(), nil)
	task := asynq.NewTask(TaskLotExpiry, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestLotExpiryHandlePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	job := NewLotExpiryJob(&fakeExpirer{err: boom}, discardLogger(), nil)

	task, err := NewLotExpiryTask(time.Time{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

type fakeLowStock struct {
	threshold int64
	rows      []ledger.ReportRow
}

func (f *fakeLowStock) LowStock(ctx context.Context, threshold int64, page, perPage int) ([]ledger.ReportRow, shared.Pagination, error) {
	f.threshold = threshold
	if page > 1 {
		return nil, shared.NewPagination(page, perPage, len(f.rows)), nil
	}
	return f.rows, shared.NewPagination(page, perPage, len(f.rows)), nil
}

func TestLowStockHandleUsesPayloadThreshold(t *testing.T) {
	lister := &fakeLowStock{rows: []ledger.ReportRow{{SKU: "TOTE-NAT-M", LocationID: 1, AvailableQuantity: 2}}}
	job := NewLowStockJob(lister, 5, discardLogger(), nil)

	task, err := NewLowStockScanTask(9)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, int64(9), lister.threshold)
}

func TestLowStockHandleFallsBackToConfiguredThreshold(t *testing.T) {
	lister := &fakeLowStock{}
	job := NewLowStockJob(lister, 5, discardLogger(), nil)

	body, err := json.Marshal(LowStockScanPayload{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, body)))
	require.Equal(t, int64(5), lister.threshold)
}

type fakePruner struct {
	olderThan time.Duration
}

func (f *fakePruner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := NewIdempotencyCleanupJob(pruner, discardLogger(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 168*time.Hour, pruner.olderThan)
}
