package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/loomcart/loomcart/internal/ledger"
)

func newTestCache(t *testing.T) *ledger.ReportCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ledger.NewReportCache(client, time.Minute)
}

func TestReportCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	filter := ledger.ReportFilter{SKU: "SKU-1", Page: 1, PerPage: 50}

	_, _, ok := cache.Get(ctx, filter)
	require.False(t, ok)

	rows := []ledger.ReportRow{{StockID: 1, SKU: "SKU-1", AvailableQuantity: 12, AvgCost: 104.5}}
	cache.Set(ctx, filter, rows, 1)

	got, total, ok := cache.Get(ctx, filter)
	require.True(t, ok)
	require.Equal(t, 1, total)
	require.Equal(t, rows, got)

	// A different page is a different key.
	_, _, ok = cache.Get(ctx, ledger.ReportFilter{SKU: "SKU-1", Page: 2, PerPage: 50})
	require.False(t, ok)
}

func TestReportCacheInvalidate(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	filter := ledger.ReportFilter{Page: 1, PerPage: 50}
	cache.Set(ctx, filter, []ledger.ReportRow{{StockID: 7}}, 1)

	cache.Invalidate(ctx)

	_, _, ok := cache.Get(ctx, filter)
	require.False(t, ok)
}
