package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReportCache keeps rendered stock report pages in Redis for a short TTL.
// Mutating operations invalidate the whole namespace.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache constructs the cache.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ReportCache{client: client, ttl: ttl}
}

type cachedReport struct {
	Rows  []ReportRow `json:"rows"`
	Total int         `json:"total"`
}

func reportKey(filter ReportFilter) string {
	return fmt.Sprintf("stock_report:%s:%d:%d:%d", filter.SKU, filter.Threshold, filter.Page, filter.PerPage)
}

// Get returns a cached page, reporting whether it was present.
func (c *ReportCache) Get(ctx context.Context, filter ReportFilter) ([]ReportRow, int, bool) {
	if c == nil || c.client == nil {
		return nil, 0, false
	}
	payload, err := c.client.Get(ctx, reportKey(filter)).Bytes()
	if err != nil {
		return nil, 0, false
	}
	var cached cachedReport
	if err := json.Unmarshal(payload, &cached); err != nil {
		return nil, 0, false
	}
	return cached.Rows, cached.Total, true
}

// Set stores a page. Failures are ignored; the cache is best effort.
func (c *ReportCache) Set(ctx context.Context, filter ReportFilter, rows []ReportRow, total int) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(cachedReport{Rows: rows, Total: total})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, reportKey(filter), payload, c.ttl).Err()
}

// Invalidate drops every cached report page.
func (c *ReportCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, "stock_report:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		_ = c.client.Del(ctx, keys...).Err()
	}
}
