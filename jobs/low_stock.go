package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/loomcart/loomcart/internal/jobs"
	"github.com/loomcart/loomcart/internal/ledger"
	"github.com/loomcart/loomcart/internal/shared"
)

// LowStockLister reads stock rows at or under a threshold.
type LowStockLister interface {
	LowStock(ctx context.Context, threshold int64, page, perPage int) ([]ledger.ReportRow, shared.Pagination, error)
}

// LowStockJob scans for variants running out and logs them for alerting.
type LowStockJob struct {
	stocks    LowStockLister
	threshold int64
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewLowStockJob constructs the job. metrics may be nil.
func NewLowStockJob(stocks LowStockLister, threshold int64, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{stocks: stocks, threshold: threshold, logger: logger, metrics: metrics}
}

// Handle processes TaskLowStockScan tasks. The payload threshold overrides
// the configured default when positive.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	threshold := j.threshold
	if payload.Threshold > 0 {
		threshold = payload.Threshold
	}
	tracker := j.metrics.Track("low_stock_scan")
	total := 0
	page := 1
	const perPage = 200
	for {
		rows, pagination, err := j.stocks.LowStock(ctx, threshold, page, perPage)
		if err != nil {
			j.logger.Error("low stock scan", slog.Any("error", err))
			return tracker.End(err)
		}
		for _, row := range rows {
			j.logger.Warn("low stock",
				slog.String("sku", row.SKU),
				slog.Int64("location_id", row.LocationID),
				slog.Int64("available", row.AvailableQuantity))
		}
		total += len(rows)
		if page >= pagination.TotalPages || len(rows) == 0 {
			break
		}
		page++
	}
	j.metrics.SetLowStockRows(total)
	j.logger.Info("low stock scan done", slog.Int("rows", total), slog.Int64("threshold", threshold))
	return tracker.End(nil)
}
