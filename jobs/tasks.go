package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLotExpiry quarantines lots whose expiry date has passed.
	TaskLotExpiry = "ledger:expire_lots"
	// TaskLowStockScan reports stock rows at or under the alert threshold.
	TaskLowStockScan = "stocks:low_stock_scan"
	// TaskIdempotencyCleanup prunes processed idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// LotExpiryPayload carries the cutoff for the expiry sweep.
type LotExpiryPayload struct {
	AsOf time.Time `json:"as_of"`
}

// NewLotExpiryTask constructs an Asynq task for the expiry sweep.
func NewLotExpiryTask(asOf time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LotExpiryPayload{AsOf: asOf})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLotExpiry, body, asynq.Queue(QueueDefault)), nil
}

// LowStockScanPayload carries the alert threshold.
type LowStockScanPayload struct {
	Threshold int64 `json:"threshold"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(threshold int64) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key pruning.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
