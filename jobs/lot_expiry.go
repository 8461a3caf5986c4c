package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/loomcart/loomcart/internal/jobs"
)

// LotExpirer sweeps past-expiry lots out of the active pool.
type LotExpirer interface {
	ExpireLots(ctx context.Context, asOf time.Time) (int, error)
}

// LotExpiryJob runs the nightly expiry sweep.
type LotExpiryJob struct {
	service LotExpirer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewLotExpiryJob constructs the job. metrics may be nil.
func NewLotExpiryJob(service LotExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *LotExpiryJob {
	return &LotExpiryJob{service: service, logger: logger, metrics: metrics}
}

// Handle processes TaskLotExpiry tasks.
func (j *LotExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LotExpiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	tracker := j.metrics.Track("lot_expiry")
	count, err := j.service.ExpireLots(ctx, asOf)
	if err != nil {
		j.logger.Error("lot expiry sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("lot expiry sweep done", slog.Int("expired", count), slog.Time("as_of", asOf))
	return tracker.End(nil)
}
