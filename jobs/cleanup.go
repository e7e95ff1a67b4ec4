package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Tecnologia-odonto/SupplyArt-sub001/internal/jobs"
)

// idempotencyRetention is how long replay-protection keys are kept. Retries
// of a delivered request arrive within minutes; a day is generous.
const idempotencyRetention = 24 * time.Hour

// KeyStore purges stale idempotency keys.
type KeyStore interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// CleanupHandler runs the daily housekeeping task. Sessions expire on their
// own through Redis TTLs, so only the idempotency table needs sweeping.
type CleanupHandler struct {
	keys    KeyStore
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCleanupHandler constructs the handler.
func NewCleanupHandler(keys KeyStore, metrics *jobmetrics.Metrics, logger *slog.Logger) *CleanupHandler {
	return &CleanupHandler{keys: keys, metrics: metrics, logger: logger}
}

// Handle sweeps expired idempotency keys.
func (h *CleanupHandler) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := h.metrics.Track(TaskMaintenanceCleanup)
	if err := h.keys.Cleanup(ctx, idempotencyRetention); err != nil {
		h.logger.Error("maintenance cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	h.logger.Info("maintenance cleanup done")
	return tracker.End(nil)
}
