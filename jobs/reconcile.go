package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Tecnologia-odonto/SupplyArt-sub001/internal/jobs"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// Reconciler replays the movement log against the ledgers.
type Reconciler interface {
	ReconcileSystem(ctx context.Context) ([]movement.Discrepancy, error)
}

// ReconcileHandler runs the scheduled reconciliation pass.
type ReconcileHandler struct {
	movements Reconciler
	lock      *RunLock
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
}

// NewReconcileHandler constructs the handler.
func NewReconcileHandler(movements Reconciler, lock *RunLock, metrics *jobmetrics.Metrics, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{movements: movements, lock: lock, metrics: metrics, logger: logger}
}

// Handle replays the log and logs every mismatching pair. The ledger is never
// repaired here; discrepancies stay visible until someone adjusts them.
func (h *ReconcileHandler) Handle(ctx context.Context, _ *asynq.Task) error {
	ok, release := h.lock.Acquire(ctx, shared.ReconcileLockKey())
	if !ok {
		h.logger.Info("stock reconcile already running, skipping")
		return nil
	}
	defer release()

	tracker := h.metrics.Track(TaskStockReconcile)
	started := time.Now()
	diffs, err := h.movements.ReconcileSystem(ctx)
	if err != nil {
		h.logger.Error("stock reconcile failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, d := range diffs {
		h.logger.Warn("ledger discrepancy",
			slog.String("partition", d.Partition),
			slog.String("item_id", d.ItemID.String()),
			slog.String("location_id", d.LocationID.String()),
			slog.Int64("ledger", d.LedgerQuantity),
			slog.Int64("replay", d.ReplayQuantity))
	}
	h.logger.Info("stock reconcile done",
		slog.Int("discrepancies", len(diffs)),
		slog.Duration("took", time.Since(started)))
	return tracker.End(nil)
}
