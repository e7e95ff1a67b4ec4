// Package jobs holds the asynq task definitions and handlers for the
// background worker: movement-log reconciliation, low-stock scanning and
// housekeeping.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskStockReconcile replays the movement log against the ledgers.
	TaskStockReconcile = "stock:reconcile"
	// TaskLowStockScan looks for empty/low ledger rows and publishes events.
	TaskLowStockScan = "stock:low_scan"
	// TaskMaintenanceCleanup removes stale idempotency keys.
	TaskMaintenanceCleanup = "maintenance:cleanup"
)

// LowStockScanPayload optionally narrows the scan to one CD's network.
type LowStockScanPayload struct {
	CDID string `json:"cd_id,omitempty"`
}

// NewStockReconcileTask constructs the reconciliation task.
func NewStockReconcileTask() *asynq.Task {
	return asynq.NewTask(TaskStockReconcile, nil)
}

// NewLowStockScanTask constructs a low-stock scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// NewMaintenanceCleanupTask constructs the housekeeping task.
func NewMaintenanceCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskMaintenanceCleanup, nil)
}
