package shared

import "fmt"

// ReconcileLockKey builds the redis key guarding a reconciliation run.
// The worker takes it with SET NX so overlapping cron fires skip instead of
// replaying the movement log twice.
func ReconcileLockKey() string {
	return "stock:reconcile:lock"
}

// LowStockScanLockKey builds the redis key guarding a low-stock scan run.
func LowStockScanLockKey(cdID string) string {
	return fmt.Sprintf("stock:lowscan:%s:lock", cdID)
}
