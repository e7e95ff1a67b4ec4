package jobs

import (
	"context"
	"log/slog"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
)

// ScanEnqueuer decorates an event publisher and queues a low-stock scan
// whenever stock leaves a location: a transit dispatch or a finalized
// purchase both reshape the ledgers, and the cron cadence alone would leave
// alerts stale for up to an hour.
type ScanEnqueuer struct {
	next   events.Publisher
	client *Client
	logger *slog.Logger
}

// NewScanEnqueuer wraps the publisher. A nil client degrades to a plain
// pass-through, which the single-process deployment uses.
func NewScanEnqueuer(next events.Publisher, client *Client, logger *slog.Logger) *ScanEnqueuer {
	return &ScanEnqueuer{next: next, client: client, logger: logger}
}

// Publish forwards the event and enqueues a scan when it warrants one.
func (e *ScanEnqueuer) Publish(ctx context.Context, event events.Event) {
	e.next.Publish(ctx, event)
	if e.client == nil || !wantsScan(event) {
		return
	}
	if _, err := e.client.EnqueueLowStockScan(ctx, LowStockScanPayload{}); err != nil {
		e.logger.Warn("enqueue low-stock scan", slog.Any("error", err))
	}
}

func wantsScan(event events.Event) bool {
	switch event.Table {
	case "transits":
		return event.Op == events.OpInsert
	case "purchases":
		status, _ := event.Payload["status"].(string)
		return status == "finalized"
	default:
		return false
	}
}
