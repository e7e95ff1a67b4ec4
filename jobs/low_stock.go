package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	jobmetrics "github.com/Tecnologia-odonto/SupplyArt-sub001/internal/jobs"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

// LowStockSource lists the ledger rows at or below their minimum.
type LowStockSource interface {
	LowRows(ctx context.Context, p stock.Partition) ([]stock.Record, error)
	LowRowsForCD(ctx context.Context, cdID uuid.UUID) ([]stock.Record, error)
}

// LowStockHandler scans the ledgers for empty and low rows, publishes an
// alert event per row and updates the low-row gauges.
type LowStockHandler struct {
	source  LowStockSource
	events  events.Publisher
	lock    *RunLock
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	printer *message.Printer
}

// NewLowStockHandler constructs the handler. Alert summaries are rendered in
// Brazilian Portuguese, matching the audience of the alerts.
func NewLowStockHandler(source LowStockSource, pub events.Publisher, lock *RunLock, metrics *jobmetrics.Metrics, logger *slog.Logger) *LowStockHandler {
	return &LowStockHandler{
		source:  source,
		events:  pub,
		lock:    lock,
		metrics: metrics,
		logger:  logger,
		printer: message.NewPrinter(language.BrazilianPortuguese),
	}
}

// Handle runs one scan. A payload with a CD ID narrows the scan to the unit
// rows that CD supplies; an empty payload scans both partitions in full.
func (h *LowStockHandler) Handle(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskLowStockScan)

	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			h.logger.Error("low-stock scan: bad payload", slog.Any("error", err))
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
	}

	ok, release := h.lock.Acquire(ctx, shared.LowStockScanLockKey(payload.CDID))
	if !ok {
		h.logger.Info("low-stock scan already running, skipping")
		return nil
	}
	defer release()

	if payload.CDID != "" {
		cdID, err := uuid.Parse(payload.CDID)
		if err != nil {
			h.logger.Error("low-stock scan: bad cd_id", slog.String("cd_id", payload.CDID))
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		rows, err := h.source.LowRowsForCD(ctx, cdID)
		if err != nil {
			return tracker.End(err)
		}
		h.report(ctx, stock.PartitionUnit, rows)
		return tracker.End(nil)
	}

	for _, p := range []stock.Partition{stock.PartitionUnit, stock.PartitionCD} {
		rows, err := h.source.LowRows(ctx, p)
		if err != nil {
			return tracker.End(err)
		}
		h.metrics.SetLowRows(string(p), len(rows))
		h.report(ctx, p, rows)
	}
	return tracker.End(nil)
}

func (h *LowStockHandler) report(ctx context.Context, p stock.Partition, rows []stock.Record) {
	empty := 0
	for _, rec := range rows {
		status := rec.Status()
		if status == stock.StatusEmpty {
			empty++
		}
		h.events.Publish(ctx, events.Event{
			Table:    "stock_alerts",
			Op:       events.OpInsert,
			EntityID: rec.Key().String(),
			Payload: map[string]any{
				"partition":    string(p),
				"status":       string(status),
				"quantity":     rec.Quantity,
				"min_quantity": rec.MinQuantity,
			},
		})
	}
	if len(rows) == 0 {
		return
	}
	h.logger.Warn("low-stock scan",
		slog.String("partition", string(p)),
		slog.String("summary", h.printer.Sprintf("%d itens abaixo do mínimo, %d esgotados", len(rows), empty)))
}
