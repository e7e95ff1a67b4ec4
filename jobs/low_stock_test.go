package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	jobmetrics "github.com/Tecnologia-odonto/SupplyArt-sub001/internal/jobs"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

type fakeSource struct {
	byPartition map[stock.Partition][]stock.Record
	byCD        []stock.Record
	cdCalls     int
}

func (f *fakeSource) LowRows(_ context.Context, p stock.Partition) ([]stock.Record, error) {
	return f.byPartition[p], nil
}

func (f *fakeSource) LowRowsForCD(context.Context, uuid.UUID) ([]stock.Record, error) {
	f.cdCalls++
	return f.byCD, nil
}

type capturePublisher struct {
	events []events.Event
}

func (c *capturePublisher) Publish(_ context.Context, e events.Event) {
	c.events = append(c.events, e)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func lowRecord(qty, min int64) stock.Record {
	return stock.Record{ItemID: uuid.New(), LocationID: uuid.New(), Quantity: qty, MinQuantity: min}
}

func TestLowStockScanPublishesPerRow(t *testing.T) {
	source := &fakeSource{byPartition: map[stock.Partition][]stock.Record{
		stock.PartitionUnit: {lowRecord(0, 5), lowRecord(3, 5)},
		stock.PartitionCD:   {lowRecord(1, 10)},
	}}
	pub := &capturePublisher{}
	h := NewLowStockHandler(source, pub, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), testLogger())

	task, err := NewLowStockScanTask(LowStockScanPayload{})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), task))

	require.Len(t, pub.events, 3)
	require.Equal(t, "stock_alerts", pub.events[0].Table)
	require.Equal(t, "empty", pub.events[0].Payload["status"])
	require.Equal(t, "low", pub.events[1].Payload["status"])
	require.Zero(t, source.cdCalls)
}

func TestLowStockScanNarrowsToCD(t *testing.T) {
	source := &fakeSource{byCD: []stock.Record{lowRecord(2, 4)}}
	pub := &capturePublisher{}
	h := NewLowStockHandler(source, pub, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), testLogger())

	task, err := NewLowStockScanTask(LowStockScanPayload{CDID: uuid.NewString()})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), task))

	require.Equal(t, 1, source.cdCalls)
	require.Len(t, pub.events, 1)
}

func TestLowStockScanRejectsBadCDID(t *testing.T) {
	h := NewLowStockHandler(&fakeSource{}, &capturePublisher{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), testLogger())
	task, err := NewLowStockScanTask(LowStockScanPayload{CDID: "nope"})
	require.NoError(t, err)
	require.ErrorIs(t, h.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestScanEnqueuerForwardsWithoutClient(t *testing.T) {
	pub := &capturePublisher{}
	e := NewScanEnqueuer(pub, nil, testLogger())
	e.Publish(context.Background(), events.Event{Table: "transits", Op: events.OpInsert})
	require.Len(t, pub.events, 1)
}

func TestWantsScan(t *testing.T) {
	require.True(t, wantsScan(events.Event{Table: "transits", Op: events.OpInsert}))
	require.False(t, wantsScan(events.Event{Table: "transits", Op: events.OpUpdate}))
	require.True(t, wantsScan(events.Event{Table: "purchases", Payload: map[string]any{"status": "finalized"}}))
	require.False(t, wantsScan(events.Event{Table: "purchases", Payload: map[string]any{"status": "sent"}}))
	require.False(t, wantsScan(events.Event{Table: "requests"}))
}
