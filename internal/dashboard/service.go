// Package dashboard aggregates the operational counters the landing screen
// polls: open requests, goods in flight, low and empty ledger rows and the
// purchase pipeline. Reads only; every number comes from the owning module's
// tables.
package dashboard

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

// Summary is the aggregate the dashboard endpoint returns.
type Summary struct {
	RequestsByStatus  map[string]int64   `json:"requests_by_status"`
	PurchasesByStatus map[string]int64   `json:"purchases_by_status"`
	TransitsInFlight  int64              `json:"transits_in_flight"`
	UnitStock         stock.StatusCounts `json:"unit_stock"`
	CDStock           stock.StatusCounts `json:"cd_stock"`
}

// CountsPort reads the status aggregates of the workflow tables.
type CountsPort interface {
	RequestCounts(ctx context.Context) (map[string]int64, error)
	PurchaseCounts(ctx context.Context) (map[string]int64, error)
	TransitsInFlight(ctx context.Context) (int64, error)
}

// StockPort reads the ledger aggregates.
type StockPort interface {
	CountByStatus(ctx context.Context, p stock.Partition) (stock.StatusCounts, error)
}

// Service assembles the summary.
type Service struct {
	counts CountsPort
	stock  StockPort
}

// NewService constructs a Service.
func NewService(counts CountsPort, stockPort StockPort) *Service {
	return &Service{counts: counts, stock: stockPort}
}

// Summary fans the five aggregate reads out concurrently and fails as a
// whole if any of them does.
func (s *Service) Summary(ctx context.Context, actor shared.Actor) (Summary, error) {
	if err := rbac.Check(actor, rbac.CapDashboardView); err != nil {
		return Summary{}, err
	}

	var out Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.RequestsByStatus, err = s.counts.RequestCounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.PurchasesByStatus, err = s.counts.PurchaseCounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.TransitsInFlight, err = s.counts.TransitsInFlight(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		out.UnitStock, err = s.stock.CountByStatus(gctx, stock.PartitionUnit)
		return err
	})
	g.Go(func() error {
		var err error
		out.CDStock, err = s.stock.CountByStatus(gctx, stock.PartitionCD)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return out, nil
}
