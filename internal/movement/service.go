package movement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// RepositoryPort is the storage dependency of the service.
type RepositoryPort interface {
	List(ctx context.Context, f ListFilter) ([]Movement, error)
	Replay(ctx context.Context) ([]Discrepancy, error)
	CountSince(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricsPort receives reconciliation results.
type MetricsPort interface {
	SetReconcileDiscrepancies(n int)
}

type Service struct {
	repo    RepositoryPort
	metrics MetricsPort
	logger  *slog.Logger
}

func NewService(repo RepositoryPort, metrics MetricsPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, metrics: metrics, logger: logger}
}

// List returns log rows visible to the actor. Unit-bound actors are pinned
// to their own unit regardless of the requested location filter.
func (s *Service) List(ctx context.Context, actor shared.Actor, f ListFilter) ([]Movement, error) {
	if err := rbac.Check(actor, rbac.CapMovementView); err != nil {
		return nil, err
	}
	if !actor.Role.IsGlobal() {
		if actor.UnitID == nil {
			return nil, fmt.Errorf("%w: actor has no unit assignment", shared.ErrPermission)
		}
		f.LocationID = actor.UnitID
	}
	return s.repo.List(ctx, f)
}

// Reconcile replays the full movement log against both stock partitions and
// returns every mismatching pair. It never repairs the ledger; discrepancies
// are reported for manual adjustment.
func (s *Service) Reconcile(ctx context.Context, actor shared.Actor) ([]Discrepancy, error) {
	if err := rbac.Check(actor, rbac.CapMovementReconcile); err != nil {
		return nil, err
	}
	return s.reconcile(ctx)
}

// ReconcileSystem runs the same replay without an actor. The scheduled job
// uses it.
func (s *Service) ReconcileSystem(ctx context.Context) ([]Discrepancy, error) {
	return s.reconcile(ctx)
}

func (s *Service) reconcile(ctx context.Context) ([]Discrepancy, error) {
	started := time.Now()
	diffs, err := s.repo.Replay(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SetReconcileDiscrepancies(len(diffs))
	}
	if len(diffs) > 0 {
		s.logger.Warn("movement replay found discrepancies",
			slog.Int("count", len(diffs)),
			slog.Duration("took", time.Since(started)))
	} else {
		s.logger.Info("movement replay clean", slog.Duration("took", time.Since(started)))
	}
	return diffs, nil
}

// CountSince reports log activity for dashboards.
func (s *Service) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.CountSince(ctx, cutoff)
}
