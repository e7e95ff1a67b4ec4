package movement

import (
	"context"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

type memoryRepo struct {
	movements []Movement
	diffs     []Discrepancy
}

func (r *memoryRepo) List(ctx context.Context, f ListFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if f.LocationID != nil {
			hit := (m.FromLocation != nil && *m.FromLocation == *f.LocationID) ||
				(m.ToLocation != nil && *m.ToLocation == *f.LocationID)
			if !hit {
				continue
			}
		}
		if f.Type != "" && m.Type != f.Type {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memoryRepo) Replay(ctx context.Context) ([]Discrepancy, error) {
	return r.diffs, nil
}

func (r *memoryRepo) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	return int64(len(r.movements)), nil
}

type memoryMetrics struct {
	discrepancies int
}

func (m *memoryMetrics) SetReconcileDiscrepancies(n int) { m.discrepancies = n }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListPinsUnitActors(t *testing.T) {
	unitA, unitB := uuid.New(), uuid.New()
	repo := &memoryRepo{movements: []Movement{
		{ID: 1, ItemID: uuid.New(), ToLocation: &unitA, Quantity: 5, Type: TypeAdjustment},
		{ID: 2, ItemID: uuid.New(), ToLocation: &unitB, Quantity: 7, Type: TypeAdjustment},
	}}
	svc := NewService(repo, nil, discardLogger())

	actor := shared.Actor{UserID: uuid.New(), Role: shared.RoleUnitOperator, UnitID: &unitA}
	out, err := svc.List(context.Background(), actor, ListFilter{LocationID: &unitB})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(1), out[0].ID)
}

func TestReconcileReportsAndGauges(t *testing.T) {
	repo := &memoryRepo{diffs: []Discrepancy{
		{Partition: "unit", ItemID: uuid.New(), LocationID: uuid.New(), LedgerQuantity: 10, ReplayQuantity: 8},
	}}
	metrics := &memoryMetrics{}
	svc := NewService(repo, metrics, discardLogger())

	admin := shared.Actor{UserID: uuid.New(), Role: shared.RoleAdmin}
	diffs, err := svc.Reconcile(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	require.Equal(t, 1, metrics.discrepancies)
}

func TestReconcileNeedsCapability(t *testing.T) {
	svc := NewService(&memoryRepo{}, nil, discardLogger())
	unitID := uuid.New()
	op := shared.Actor{UserID: uuid.New(), Role: shared.RoleUnitOperator, UnitID: &unitID}
	_, err := svc.Reconcile(context.Background(), op)
	require.ErrorIs(t, err, shared.ErrPermission)
}
