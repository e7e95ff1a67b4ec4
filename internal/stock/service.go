package stock

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// RepositoryPort is the storage dependency of the service.
type RepositoryPort interface {
	Get(ctx context.Context, p Partition, key Key) (Record, error)
	List(ctx context.Context, p Partition, f ListFilter) ([]Record, error)
	ListLow(ctx context.Context, p Partition) ([]Record, error)
	ListLowForCD(ctx context.Context, cdID uuid.UUID) ([]Record, error)
	CountByStatus(ctx context.Context, p Partition) (StatusCounts, error)
	UpdateLevels(ctx context.Context, p Partition, key Key, min int64, max *int64) (Record, error)
	SetPrice(ctx context.Context, key Key, price decimal.Decimal, purchaseID *uuid.UUID) (Record, error)
	Snapshot(ctx context.Context, cdID uuid.UUID, itemIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts movements as they are logged.
type MetricsPort interface {
	MovementRecorded(movType string)
}

type Service struct {
	repo    RepositoryPort
	events  events.Publisher
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	flights singleflight.Group
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, pub events.Publisher, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{repo: repo, events: pub, audit: audit, metrics: metrics, logger: logger}
}

// Get returns one ledger row.
func (s *Service) Get(ctx context.Context, actor shared.Actor, p Partition, key Key) (Record, error) {
	if err := rbac.Check(actor, rbac.CapStockView); err != nil {
		return Record{}, err
	}
	if err := rbac.CheckLocation(actor, key.LocationID); err != nil {
		return Record{}, err
	}
	if !p.IsValid() {
		return Record{}, fmt.Errorf("%w: unknown partition %q", shared.ErrValidation, p)
	}
	return s.repo.Get(ctx, p, key)
}

// Peek reads one ledger row without actor checks. Internal callers only;
// HTTP traffic goes through Get.
func (s *Service) Peek(ctx context.Context, p Partition, key Key) (Record, error) {
	if !p.IsValid() {
		return Record{}, fmt.Errorf("%w: unknown partition %q", shared.ErrValidation, p)
	}
	return s.repo.Get(ctx, p, key)
}

// List returns ledger rows. Location-bound actors only ever see their own
// location, whatever filter they send.
func (s *Service) List(ctx context.Context, actor shared.Actor, p Partition, f ListFilter) ([]Record, error) {
	if err := rbac.Check(actor, rbac.CapStockView); err != nil {
		return nil, err
	}
	if !p.IsValid() {
		return nil, fmt.Errorf("%w: unknown partition %q", shared.ErrValidation, p)
	}
	if f.Status != "" && f.Status != StatusEmpty && f.Status != StatusLow && f.Status != StatusNormal {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, f.Status)
	}
	if !actor.Role.IsGlobal() {
		if actor.UnitID == nil {
			return nil, fmt.Errorf("%w: actor has no unit assignment", shared.ErrPermission)
		}
		f.LocationID = actor.UnitID
	}
	return s.repo.List(ctx, p, f)
}

// Create registers a ledger row. When the key already exists the incoming
// quantity is merged into the stored one and the stored thresholds win;
// concurrent creates therefore both land. The max threshold is checked
// against the input quantity only, never against the merged result.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (Record, error) {
	if err := rbac.Check(actor, rbac.CapStockAdjust); err != nil {
		return Record{}, err
	}
	if err := rbac.CheckLocation(actor, input.LocationID); err != nil {
		return Record{}, err
	}
	if err := validateCreate(input); err != nil {
		return Record{}, err
	}

	key := Key{ItemID: input.ItemID, LocationID: input.LocationID}
	levels := Levels{MinQuantity: input.MinQuantity, MaxQuantity: input.MaxQuantity}
	var rec Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		var err error
		rec, err = q.UpsertAdd(ctx, input.Partition, key, input.Quantity, levels)
		if err != nil {
			return err
		}
		if input.Quantity == 0 {
			return nil
		}
		return q.InsertMovement(ctx, &movement.Movement{
			ItemID:     input.ItemID,
			ToLocation: &input.LocationID,
			Quantity:   input.Quantity,
			Type:       movement.TypeAdjustment,
			Reference:  "stock.create",
			ActorID:    actor.UserID,
		})
	})
	if err != nil {
		return Record{}, err
	}

	merged := rec.Quantity != input.Quantity
	if input.Quantity > 0 && s.metrics != nil {
		s.metrics.MovementRecorded(string(movement.TypeAdjustment))
	}
	s.recordAudit(ctx, actor, "stock.create", key, nil, rec)
	s.publish(ctx, actor, input.Partition, events.OpInsert, rec, map[string]any{"merged": merged})
	return rec, nil
}

// Adjust rewrites a row to an absolute counted quantity and logs the signed
// difference as an adjustment movement, all in one transaction.
func (s *Service) Adjust(ctx context.Context, actor shared.Actor, input AdjustInput) (Record, error) {
	if err := rbac.Check(actor, rbac.CapStockAdjust); err != nil {
		return Record{}, err
	}
	if err := rbac.CheckLocation(actor, input.LocationID); err != nil {
		return Record{}, err
	}
	if !input.Partition.IsValid() {
		return Record{}, fmt.Errorf("%w: unknown partition %q", shared.ErrValidation, input.Partition)
	}
	if input.NewQuantity < 0 {
		return Record{}, fmt.Errorf("%w: quantity must not be negative", shared.ErrValidation)
	}
	if strings.TrimSpace(input.Reason) == "" {
		return Record{}, fmt.Errorf("%w: adjustment reason is required", shared.ErrValidation)
	}

	key := Key{ItemID: input.ItemID, LocationID: input.LocationID}
	var before, after Record
	err := s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		var err error
		before, err = q.GetForUpdate(ctx, input.Partition, key)
		if err != nil {
			return err
		}
		if before.Quantity == input.NewQuantity {
			after = before
			return nil
		}
		after, err = q.SetQuantity(ctx, input.Partition, key, input.NewQuantity)
		if err != nil {
			return err
		}
		mv := &movement.Movement{
			ItemID:   input.ItemID,
			Type:     movement.TypeAdjustment,
			ActorID:  actor.UserID,
			Note:     input.Reason,
		}
		if delta := input.NewQuantity - before.Quantity; delta > 0 {
			mv.ToLocation = &input.LocationID
			mv.Quantity = delta
		} else {
			mv.FromLocation = &input.LocationID
			mv.Quantity = -delta
		}
		return q.InsertMovement(ctx, mv)
	})
	if err != nil {
		return Record{}, err
	}
	if before.Quantity == after.Quantity {
		return after, nil
	}

	if s.metrics != nil {
		s.metrics.MovementRecorded(string(movement.TypeAdjustment))
	}
	s.recordAudit(ctx, actor, "stock.adjust", key, before, after)
	s.publish(ctx, actor, input.Partition, events.OpUpdate, after, map[string]any{"reason": input.Reason})
	return after, nil
}

// UpdateLevels rewrites the min/max thresholds of a row.
func (s *Service) UpdateLevels(ctx context.Context, actor shared.Actor, input LevelsInput) (Record, error) {
	if err := rbac.Check(actor, rbac.CapStockLevels); err != nil {
		return Record{}, err
	}
	if err := rbac.CheckLocation(actor, input.LocationID); err != nil {
		return Record{}, err
	}
	if !input.Partition.IsValid() {
		return Record{}, fmt.Errorf("%w: unknown partition %q", shared.ErrValidation, input.Partition)
	}
	if input.MinQuantity < 0 {
		return Record{}, fmt.Errorf("%w: min_quantity must not be negative", shared.ErrValidation)
	}
	if input.MaxQuantity != nil && *input.MaxQuantity < input.MinQuantity {
		return Record{}, fmt.Errorf("%w: max_quantity must be at least min_quantity", shared.ErrValidation)
	}

	key := Key{ItemID: input.ItemID, LocationID: input.LocationID}
	before, err := s.repo.Get(ctx, input.Partition, key)
	if err != nil {
		return Record{}, err
	}
	after, err := s.repo.UpdateLevels(ctx, input.Partition, key, input.MinQuantity, input.MaxQuantity)
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, actor, "stock.levels", key, before, after)
	s.publish(ctx, actor, input.Partition, events.OpUpdate, after, nil)
	return after, nil
}

// SetPrice stores the CD unit price. Manual price edits carry no purchase
// attribution; purchase finalization passes the purchase id.
func (s *Service) SetPrice(ctx context.Context, actor shared.Actor, input PriceInput) (Record, error) {
	if err := rbac.Check(actor, rbac.CapStockPrice); err != nil {
		return Record{}, err
	}
	if err := rbac.CheckLocation(actor, input.CDID); err != nil {
		return Record{}, err
	}
	if input.Partition != PartitionCD {
		return Record{}, ErrPartitionMismatch
	}
	if !input.UnitPrice.IsPositive() {
		return Record{}, fmt.Errorf("%w: unit_price must be positive", shared.ErrValidation)
	}

	key := Key{ItemID: input.ItemID, LocationID: input.CDID}
	before, err := s.repo.Get(ctx, PartitionCD, key)
	if err != nil {
		return Record{}, err
	}
	after, err := s.repo.SetPrice(ctx, key, input.UnitPrice, input.PurchaseID)
	if err != nil {
		return Record{}, err
	}
	s.recordAudit(ctx, actor, "stock.price", key, before, after)
	s.publish(ctx, actor, PartitionCD, events.OpUpdate, after, map[string]any{"unit_price": input.UnitPrice.String()})
	return after, nil
}

// AvailabilitySnapshot reads current CD quantities for a set of items.
// Concurrent callers asking for the same snapshot share one query; items
// without a row are simply absent and read as zero.
func (s *Service) AvailabilitySnapshot(ctx context.Context, cdID uuid.UUID, itemIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	ids := make([]uuid.UUID, len(itemIDs))
	copy(ids, itemIDs)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	ids = slices.Compact(ids)

	key := snapshotKey(cdID, ids)
	v, err, _ := s.flights.Do(key, func() (any, error) {
		return s.repo.Snapshot(ctx, cdID, ids)
	})
	if err != nil {
		return nil, err
	}
	return v.(map[uuid.UUID]int64), nil
}

// LowRows lists rows at or below their minimum for the scan job.
func (s *Service) LowRows(ctx context.Context, p Partition) ([]Record, error) {
	return s.repo.ListLow(ctx, p)
}

// LowRowsForCD lists low unit rows across the units a CD supplies.
func (s *Service) LowRowsForCD(ctx context.Context, cdID uuid.UUID) ([]Record, error) {
	return s.repo.ListLowForCD(ctx, cdID)
}

// CountByStatus aggregates a partition for the dashboard.
func (s *Service) CountByStatus(ctx context.Context, p Partition) (StatusCounts, error) {
	return s.repo.CountByStatus(ctx, p)
}

func validateCreate(input CreateInput) error {
	if !input.Partition.IsValid() {
		return fmt.Errorf("%w: unknown partition %q", shared.ErrValidation, input.Partition)
	}
	if input.ItemID == uuid.Nil || input.LocationID == uuid.Nil {
		return fmt.Errorf("%w: item_id and location_id are required", shared.ErrValidation)
	}
	if input.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", shared.ErrValidation)
	}
	if input.MinQuantity < 0 {
		return fmt.Errorf("%w: min_quantity must not be negative", shared.ErrValidation)
	}
	if input.MaxQuantity != nil {
		if *input.MaxQuantity < input.MinQuantity {
			return fmt.Errorf("%w: max_quantity must be at least min_quantity", shared.ErrValidation)
		}
		if input.Quantity > *input.MaxQuantity {
			return fmt.Errorf("%w: quantity exceeds max_quantity", shared.ErrValidation)
		}
	}
	return nil
}

func snapshotKey(cdID uuid.UUID, ids []uuid.UUID) string {
	var b strings.Builder
	b.WriteString(cdID.String())
	for _, id := range ids {
		b.WriteByte('|')
		b.WriteString(id.String())
	}
	return b.String()
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, key Key, before, after any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		Action:    action,
		Entity:    "stock",
		EntityID:  key.String(),
		Before:    before,
		After:     after,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, actor shared.Actor, p Partition, op events.Op, rec Record, extra map[string]any) {
	payload := map[string]any{
		"quantity": rec.Quantity,
		"status":   string(rec.Status()),
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.events.Publish(ctx, events.Event{
		Table:    tables[p].name,
		Op:       op,
		EntityID: rec.Key().String(),
		Actor:    actor.Name,
		Payload:  payload,
	})
}
