package transit

import (
	"context"
	"fmt"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// RepositoryPort is the storage dependency of the service.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Transit, error)
	List(ctx context.Context, f ListFilter) ([]Transit, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CatalogPort resolves org units for endpoint validation.
type CatalogPort interface {
	GetUnit(ctx context.Context, id uuid.UUID) (catalog.OrgUnit, error)
}

// AuditPort records transit mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts dispatches and deliveries.
type MetricsPort interface {
	TransitDispatched()
	TransitDelivered()
	MovementRecorded(movType string)
}

type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	events  events.Publisher
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, catalogPort CatalogPort, pub events.Publisher, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{repo: repo, catalog: catalogPort, events: pub, audit: audit, metrics: metrics, logger: logger}
}

// Dispatch creates an ad-hoc CD-to-unit send: the CD debit and the transit
// row commit together, so no transit ever exists without its decrement.
// Request-driven sends go through the request dispatch instead.
func (s *Service) Dispatch(ctx context.Context, actor shared.Actor, input DispatchInput) (Transit, error) {
	if err := rbac.Check(actor, rbac.CapTransitCreate); err != nil {
		return Transit{}, err
	}
	if err := rbac.CheckLocation(actor, input.FromCD); err != nil {
		return Transit{}, err
	}
	if input.Quantity <= 0 {
		return Transit{}, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	if input.ItemID == uuid.Nil || input.FromCD == uuid.Nil || input.ToUnit == uuid.Nil {
		return Transit{}, fmt.Errorf("%w: item_id, from_cd and to_unit are required", shared.ErrValidation)
	}
	if input.FromCD == input.ToUnit {
		return Transit{}, fmt.Errorf("%w: origin and destination must differ", shared.ErrValidation)
	}
	if err := s.validateEndpoints(ctx, input.FromCD, input.ToUnit); err != nil {
		return Transit{}, err
	}

	t := Transit{
		ItemID:   input.ItemID,
		FromCD:   input.FromCD,
		ToUnit:   input.ToUnit,
		Quantity: input.Quantity,
		SentBy:   actor.UserID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		if _, err := q.DecrementCDStock(ctx, input.FromCD, input.ItemID, input.Quantity); err != nil {
			return err
		}
		return q.InsertTransit(ctx, &t)
	})
	if err != nil {
		return Transit{}, err
	}

	if s.metrics != nil {
		s.metrics.TransitDispatched()
	}
	s.recordAudit(ctx, actor, "transit.dispatch", "transits", t.ID.String(), nil, t)
	s.events.Publish(ctx, events.Event{
		Table:    "transits",
		Op:       events.OpInsert,
		EntityID: t.ID.String(),
		Actor:    actor.Name,
		Payload:  map[string]any{"status": string(t.Status), "quantity": t.Quantity},
	})
	return t, nil
}

// Deliver lands a transit at its destination unit. The whole effect set
// rides on one conditional status flip inside one transaction: flip to
// delivered, credit the unit ledger, write the transfer movement, and for
// the last in-transit line of a request advance the request to received.
// A transit that is already delivered yields a conflict and no effect.
func (s *Service) Deliver(ctx context.Context, actor shared.Actor, transitID uuid.UUID) (Transit, error) {
	if err := rbac.Check(actor, rbac.CapTransitDeliver); err != nil {
		return Transit{}, err
	}
	before, err := s.repo.Get(ctx, transitID)
	if err != nil {
		return Transit{}, err
	}
	if err := rbac.CheckLocation(actor, before.ToUnit); err != nil {
		return Transit{}, err
	}

	var (
		delivered       Transit
		unitTotal       int64
		requestReceived bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		t, flipped, err := q.MarkDelivered(ctx, transitID, actor.UserID)
		if err != nil {
			return err
		}
		if !flipped {
			if _, err := q.Get(ctx, transitID); err != nil {
				return err
			}
			return ErrAlreadyDelivered
		}
		delivered = t

		unitTotal, err = q.IncrementUnitStock(ctx, t.ToUnit, t.ItemID, t.Quantity)
		if err != nil {
			return err
		}
		if err := q.InsertMovement(ctx, &movement.Movement{
			ItemID:       t.ItemID,
			FromLocation: &t.FromCD,
			ToLocation:   &t.ToUnit,
			Quantity:     t.Quantity,
			Type:         movement.TypeTransfer,
			Reference:    "transit:" + t.ID.String(),
			ActorID:      actor.UserID,
		}); err != nil {
			return err
		}

		if t.RequestID == nil {
			return nil
		}
		remaining, err := q.CountInTransitForRequest(ctx, *t.RequestID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		requestReceived, err = q.MarkRequestReceived(ctx, *t.RequestID)
		return err
	})
	if err != nil {
		return Transit{}, err
	}

	if s.metrics != nil {
		s.metrics.TransitDelivered()
		s.metrics.MovementRecorded(string(movement.TypeTransfer))
	}
	s.recordAudit(ctx, actor, "transit.deliver", "transits", delivered.ID.String(), before, delivered)
	s.events.Publish(ctx, events.Event{
		Table:    "transits",
		Op:       events.OpUpdate,
		EntityID: delivered.ID.String(),
		Actor:    actor.Name,
		Payload:  map[string]any{"status": string(delivered.Status), "unit_quantity": unitTotal},
	})
	if requestReceived {
		s.recordAudit(ctx, actor, "request.receive", "requests", delivered.RequestID.String(),
			map[string]any{"status": "sent"}, map[string]any{"status": "received"})
		s.events.Publish(ctx, events.Event{
			Table:    "requests",
			Op:       events.OpUpdate,
			EntityID: delivered.RequestID.String(),
			Actor:    actor.Name,
			Payload:  map[string]any{"status": "received"},
		})
	}
	return delivered, nil
}

// Get returns one transit visible to the actor.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Transit, error) {
	if err := rbac.Check(actor, rbac.CapTransitView); err != nil {
		return Transit{}, err
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Transit{}, err
	}
	if !actor.CanAccessLocation(t.ToUnit) && !actor.CanAccessLocation(t.FromCD) {
		return Transit{}, fmt.Errorf("%w: transit outside actor location", shared.ErrPermission)
	}
	return t, nil
}

// List returns transits. Unit operators see inbound lines for their unit,
// CD operators outbound lines from their CD.
func (s *Service) List(ctx context.Context, actor shared.Actor, f ListFilter) ([]Transit, error) {
	if err := rbac.Check(actor, rbac.CapTransitView); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, f.Status)
	}
	if !actor.Role.IsGlobal() {
		if actor.UnitID == nil {
			return nil, fmt.Errorf("%w: actor has no unit assignment", shared.ErrPermission)
		}
		switch actor.Role {
		case shared.RoleCDOperator:
			f.CDID = actor.UnitID
			f.UnitID = nil
		default:
			f.UnitID = actor.UnitID
			f.CDID = nil
		}
	}
	return s.repo.List(ctx, f)
}

func (s *Service) validateEndpoints(ctx context.Context, fromCD, toUnit uuid.UUID) error {
	from, err := s.catalog.GetUnit(ctx, fromCD)
	if err != nil {
		return err
	}
	if !from.IsCD {
		return fmt.Errorf("%w: origin %s is not a CD", shared.ErrValidation, from.Code)
	}
	to, err := s.catalog.GetUnit(ctx, toUnit)
	if err != nil {
		return err
	}
	if to.IsCD {
		return fmt.Errorf("%w: destination %s is not a consuming unit", shared.ErrValidation, to.Code)
	}
	if !from.Active || !to.Active {
		return fmt.Errorf("%w: inactive unit cannot send or receive", shared.ErrValidation)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity, entityID string, before, after any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Before:    before,
		After:     after,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
