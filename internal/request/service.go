package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

// RepositoryPort is the storage dependency of the service.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	GetWithItems(ctx context.Context, id uuid.UUID) (WithItems, error)
	ListItems(ctx context.Context, requestID uuid.UUID) ([]Item, error)
	List(ctx context.Context, f ListFilter) ([]Request, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CatalogPort resolves items and org units for validation.
type CatalogPort interface {
	GetUnit(ctx context.Context, id uuid.UUID) (catalog.OrgUnit, error)
	GetItem(ctx context.Context, id uuid.UUID) (catalog.Item, error)
}

// StockPort reads ledgers without mutating them. Mutations happen through
// the request transaction itself.
type StockPort interface {
	AvailabilitySnapshot(ctx context.Context, cdID uuid.UUID, itemIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	Peek(ctx context.Context, p stock.Partition, key stock.Key) (stock.Record, error)
}

// AuditPort records request mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts state transitions and dispatches.
type MetricsPort interface {
	RequestTransition(to string)
	TransitDispatched()
}

// SpawnedPurchase references the purchase a review created for shortfall.
type SpawnedPurchase struct {
	ID     uuid.UUID `json:"id"`
	Number string    `json:"number"`
}

// ReviewResult is the outcome of SubmitReview.
type ReviewResult struct {
	Request         WithItems        `json:"request"`
	SpawnedPurchase *SpawnedPurchase `json:"spawned_purchase,omitempty"`
}

type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	stock   StockPort
	events  events.Publisher
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, catalogPort CatalogPort, stockPort StockPort, pub events.Publisher, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{repo: repo, catalog: catalogPort, stock: stockPort, events: pub, audit: audit, metrics: metrics, logger: logger}
}

// Create opens a request in status requested. Quantities are validated
// against the unit ledger's max threshold at input time; later merges are
// deliberately not revalidated.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (WithItems, error) {
	if err := rbac.Check(actor, rbac.CapRequestCreate); err != nil {
		return WithItems{}, err
	}
	if err := rbac.CheckLocation(actor, input.UnitID); err != nil {
		return WithItems{}, err
	}

	unit, err := s.catalog.GetUnit(ctx, input.UnitID)
	if err != nil {
		return WithItems{}, err
	}
	if unit.IsCD {
		return WithItems{}, fmt.Errorf("%w: %s is a CD, not a consuming unit", shared.ErrValidation, unit.Code)
	}
	if !unit.Active {
		return WithItems{}, fmt.Errorf("%w: unit %s is inactive", shared.ErrValidation, unit.Code)
	}
	cdID := input.CDID
	if unit.CDID != nil {
		if cdID != uuid.Nil && cdID != *unit.CDID {
			return WithItems{}, fmt.Errorf("%w: unit %s is supplied by a different CD", shared.ErrValidation, unit.Code)
		}
		cdID = *unit.CDID
	}
	if cdID == uuid.Nil {
		return WithItems{}, fmt.Errorf("%w: cd_id is required", shared.ErrValidation)
	}
	cd, err := s.catalog.GetUnit(ctx, cdID)
	if err != nil {
		return WithItems{}, err
	}
	if !cd.IsCD || !cd.Active {
		return WithItems{}, fmt.Errorf("%w: %s is not an active CD", shared.ErrValidation, cd.Code)
	}

	if len(input.Items) == 0 {
		return WithItems{}, fmt.Errorf("%w: at least one item is required", shared.ErrValidation)
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Items))
	for _, line := range input.Items {
		if line.Quantity <= 0 {
			return WithItems{}, fmt.Errorf("%w: item quantity must be positive", shared.ErrValidation)
		}
		if _, dup := seen[line.ItemID]; dup {
			return WithItems{}, fmt.Errorf("%w: duplicate item in request", shared.ErrValidation)
		}
		seen[line.ItemID] = struct{}{}

		item, err := s.catalog.GetItem(ctx, line.ItemID)
		if err != nil {
			return WithItems{}, err
		}
		if !item.Active {
			return WithItems{}, fmt.Errorf("%w: item %s is inactive", shared.ErrValidation, item.Code)
		}
		rec, err := s.stock.Peek(ctx, stock.PartitionUnit, stock.Key{ItemID: line.ItemID, LocationID: input.UnitID})
		switch {
		case err == nil:
			if rec.MaxQuantity != nil && line.Quantity > *rec.MaxQuantity {
				return WithItems{}, fmt.Errorf("%w: item %s quantity %d exceeds unit max %d",
					shared.ErrValidation, item.Code, line.Quantity, *rec.MaxQuantity)
			}
		case errors.Is(err, stock.ErrRecordNotFound):
		default:
			return WithItems{}, err
		}
	}

	req := Request{UnitID: input.UnitID, CDID: cdID, Notes: strings.TrimSpace(input.Notes), CreatedBy: actor.UserID}
	items := make([]Item, len(input.Items))
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		number, err := q.NextNumber(ctx)
		if err != nil {
			return err
		}
		req.Number = number
		if err := q.InsertRequest(ctx, &req); err != nil {
			return err
		}
		for i, line := range input.Items {
			items[i] = Item{RequestID: req.ID, ItemID: line.ItemID, QuantityRequested: line.Quantity}
		}
		return q.InsertItems(ctx, items)
	})
	if err != nil {
		return WithItems{}, err
	}

	out := WithItems{Request: req, Items: items}
	s.transitionEffects(ctx, actor, "request.create", req.ID, nil, map[string]any{"status": string(req.Status), "number": req.Number}, events.OpInsert)
	return out, nil
}

// StartReview moves requested to reviewing and records the reviewer.
func (s *Service) StartReview(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	req, err := s.authorizeCDSide(ctx, actor, id, rbac.CapRequestReview)
	if err != nil {
		return Request{}, err
	}
	if !CanTransition(req.Status, StatusReviewing) {
		return Request{}, &TransitionError{From: req.Status, To: StatusReviewing}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		cur, err := q.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ok, err := q.AdvanceStatus(ctx, id, []Status{StatusRequested}, StatusReviewing)
		if err != nil {
			return err
		}
		if !ok {
			return &TransitionError{From: cur.Status, To: StatusReviewing}
		}
		return q.SetReviewer(ctx, id, actor.UserID)
	})
	if err != nil {
		return Request{}, err
	}

	s.transitionEffects(ctx, actor, "request.review_start", id,
		map[string]any{"status": string(req.Status)},
		map[string]any{"status": string(StatusReviewing)}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

// SubmitReview applies per-line approvals against a frozen availability
// snapshot. Lines short on CD stock are flagged needs_purchase and their
// shortfall spawns one back-referenced purchase inside the same transaction;
// the request lands on approved or approved_pending_purchase accordingly.
func (s *Service) SubmitReview(ctx context.Context, actor shared.Actor, id uuid.UUID, input ReviewInput) (ReviewResult, error) {
	req, err := s.authorizeCDSide(ctx, actor, id, rbac.CapRequestReview)
	if err != nil {
		return ReviewResult{}, err
	}
	if req.Status != StatusReviewing {
		return ReviewResult{}, &TransitionError{From: req.Status, To: StatusApproved}
	}

	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return ReviewResult{}, err
	}
	itemIDs := make([]uuid.UUID, len(items))
	byItem := make(map[uuid.UUID]Item, len(items))
	for i, it := range items {
		itemIDs[i] = it.ItemID
		byItem[it.ItemID] = it
	}
	explicit := make(map[uuid.UUID]int64, len(input.Approvals))
	for _, a := range input.Approvals {
		if _, ok := byItem[a.ItemID]; !ok {
			return ReviewResult{}, fmt.Errorf("%w: approval for item not on the request", shared.ErrValidation)
		}
		explicit[a.ItemID] = a.QuantityApproved
	}

	snapshot, err := s.stock.AvailabilitySnapshot(ctx, req.CDID, itemIDs)
	if err != nil {
		return ReviewResult{}, err
	}

	type decision struct {
		rowID         uuid.UUID
		approved      int64
		available     int64
		needsPurchase bool
	}
	decisions := make([]decision, 0, len(items))
	var shortfall []PurchaseLine
	for _, it := range items {
		available := snapshot[it.ItemID]
		ceiling := min(it.QuantityRequested, available)
		approved, ok := explicit[it.ItemID]
		if !ok {
			approved = ceiling
		}
		if approved < 0 || approved > ceiling {
			return ReviewResult{}, fmt.Errorf("%w: approved quantity %d outside 0..%d",
				shared.ErrValidation, approved, ceiling)
		}
		needs := it.QuantityRequested > available
		if needs {
			shortfall = append(shortfall, PurchaseLine{ItemID: it.ItemID, Quantity: it.QuantityRequested - available})
		}
		decisions = append(decisions, decision{rowID: it.ID, approved: approved, available: available, needsPurchase: needs})
	}

	target := StatusApproved
	if len(shortfall) > 0 {
		target = StatusApprovedPendingPurchase
	}

	var spawned *SpawnedPurchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		cur, err := q.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusReviewing {
			return &TransitionError{From: cur.Status, To: target}
		}
		for _, d := range decisions {
			if err := q.UpdateItemReview(ctx, d.rowID, d.approved, d.available, d.needsPurchase); err != nil {
				return err
			}
		}
		if len(shortfall) > 0 {
			pid, number, err := q.InsertPurchase(ctx, PurchaseSpawn{
				CDID:      req.CDID,
				RequestID: id,
				CreatedBy: actor.UserID,
				Notes:     "shortfall for " + req.Number,
				Lines:     shortfall,
			})
			if err != nil {
				return err
			}
			spawned = &SpawnedPurchase{ID: pid, Number: number}
		}
		ok, err := q.AdvanceStatus(ctx, id, []Status{StatusReviewing}, target)
		if err != nil {
			return err
		}
		if !ok {
			return &TransitionError{From: cur.Status, To: target}
		}
		return q.SetReviewer(ctx, id, actor.UserID)
	})
	if err != nil {
		return ReviewResult{}, err
	}

	s.transitionEffects(ctx, actor, "request.review", id,
		map[string]any{"status": string(StatusReviewing)},
		map[string]any{"status": string(target)}, events.OpUpdate)
	if spawned != nil {
		s.recordAudit(ctx, actor, "purchase.create", "purchases", spawned.ID.String(), nil,
			map[string]any{"number": spawned.Number, "request_id": id.String()})
		s.events.Publish(ctx, events.Event{
			Table:    "purchases",
			Op:       events.OpInsert,
			EntityID: spawned.ID.String(),
			Actor:    actor.Name,
			Payload:  map[string]any{"number": spawned.Number, "status": "order_placed"},
		})
	}

	full, err := s.repo.GetWithItems(ctx, id)
	if err != nil {
		return ReviewResult{}, err
	}
	return ReviewResult{Request: full, SpawnedPurchase: spawned}, nil
}

// Reject closes a request under review. Terminal; ledgers stay untouched.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id uuid.UUID, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, fmt.Errorf("%w: rejection reason is required", shared.ErrValidation)
	}
	req, err := s.authorizeCDSide(ctx, actor, id, rbac.CapRequestReview)
	if err != nil {
		return Request{}, err
	}
	if !CanTransition(req.Status, StatusRejected) {
		return Request{}, &TransitionError{From: req.Status, To: StatusRejected}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		ok, err := q.SetRejected(ctx, id, reason)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := q.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			return &TransitionError{From: cur.Status, To: StatusRejected}
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.transitionEffects(ctx, actor, "request.reject", id,
		map[string]any{"status": string(req.Status)},
		map[string]any{"status": string(StatusRejected), "reason": reason}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

// Cancel withdraws a request before the CD starts fulfilling it.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	if err := rbac.Check(actor, rbac.CapRequestCancel); err != nil {
		return Request{}, err
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if err := rbac.CheckLocation(actor, req.UnitID); err != nil {
		return Request{}, err
	}
	if !CanTransition(req.Status, StatusCancelled) {
		return Request{}, &TransitionError{From: req.Status, To: StatusCancelled}
	}

	err = s.advance(ctx, id, []Status{StatusRequested, StatusReviewing}, StatusCancelled)
	if err != nil {
		return Request{}, err
	}
	s.transitionEffects(ctx, actor, "request.cancel", id,
		map[string]any{"status": string(req.Status)},
		map[string]any{"status": string(StatusCancelled)}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

// Acknowledge lets the requesting unit confirm the approved quantities.
func (s *Service) Acknowledge(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	if err := rbac.Check(actor, rbac.CapRequestAcknowledge); err != nil {
		return Request{}, err
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if err := rbac.CheckLocation(actor, req.UnitID); err != nil {
		return Request{}, err
	}
	if !CanTransition(req.Status, StatusApprovedByUnit) {
		return Request{}, &TransitionError{From: req.Status, To: StatusApprovedByUnit}
	}

	if err := s.advance(ctx, id, []Status{StatusApproved}, StatusApprovedByUnit); err != nil {
		return Request{}, err
	}
	s.transitionEffects(ctx, actor, "request.acknowledge", id,
		map[string]any{"status": string(req.Status)},
		map[string]any{"status": string(StatusApprovedByUnit)}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

// StartPreparing moves an approved request into fulfillment. Unit
// acknowledgement is an optional detour, so both approved states qualify.
func (s *Service) StartPreparing(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	req, err := s.authorizeCDSide(ctx, actor, id, rbac.CapRequestDispatch)
	if err != nil {
		return Request{}, err
	}
	if !CanTransition(req.Status, StatusPreparing) {
		return Request{}, &TransitionError{From: req.Status, To: StatusPreparing}
	}

	if err := s.advance(ctx, id, []Status{StatusApproved, StatusApprovedByUnit}, StatusPreparing); err != nil {
		return Request{}, err
	}
	s.transitionEffects(ctx, actor, "request.prepare", id,
		map[string]any{"status": string(req.Status)},
		map[string]any{"status": string(StatusPreparing)}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

// Dispatch sends every approved line in one transaction: per line a
// conditional CD debit, a transit row and the sent quantity, then the flip
// to sent. Any insufficient line aborts the whole dispatch; nothing leaves
// the CD.
func (s *Service) Dispatch(ctx context.Context, actor shared.Actor, id uuid.UUID) (WithItems, error) {
	req, err := s.authorizeCDSide(ctx, actor, id, rbac.CapRequestDispatch)
	if err != nil {
		return WithItems{}, err
	}
	if !CanTransition(req.Status, StatusSent) {
		return WithItems{}, &TransitionError{From: req.Status, To: StatusSent}
	}

	var lines int
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		cur, err := q.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusPreparing {
			return &TransitionError{From: cur.Status, To: StatusSent}
		}
		items, err := q.GetItems(ctx, id)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.QuantityApproved == nil || *it.QuantityApproved <= 0 {
				continue
			}
			qty := *it.QuantityApproved
			if _, err := q.DecrementCDStock(ctx, cur.CDID, it.ItemID, qty); err != nil {
				return err
			}
			if _, err := q.InsertTransit(ctx, TransitLine{
				ItemID:    it.ItemID,
				FromCD:    cur.CDID,
				ToUnit:    cur.UnitID,
				Quantity:  qty,
				RequestID: id,
				SentBy:    actor.UserID,
			}); err != nil {
				return err
			}
			if err := q.SetItemSent(ctx, it.ID, qty); err != nil {
				return err
			}
			lines++
		}
		if lines == 0 {
			return fmt.Errorf("%w: no approved quantities to dispatch", shared.ErrValidation)
		}
		ok, err := q.AdvanceStatus(ctx, id, []Status{StatusPreparing}, StatusSent)
		if err != nil {
			return err
		}
		if !ok {
			return &TransitionError{From: cur.Status, To: StatusSent}
		}
		return nil
	})
	if err != nil {
		return WithItems{}, err
	}

	if s.metrics != nil {
		for i := 0; i < lines; i++ {
			s.metrics.TransitDispatched()
		}
	}
	s.transitionEffects(ctx, actor, "request.dispatch", id,
		map[string]any{"status": string(StatusPreparing)},
		map[string]any{"status": string(StatusSent), "lines": lines}, events.OpUpdate)
	return s.repo.GetWithItems(ctx, id)
}

// FlagItemError marks one line with a fulfillment problem.
func (s *Service) FlagItemError(ctx context.Context, actor shared.Actor, requestID, itemRowID uuid.UUID, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("%w: error description is required", shared.ErrValidation)
	}
	req, err := s.authorizeCDSide(ctx, actor, requestID, rbac.CapRequestDispatch)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return fmt.Errorf("%w: request %s is closed", shared.ErrValidation, req.Number)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		items, err := q.GetItems(ctx, requestID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.ID == itemRowID {
				return q.SetItemError(ctx, itemRowID, description)
			}
		}
		return ErrItemNotFound
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "request.item_error", "requests", requestID.String(), nil,
		map[string]any{"item_row": itemRowID.String(), "description": description})
	return nil
}

// MarkOrderError closes a request that cannot be fulfilled.
func (s *Service) MarkOrderError(ctx context.Context, actor shared.Actor, id uuid.UUID, reason string) (Request, error) {
	req, err := s.authorizeCDSide(ctx, actor, id, rbac.CapRequestDispatch)
	if err != nil {
		return Request{}, err
	}
	if !CanTransition(req.Status, StatusOrderError) {
		return Request{}, &TransitionError{From: req.Status, To: StatusOrderError}
	}

	if err := s.advance(ctx, id, []Status{StatusPreparing, StatusApprovedPendingPurchase}, StatusOrderError); err != nil {
		return Request{}, err
	}
	s.transitionEffects(ctx, actor, "request.order_error", id,
		map[string]any{"status": string(req.Status)},
		map[string]any{"status": string(StatusOrderError), "reason": strings.TrimSpace(reason)}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

// Get returns a request with lines, visible to either side of it.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (WithItems, error) {
	if err := rbac.Check(actor, rbac.CapRequestView); err != nil {
		return WithItems{}, err
	}
	full, err := s.repo.GetWithItems(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	if !actor.CanAccessLocation(full.UnitID) && !actor.CanAccessLocation(full.CDID) {
		return WithItems{}, fmt.Errorf("%w: request outside actor location", shared.ErrPermission)
	}
	return full, nil
}

// List returns requests. Unit operators see their unit's, CD operators the
// ones addressed to their CD.
func (s *Service) List(ctx context.Context, actor shared.Actor, f ListFilter) ([]Request, error) {
	if err := rbac.Check(actor, rbac.CapRequestView); err != nil {
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

func (s *Service) authorizeCDSide(ctx context.Context, actor shared.Actor, id uuid.UUID, cap rbac.Capability) (Request, error) {
	if err := rbac.Check(actor, cap); err != nil {
		return Request{}, err
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if err := rbac.CheckLocation(actor, req.CDID); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (s *Service) advance(ctx context.Context, id uuid.UUID, from []Status, to Status) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		ok, err := q.AdvanceStatus(ctx, id, from, to)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := q.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			return &TransitionError{From: cur.Status, To: to}
		}
		return nil
	})
}

func (s *Service) transitionEffects(ctx context.Context, actor shared.Actor, action string, id uuid.UUID, before, after map[string]any, op events.Op) {
	if s.metrics != nil {
		if status, ok := after["status"].(string); ok {
			s.metrics.RequestTransition(status)
		}
	}
	s.recordAudit(ctx, actor, action, "requests", id.String(), before, after)
	s.events.Publish(ctx, events.Event{
		Table:    "requests",
		Op:       op,
		EntityID: id.String(),
		Actor:    actor.Name,
		Payload:  after,
	})
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
