package purchase

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/events"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/rbac"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// RepositoryPort is the storage dependency of the service.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Purchase, error)
	GetWithItems(ctx context.Context, id uuid.UUID) (WithItems, error)
	ListItems(ctx context.Context, purchaseID uuid.UUID) ([]Item, error)
	List(ctx context.Context, f ListFilter) ([]Purchase, error)
	ListQuotations(ctx context.Context, purchaseID uuid.UUID) ([]QuotationWithItems, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CatalogPort resolves CDs, items and suppliers for validation and for
// quotation snapshots.
type CatalogPort interface {
	GetUnit(ctx context.Context, id uuid.UUID) (catalog.OrgUnit, error)
	GetItem(ctx context.Context, id uuid.UUID) (catalog.Item, error)
	GetSupplier(ctx context.Context, id uuid.UUID) (catalog.Supplier, error)
}

// AuditPort records purchase mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts purchase transitions and the movements finalization
// writes.
type MetricsPort interface {
	PurchaseTransition(to string)
	MovementRecorded(kind string)
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

// Create opens a purchase by hand in status order_placed. Most purchases are
// spawned by request review instead.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (WithItems, error) {
	if err := rbac.Check(actor, rbac.CapPurchaseManage); err != nil {
		return WithItems{}, err
	}
	if err := rbac.CheckLocation(actor, input.CDID); err != nil {
		return WithItems{}, err
	}

	cd, err := s.catalog.GetUnit(ctx, input.CDID)
	if err != nil {
		return WithItems{}, err
	}
	if !cd.IsCD || !cd.Active {
		return WithItems{}, fmt.Errorf("%w: %s is not an active CD", shared.ErrValidation, cd.Code)
	}
	if input.SupplierID != nil {
		supplier, err := s.catalog.GetSupplier(ctx, *input.SupplierID)
		if err != nil {
			return WithItems{}, err
		}
		if !supplier.Active {
			return WithItems{}, fmt.Errorf("%w: supplier %s is inactive", shared.ErrValidation, supplier.Name)
		}
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
			return WithItems{}, fmt.Errorf("%w: duplicate item in purchase", shared.ErrValidation)
		}
		seen[line.ItemID] = struct{}{}
		item, err := s.catalog.GetItem(ctx, line.ItemID)
		if err != nil {
			return WithItems{}, err
		}
		if !item.Active {
			return WithItems{}, fmt.Errorf("%w: item %s is inactive", shared.ErrValidation, item.Code)
		}
	}

	p := Purchase{
		CDID:       input.CDID,
		SupplierID: input.SupplierID,
		RequestID:  input.RequestID,
		Notes:      strings.TrimSpace(input.Notes),
		CreatedBy:  actor.UserID,
	}
	items := make([]Item, len(input.Items))
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		number, err := q.NextNumber(ctx)
		if err != nil {
			return err
		}
		p.Number = number
		if err := q.InsertPurchase(ctx, &p); err != nil {
			return err
		}
		for i, line := range input.Items {
			items[i] = Item{PurchaseID: p.ID, ItemID: line.ItemID, Quantity: line.Quantity}
		}
		return q.InsertItems(ctx, items)
	})
	if err != nil {
		return WithItems{}, err
	}

	s.transitionEffects(ctx, actor, "purchase.create", p.ID, nil,
		map[string]any{"status": string(p.Status), "number": p.Number}, events.OpInsert)
	return WithItems{Purchase: p, Items: items}, nil
}

// StartQuoting opens the quotation stage.
func (s *Service) StartQuoting(ctx context.Context, actor shared.Actor, id uuid.UUID) (Purchase, error) {
	return s.flip(ctx, actor, id, rbac.CapPurchaseManage, "purchase.quote_start", []Status{StatusOrderPlaced}, StatusQuoting)
}

// MarkPurchased records that the order went out to the supplier. Like
// ChooseQuotation this is a finance decision, so it runs under the decide
// capability rather than manage.
func (s *Service) MarkPurchased(ctx context.Context, actor shared.Actor, id uuid.UUID) (Purchase, error) {
	return s.flip(ctx, actor, id, rbac.CapPurchaseDecide, "purchase.purchased", []Status{StatusQuoting}, StatusPurchasedAwaiting)
}

// MarkArrived records physical arrival at the CD dock. Stock enters the
// ledger only at Finalize.
func (s *Service) MarkArrived(ctx context.Context, actor shared.Actor, id uuid.UUID) (Purchase, error) {
	return s.flip(ctx, actor, id, rbac.CapPurchaseManage, "purchase.arrived", []Status{StatusPurchasedAwaiting}, StatusArrivedAtCD)
}

// MarkSent records that arrived goods were checked and put away.
func (s *Service) MarkSent(ctx context.Context, actor shared.Actor, id uuid.UUID) (Purchase, error) {
	return s.flip(ctx, actor, id, rbac.CapPurchaseManage, "purchase.sent", []Status{StatusArrivedAtCD}, StatusSent)
}

// AddQuotation snapshots the purchase lines with a supplier's prices. The
// snapshot is immutable; later purchase edits do not rewrite it.
func (s *Service) AddQuotation(ctx context.Context, actor shared.Actor, purchaseID uuid.UUID, input QuotationInput) (QuotationWithItems, error) {
	p, err := s.authorize(ctx, actor, purchaseID, rbac.CapPurchaseManage)
	if err != nil {
		return QuotationWithItems{}, err
	}
	if p.Status != StatusQuoting {
		return QuotationWithItems{}, fmt.Errorf("%w: purchase %s is not quoting", shared.ErrValidation, p.Number)
	}
	supplier, err := s.catalog.GetSupplier(ctx, input.SupplierID)
	if err != nil {
		return QuotationWithItems{}, err
	}
	if !supplier.Active {
		return QuotationWithItems{}, fmt.Errorf("%w: supplier %s is inactive", shared.ErrValidation, supplier.Name)
	}
	prices := make(map[uuid.UUID]decimal.Decimal, len(input.Prices))
	for _, offer := range input.Prices {
		if !offer.UnitPrice.IsPositive() {
			return QuotationWithItems{}, fmt.Errorf("%w: quoted price must be positive", shared.ErrValidation)
		}
		prices[offer.ItemID] = offer.UnitPrice
	}

	quotation := Quotation{PurchaseID: purchaseID, SupplierID: input.SupplierID, CreatedBy: actor.UserID}
	var lines []QuotationItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		cur, err := q.GetForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if cur.Status != StatusQuoting {
			return fmt.Errorf("%w: purchase %s is not quoting", shared.ErrValidation, cur.Number)
		}
		items, err := q.GetItems(ctx, purchaseID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		lines = make([]QuotationItem, 0, len(items))
		for _, it := range items {
			price, ok := prices[it.ItemID]
			if !ok {
				return fmt.Errorf("%w: quotation must price every purchase line", shared.ErrValidation)
			}
			catalogItem, err := s.catalog.GetItem(ctx, it.ItemID)
			if err != nil {
				return err
			}
			lines = append(lines, QuotationItem{
				ItemID:    it.ItemID,
				ItemCode:  catalogItem.Code,
				ItemName:  catalogItem.Name,
				Quantity:  it.Quantity,
				UnitPrice: price,
			})
			total = total.Add(price.Mul(decimal.NewFromInt(it.Quantity)))
		}
		quotation.TotalValue = total
		return q.InsertQuotation(ctx, &quotation, lines)
	})
	if err != nil {
		return QuotationWithItems{}, err
	}

	s.recordAudit(ctx, actor, "purchase.quotation", "quotations", quotation.ID.String(), nil,
		map[string]any{"purchase_id": purchaseID.String(), "supplier": supplier.Name, "total": quotation.TotalValue.String()})
	return QuotationWithItems{Quotation: quotation, Items: lines}, nil
}

// ChooseQuotation picks the winning quotation, copies its prices onto the
// purchase lines and recomputes the total.
func (s *Service) ChooseQuotation(ctx context.Context, actor shared.Actor, purchaseID, quotationID uuid.UUID) (WithItems, error) {
	p, err := s.authorize(ctx, actor, purchaseID, rbac.CapPurchaseDecide)
	if err != nil {
		return WithItems{}, err
	}
	if p.Status != StatusQuoting {
		return WithItems{}, fmt.Errorf("%w: purchase %s is not quoting", shared.ErrValidation, p.Number)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		cur, err := q.GetForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		if cur.Status != StatusQuoting {
			return fmt.Errorf("%w: purchase %s is not quoting", shared.ErrValidation, cur.Number)
		}
		quotation, err := q.GetQuotation(ctx, quotationID)
		if err != nil {
			return err
		}
		if quotation.PurchaseID != purchaseID {
			return ErrQuotationNotFound
		}
		if err := q.MarkQuotationChosen(ctx, purchaseID, quotationID); err != nil {
			return err
		}
		snapshot, err := q.GetQuotationItems(ctx, quotationID)
		if err != nil {
			return err
		}
		prices := make(map[uuid.UUID]decimal.Decimal, len(snapshot))
		for _, line := range snapshot {
			prices[line.ItemID] = line.UnitPrice
		}
		items, err := q.GetItems(ctx, purchaseID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, it := range items {
			price, ok := prices[it.ItemID]
			if !ok {
				// line added after the snapshot; it stays unpriced
				continue
			}
			if err := q.SetItemPrice(ctx, it.ID, price); err != nil {
				return err
			}
			total = total.Add(price.Mul(decimal.NewFromInt(it.Quantity)))
		}
		if err := q.SetTotalValue(ctx, purchaseID, total); err != nil {
			return err
		}
		return q.SetSupplier(ctx, purchaseID, quotation.SupplierID)
	})
	if err != nil {
		return WithItems{}, err
	}

	s.recordAudit(ctx, actor, "purchase.quotation_chosen", "purchases", purchaseID.String(),
		map[string]any{"supplier_id": nil}, map[string]any{"quotation_id": quotationID.String()})
	return s.repo.GetWithItems(ctx, purchaseID)
}

// Finalize books the purchase into the CD ledger in one transaction: a
// conditional flip of sent to finalized gates the effects, then every line
// upserts CD stock, attributes the price and appends a purchase movement.
// A linked request gets its approved quantities raised and, once no open
// sibling purchase remains, moves from approved_pending_purchase to
// approved. This is the only operation that creates stock from outside the
// network.
func (s *Service) Finalize(ctx context.Context, actor shared.Actor, id uuid.UUID) (WithItems, error) {
	p, err := s.authorize(ctx, actor, id, rbac.CapPurchaseFinalize)
	if err != nil {
		return WithItems{}, err
	}
	if !CanTransition(p.Status, StatusFinalized) {
		return WithItems{}, &TransitionError{From: p.Status, To: StatusFinalized}
	}

	var (
		lines           int
		requestApproved bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		cur, err := q.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		flipped, err := q.SetFinalized(ctx, id)
		if err != nil {
			return err
		}
		if !flipped {
			return &TransitionError{From: cur.Status, To: StatusFinalized}
		}
		items, err := q.GetItems(ctx, id)
		if err != nil {
			return err
		}
		for _, it := range items {
			if _, err := q.UpsertAddCDStock(ctx, cur.CDID, it.ItemID, it.Quantity); err != nil {
				return err
			}
			if it.UnitPrice != nil {
				if err := q.SetCDPrice(ctx, cur.CDID, it.ItemID, *it.UnitPrice, id); err != nil {
					return err
				}
			}
			cdID := cur.CDID
			if err := q.InsertMovement(ctx, &movement.Movement{
				ItemID:     it.ItemID,
				ToLocation: &cdID,
				Quantity:   it.Quantity,
				Type:       movement.TypePurchase,
				Reference:  "purchase:" + cur.Number,
				ActorID:    actor.UserID,
			}); err != nil {
				return err
			}
			if cur.RequestID != nil {
				if err := q.RaiseRequestItemApproved(ctx, *cur.RequestID, it.ItemID, it.Quantity); err != nil {
					return err
				}
			}
			lines++
		}
		if cur.RequestID != nil {
			open, err := q.CountOpenSiblings(ctx, *cur.RequestID, id)
			if err != nil {
				return err
			}
			if open == 0 {
				requestApproved, err = q.AdvanceRequestStatus(ctx, *cur.RequestID,
					"approved_pending_purchase", "approved")
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return WithItems{}, err
	}

	if s.metrics != nil {
		for i := 0; i < lines; i++ {
			s.metrics.MovementRecorded(string(movement.TypePurchase))
		}
	}
	s.transitionEffects(ctx, actor, "purchase.finalize", id,
		map[string]any{"status": string(p.Status)},
		map[string]any{"status": string(StatusFinalized), "lines": lines}, events.OpUpdate)
	if requestApproved && p.RequestID != nil {
		s.recordAudit(ctx, actor, "request.approve", "requests", p.RequestID.String(),
			map[string]any{"status": "approved_pending_purchase"},
			map[string]any{"status": "approved"})
		s.events.Publish(ctx, events.Event{
			Table:    "requests",
			Op:       events.OpUpdate,
			EntityID: p.RequestID.String(),
			Actor:    actor.Name,
			Payload:  map[string]any{"status": "approved"},
		})
	}
	return s.repo.GetWithItems(ctx, id)
}

// MarkError closes a purchase that cannot complete. A linked request still
// waiting on this purchase is cascaded to order_error.
func (s *Service) MarkError(ctx context.Context, actor shared.Actor, id uuid.UUID, reason string) (Purchase, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Purchase{}, fmt.Errorf("%w: error reason is required", shared.ErrValidation)
	}
	p, err := s.authorize(ctx, actor, id, rbac.CapPurchaseManage)
	if err != nil {
		return Purchase{}, err
	}
	if !CanTransition(p.Status, StatusOrderError) {
		return Purchase{}, &TransitionError{From: p.Status, To: StatusOrderError}
	}

	var requestCascaded bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
		ok, err := q.SetOrderError(ctx, id, reason)
		if err != nil {
			return err
		}
		if !ok {
			cur, err := q.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			return &TransitionError{From: cur.Status, To: StatusOrderError}
		}
		if p.RequestID != nil {
			requestCascaded, err = q.AdvanceRequestStatus(ctx, *p.RequestID,
				"approved_pending_purchase", "order_error")
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}

	s.transitionEffects(ctx, actor, "purchase.error", id,
		map[string]any{"status": string(p.Status)},
		map[string]any{"status": string(StatusOrderError), "reason": reason}, events.OpUpdate)
	if requestCascaded && p.RequestID != nil {
		s.recordAudit(ctx, actor, "request.order_error", "requests", p.RequestID.String(),
			map[string]any{"status": "approved_pending_purchase"},
			map[string]any{"status": "order_error"})
		s.events.Publish(ctx, events.Event{
			Table:    "requests",
			Op:       events.OpUpdate,
			EntityID: p.RequestID.String(),
			Actor:    actor.Name,
			Payload:  map[string]any{"status": "order_error"},
		})
	}
	return s.repo.Get(ctx, id)
}

// Get returns a purchase with its lines.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (WithItems, error) {
	if err := rbac.Check(actor, rbac.CapPurchaseView); err != nil {
		return WithItems{}, err
	}
	full, err := s.repo.GetWithItems(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	if !actor.CanAccessLocation(full.CDID) {
		return WithItems{}, fmt.Errorf("%w: purchase outside actor location", shared.ErrPermission)
	}
	return full, nil
}

// Quotations returns a purchase's quotations with their snapshot lines.
func (s *Service) Quotations(ctx context.Context, actor shared.Actor, purchaseID uuid.UUID) ([]QuotationWithItems, error) {
	if _, err := s.authorize(ctx, actor, purchaseID, rbac.CapPurchaseView); err != nil {
		return nil, err
	}
	return s.repo.ListQuotations(ctx, purchaseID)
}

// List returns purchases. Non-global actors see their CD's only.
func (s *Service) List(ctx context.Context, actor shared.Actor, f ListFilter) ([]Purchase, error) {
	if err := rbac.Check(actor, rbac.CapPurchaseView); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, f.Status)
	}
	if !actor.Role.IsGlobal() {
		if actor.UnitID == nil {
			return nil, fmt.Errorf("%w: actor has no unit assignment", shared.ErrPermission)
		}
		f.CDID = actor.UnitID
	}
	return s.repo.List(ctx, f)
}

func (s *Service) flip(ctx context.Context, actor shared.Actor, id uuid.UUID, cap rbac.Capability, action string, from []Status, to Status) (Purchase, error) {
	p, err := s.authorize(ctx, actor, id, cap)
	if err != nil {
		return Purchase{}, err
	}
	if !CanTransition(p.Status, to) {
		return Purchase{}, &TransitionError{From: p.Status, To: to}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, q TxRepository) error {
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
	if err != nil {
		return Purchase{}, err
	}

	s.transitionEffects(ctx, actor, action, id,
		map[string]any{"status": string(p.Status)},
		map[string]any{"status": string(to)}, events.OpUpdate)
	return s.repo.Get(ctx, id)
}

func (s *Service) authorize(ctx context.Context, actor shared.Actor, id uuid.UUID, cap rbac.Capability) (Purchase, error) {
	if err := rbac.Check(actor, cap); err != nil {
		return Purchase{}, err
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Purchase{}, err
	}
	if err := rbac.CheckLocation(actor, p.CDID); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

func (s *Service) transitionEffects(ctx context.Context, actor shared.Actor, action string, id uuid.UUID, before, after map[string]any, op events.Op) {
	if s.metrics != nil {
		if status, ok := after["status"].(string); ok {
			s.metrics.PurchaseTransition(status)
		}
	}
	s.recordAudit(ctx, actor, action, "purchases", id.String(), before, after)
	s.events.Publish(ctx, events.Event{
		Table:    "purchases",
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
