package request

import (
	"context"
	"fmt"
	"io"
	"testing"

	"log/slog"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

type memoryRepo struct {
	requests  map[uuid.UUID]Request
	items     map[uuid.UUID][]Item
	cdStock   map[string]int64
	transits  []TransitLine
	purchases []PurchaseSpawn
	nextReq   int
	nextPur   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		requests: map[uuid.UUID]Request{},
		items:    map[uuid.UUID][]Item{},
		cdStock:  map[string]int64{},
	}
}

func stockKey(itemID, cdID uuid.UUID) string {
	return itemID.String() + "|" + cdID.String()
}

func (m *memoryRepo) clone() *memoryRepo {
	c := &memoryRepo{
		requests:  make(map[uuid.UUID]Request, len(m.requests)),
		items:     make(map[uuid.UUID][]Item, len(m.items)),
		cdStock:   make(map[string]int64, len(m.cdStock)),
		transits:  append([]TransitLine(nil), m.transits...),
		purchases: append([]PurchaseSpawn(nil), m.purchases...),
		nextReq:   m.nextReq,
		nextPur:   m.nextPur,
	}
	for k, v := range m.requests {
		c.requests[k] = v
	}
	for k, v := range m.items {
		c.items[k] = append([]Item(nil), v...)
	}
	for k, v := range m.cdStock {
		c.cdStock[k] = v
	}
	return c
}

// WithTx snapshots state up front and restores it when fn fails, so aborted
// sequences leave nothing behind, same as a rolled back transaction.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := m.clone()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		*m = *snap
		return err
	}
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	req, ok := m.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

func (m *memoryRepo) GetWithItems(ctx context.Context, id uuid.UUID) (WithItems, error) {
	req, err := m.Get(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	return WithItems{Request: req, Items: append([]Item(nil), m.items[id]...)}, nil
}

func (m *memoryRepo) ListItems(ctx context.Context, requestID uuid.UUID) ([]Item, error) {
	return append([]Item(nil), m.items[requestID]...), nil
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]Request, error) {
	var out []Request
	for _, req := range m.requests {
		if f.UnitID != nil && req.UnitID != *f.UnitID {
			continue
		}
		if f.CDID != nil && req.CDID != *f.CDID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (q *memoryTx) NextNumber(ctx context.Context) (string, error) {
	q.repo.nextReq++
	return fmt.Sprintf("REQ-%06d", q.repo.nextReq), nil
}

func (q *memoryTx) InsertRequest(ctx context.Context, r *Request) error {
	r.ID = uuid.New()
	r.Status = StatusRequested
	q.repo.requests[r.ID] = *r
	return nil
}

func (q *memoryTx) InsertItems(ctx context.Context, items []Item) error {
	for i := range items {
		items[i].ID = uuid.New()
		q.repo.items[items[i].RequestID] = append(q.repo.items[items[i].RequestID], items[i])
	}
	return nil
}

func (q *memoryTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	return q.repo.Get(ctx, id)
}

func (q *memoryTx) GetItems(ctx context.Context, requestID uuid.UUID) ([]Item, error) {
	return q.repo.ListItems(ctx, requestID)
}

func (q *memoryTx) AdvanceStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	req, ok := q.repo.requests[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	for _, f := range from {
		if req.Status == f {
			req.Status = to
			q.repo.requests[id] = req
			return true, nil
		}
	}
	return false, nil
}

func (q *memoryTx) SetReviewer(ctx context.Context, id, reviewer uuid.UUID) error {
	req, ok := q.repo.requests[id]
	if !ok {
		return ErrRequestNotFound
	}
	req.ReviewedBy = &reviewer
	q.repo.requests[id] = req
	return nil
}

func (q *memoryTx) SetRejected(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	req, ok := q.repo.requests[id]
	if !ok {
		return false, ErrRequestNotFound
	}
	if req.Status != StatusReviewing {
		return false, nil
	}
	req.Status = StatusRejected
	req.RejectionReason = &reason
	q.repo.requests[id] = req
	return true, nil
}

func (q *memoryTx) UpdateItemReview(ctx context.Context, itemRowID uuid.UUID, approved, available int64, needsPurchase bool) error {
	return q.patchItem(itemRowID, func(it *Item) {
		a, av := approved, available
		it.QuantityApproved = &a
		it.CDStockAvailable = &av
		it.NeedsPurchase = needsPurchase
	})
}

func (q *memoryTx) SetItemSent(ctx context.Context, itemRowID uuid.UUID, sent int64) error {
	return q.patchItem(itemRowID, func(it *Item) {
		it.QuantitySent = sent
	})
}

func (q *memoryTx) SetItemError(ctx context.Context, itemRowID uuid.UUID, description string) error {
	return q.patchItem(itemRowID, func(it *Item) {
		d := description
		it.HasError = true
		it.ErrorDescription = &d
	})
}

func (q *memoryTx) patchItem(itemRowID uuid.UUID, patch func(*Item)) error {
	for reqID, rows := range q.repo.items {
		for i := range rows {
			if rows[i].ID == itemRowID {
				patch(&rows[i])
				q.repo.items[reqID] = rows
				return nil
			}
		}
	}
	return ErrItemNotFound
}

func (q *memoryTx) DecrementCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (int64, error) {
	key := stockKey(itemID, cdID)
	cur, ok := q.repo.cdStock[key]
	if !ok {
		return 0, stock.ErrRecordNotFound
	}
	if cur < qty {
		return 0, &stock.InsufficientStockError{
			Key:       stock.Key{ItemID: itemID, LocationID: cdID},
			Available: cur,
			Requested: qty,
		}
	}
	q.repo.cdStock[key] = cur - qty
	return cur - qty, nil
}

func (q *memoryTx) InsertTransit(ctx context.Context, line TransitLine) (uuid.UUID, error) {
	q.repo.transits = append(q.repo.transits, line)
	return uuid.New(), nil
}

func (q *memoryTx) InsertPurchase(ctx context.Context, spawn PurchaseSpawn) (uuid.UUID, string, error) {
	q.repo.nextPur++
	q.repo.purchases = append(q.repo.purchases, spawn)
	return uuid.New(), fmt.Sprintf("PUR-%06d", q.repo.nextPur), nil
}

type catalogStub struct {
	units map[uuid.UUID]catalog.OrgUnit
	items map[uuid.UUID]catalog.Item
}

func (c *catalogStub) GetUnit(ctx context.Context, id uuid.UUID) (catalog.OrgUnit, error) {
	u, ok := c.units[id]
	if !ok {
		return catalog.OrgUnit{}, fmt.Errorf("%w: org unit", shared.ErrNotFound)
	}
	return u, nil
}

func (c *catalogStub) GetItem(ctx context.Context, id uuid.UUID) (catalog.Item, error) {
	it, ok := c.items[id]
	if !ok {
		return catalog.Item{}, fmt.Errorf("%w: item", shared.ErrNotFound)
	}
	return it, nil
}

type stockStub struct {
	available   map[uuid.UUID]int64
	unitRecords map[string]stock.Record
}

func (s *stockStub) AvailabilitySnapshot(ctx context.Context, cdID uuid.UUID, itemIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(itemIDs))
	for _, id := range itemIDs {
		if qty, ok := s.available[id]; ok {
			out[id] = qty
		}
	}
	return out, nil
}

func (s *stockStub) Peek(ctx context.Context, p stock.Partition, key stock.Key) (stock.Record, error) {
	rec, ok := s.unitRecords[key.String()]
	if !ok {
		return stock.Record{}, stock.ErrRecordNotFound
	}
	return rec, nil
}

type auditRecorder struct {
	entries []shared.AuditLog
}

func (a *auditRecorder) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type metricsStub struct {
	transitions []string
	dispatched  int
}

func (m *metricsStub) RequestTransition(to string) { m.transitions = append(m.transitions, to) }
func (m *metricsStub) TransitDispatched()          { m.dispatched++ }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo    *memoryRepo
	stock   *stockStub
	audit   *auditRecorder
	metrics *metricsStub
	svc     *Service
	cd      uuid.UUID
	unit    uuid.UUID
	itemA   uuid.UUID
	itemB   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMemoryRepo(),
		stock:   &stockStub{available: map[uuid.UUID]int64{}, unitRecords: map[string]stock.Record{}},
		audit:   &auditRecorder{},
		metrics: &metricsStub{},
		cd:      uuid.New(),
		unit:    uuid.New(),
		itemA:   uuid.New(),
		itemB:   uuid.New(),
	}
	cat := &catalogStub{
		units: map[uuid.UUID]catalog.OrgUnit{
			f.cd:   {ID: f.cd, Code: "CD-01", IsCD: true, Active: true},
			f.unit: {ID: f.unit, Code: "UN-01", Active: true, CDID: &f.cd},
		},
		items: map[uuid.UUID]catalog.Item{
			f.itemA: {ID: f.itemA, Code: "LUVA-M", Active: true},
			f.itemB: {ID: f.itemB, Code: "RESINA-A2", Active: true},
		},
	}
	f.svc = NewService(f.repo, cat, f.stock, nil, f.audit, f.metrics, discardLogger())
	return f
}

func (f *fixture) create(t *testing.T, lines ...CreateItemInput) WithItems {
	t.Helper()
	full, err := f.svc.Create(context.Background(), unitActor(f.unit), CreateInput{UnitID: f.unit, Items: lines})
	require.NoError(t, err)
	return full
}

func (f *fixture) force(id uuid.UUID, st Status) {
	req := f.repo.requests[id]
	req.Status = st
	f.repo.requests[id] = req
}

func (f *fixture) approveLine(id, itemID uuid.UUID, qty int64) {
	rows := f.repo.items[id]
	for i := range rows {
		if rows[i].ItemID == itemID {
			q := qty
			rows[i].QuantityApproved = &q
		}
	}
	f.repo.items[id] = rows
}

func adminActor() shared.Actor {
	return shared.Actor{UserID: uuid.New(), Name: "Alice Admin", Role: shared.RoleAdmin}
}

func unitActor(unitID uuid.UUID) shared.Actor {
	return shared.Actor{UserID: uuid.New(), Name: "Uli Unit", Role: shared.RoleUnitOperator, UnitID: &unitID}
}

func cdActor(cdID uuid.UUID) shared.Actor {
	return shared.Actor{UserID: uuid.New(), Name: "Carla CD", Role: shared.RoleCDOperator, UnitID: &cdID}
}

func TestCreateAssignsNumberAndLines(t *testing.T) {
	fx := newFixture(t)

	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 10},
		CreateItemInput{ItemID: fx.itemB, Quantity: 5},
	)

	require.Equal(t, "REQ-000001", full.Number)
	require.Equal(t, StatusRequested, full.Status)
	require.Equal(t, fx.cd, full.CDID, "CD resolved from the unit's supplying CD")
	require.Len(t, full.Items, 2)
	require.Equal(t, int64(10), full.Items[0].QuantityRequested)
	require.Nil(t, full.Items[0].QuantityApproved)
	require.Contains(t, fx.audit.actions(), "request.create")

	second := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 1})
	require.Equal(t, "REQ-000002", second.Number)
}

func TestCreateValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	actor := unitActor(fx.unit)

	_, err := fx.svc.Create(ctx, actor, CreateInput{UnitID: fx.unit})
	require.ErrorIs(t, err, shared.ErrValidation, "empty item list")

	_, err = fx.svc.Create(ctx, actor, CreateInput{UnitID: fx.unit, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 0},
	}})
	require.ErrorIs(t, err, shared.ErrValidation, "zero quantity")

	_, err = fx.svc.Create(ctx, actor, CreateInput{UnitID: fx.unit, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 2},
		{ItemID: fx.itemA, Quantity: 3},
	}})
	require.ErrorIs(t, err, shared.ErrValidation, "duplicate item")

	otherCD := uuid.New()
	_, err = fx.svc.Create(ctx, actor, CreateInput{UnitID: fx.unit, CDID: otherCD, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 2},
	}})
	require.ErrorIs(t, err, shared.ErrValidation, "unit is bound to its own CD")

	_, err = fx.svc.Create(ctx, adminActor(), CreateInput{UnitID: fx.cd, CDID: fx.cd, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 2},
	}})
	require.ErrorIs(t, err, shared.ErrValidation, "a CD cannot open a request")
}

func TestCreateHonorsUnitMax(t *testing.T) {
	fx := newFixture(t)
	maxQty := int64(10)
	key := stock.Key{ItemID: fx.itemA, LocationID: fx.unit}
	fx.stock.unitRecords[key.String()] = stock.Record{ItemID: key.ItemID, LocationID: key.LocationID, MaxQuantity: &maxQty}

	_, err := fx.svc.Create(context.Background(), unitActor(fx.unit), CreateInput{UnitID: fx.unit, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 15},
	}})
	require.ErrorIs(t, err, shared.ErrValidation)

	fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 10})
}

func TestCreateScopedToActorUnit(t *testing.T) {
	fx := newFixture(t)
	stranger := unitActor(uuid.New())

	_, err := fx.svc.Create(context.Background(), stranger, CreateInput{UnitID: fx.unit, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 1},
	}})
	require.ErrorIs(t, err, shared.ErrPermission)
}

func TestStartReviewAssignsReviewer(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	reviewer := cdActor(fx.cd)

	req, err := fx.svc.StartReview(context.Background(), reviewer, full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReviewing, req.Status)
	require.NotNil(t, req.ReviewedBy)
	require.Equal(t, reviewer.UserID, *req.ReviewedBy)

	_, err = fx.svc.StartReview(context.Background(), reviewer, full.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition, "reviewing twice")
}

func TestReviewDefaultsToAvailability(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 10},
		CreateItemInput{ItemID: fx.itemB, Quantity: 5},
	)
	fx.force(full.ID, StatusReviewing)
	fx.stock.available[fx.itemA] = 4
	fx.stock.available[fx.itemB] = 9

	result, err := fx.svc.SubmitReview(context.Background(), cdActor(fx.cd), full.ID, ReviewInput{})
	require.NoError(t, err)

	require.Equal(t, StatusApprovedPendingPurchase, result.Request.Status)
	lineA, lineB := result.Request.Items[0], result.Request.Items[1]
	require.Equal(t, int64(4), *lineA.QuantityApproved, "capped at availability")
	require.True(t, lineA.NeedsPurchase)
	require.Equal(t, int64(4), *lineA.CDStockAvailable)
	require.Equal(t, int64(5), *lineB.QuantityApproved, "requested fits")
	require.False(t, lineB.NeedsPurchase)

	require.NotNil(t, result.SpawnedPurchase)
	require.Equal(t, "PUR-000001", result.SpawnedPurchase.Number)
	require.Len(t, fx.repo.purchases, 1)
	spawn := fx.repo.purchases[0]
	require.Equal(t, full.ID, spawn.RequestID)
	require.Len(t, spawn.Lines, 1)
	require.Equal(t, fx.itemA, spawn.Lines[0].ItemID)
	require.Equal(t, int64(6), spawn.Lines[0].Quantity, "shortfall only, not the full request")
	require.Contains(t, fx.audit.actions(), "purchase.create")
}

func TestReviewExplicitApprovalsBounded(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 10})
	fx.force(full.ID, StatusReviewing)
	fx.stock.available[fx.itemA] = 6

	_, err := fx.svc.SubmitReview(context.Background(), cdActor(fx.cd), full.ID, ReviewInput{
		Approvals: []ItemApproval{{ItemID: fx.itemA, QuantityApproved: 8}},
	})
	require.ErrorIs(t, err, shared.ErrValidation, "approval above min(requested, available)")

	result, err := fx.svc.SubmitReview(context.Background(), cdActor(fx.cd), full.ID, ReviewInput{
		Approvals: []ItemApproval{{ItemID: fx.itemA, QuantityApproved: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), *result.Request.Items[0].QuantityApproved)
	require.True(t, result.Request.Items[0].NeedsPurchase, "requested still exceeds availability")
}

func TestReviewFullAvailabilitySkipsPurchase(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 3},
		CreateItemInput{ItemID: fx.itemB, Quantity: 2},
	)
	fx.force(full.ID, StatusReviewing)
	fx.stock.available[fx.itemA] = 50
	fx.stock.available[fx.itemB] = 50

	result, err := fx.svc.SubmitReview(context.Background(), cdActor(fx.cd), full.ID, ReviewInput{})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, result.Request.Status)
	require.Nil(t, result.SpawnedPurchase)
	require.Empty(t, fx.repo.purchases)
}

func TestRejectRequiresReasonAndLeavesLedger(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(full.ID, StatusReviewing)
	fx.repo.cdStock[stockKey(fx.itemA, fx.cd)] = 20

	_, err := fx.svc.Reject(context.Background(), cdActor(fx.cd), full.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	req, err := fx.svc.Reject(context.Background(), cdActor(fx.cd), full.ID, "duplicated request")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, req.Status)
	require.Equal(t, "duplicated request", *req.RejectionReason)
	require.Equal(t, int64(20), fx.repo.cdStock[stockKey(fx.itemA, fx.cd)], "rejection touches no ledger")
	require.Empty(t, fx.repo.transits)

	_, err = fx.svc.Reject(context.Background(), cdActor(fx.cd), full.ID, "again")
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition, "rejected is terminal")
}

func TestCancelOnlyBeforeFulfillment(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})

	req, err := fx.svc.Cancel(context.Background(), unitActor(fx.unit), full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, req.Status)

	second := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(second.ID, StatusPreparing)
	_, err = fx.svc.Cancel(context.Background(), unitActor(fx.unit), second.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition, "fulfillment already started")

	_, err = fx.svc.Cancel(context.Background(), cdActor(fx.cd), second.ID)
	require.ErrorIs(t, err, shared.ErrPermission, "CD side cannot cancel")
}

func TestAcknowledgeThenPrepare(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(full.ID, StatusApproved)

	req, err := fx.svc.Acknowledge(context.Background(), unitActor(fx.unit), full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApprovedByUnit, req.Status)

	req, err = fx.svc.StartPreparing(context.Background(), cdActor(fx.cd), full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPreparing, req.Status)
}

func TestPrepareSkipsAcknowledgement(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(full.ID, StatusApproved)

	req, err := fx.svc.StartPreparing(context.Background(), cdActor(fx.cd), full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPreparing, req.Status, "unit acknowledgement is optional")
}

func TestDispatchSendsApprovedLines(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 4},
		CreateItemInput{ItemID: fx.itemB, Quantity: 5},
	)
	fx.force(full.ID, StatusPreparing)
	fx.approveLine(full.ID, fx.itemA, 4)
	fx.approveLine(full.ID, fx.itemB, 5)
	fx.repo.cdStock[stockKey(fx.itemA, fx.cd)] = 10
	fx.repo.cdStock[stockKey(fx.itemB, fx.cd)] = 10

	sender := cdActor(fx.cd)
	out, err := fx.svc.Dispatch(context.Background(), sender, full.ID)
	require.NoError(t, err)

	require.Equal(t, StatusSent, out.Status)
	require.Equal(t, int64(6), fx.repo.cdStock[stockKey(fx.itemA, fx.cd)])
	require.Equal(t, int64(5), fx.repo.cdStock[stockKey(fx.itemB, fx.cd)])
	require.Len(t, fx.repo.transits, 2)
	for _, tr := range fx.repo.transits {
		require.Equal(t, full.ID, tr.RequestID)
		require.Equal(t, fx.cd, tr.FromCD)
		require.Equal(t, fx.unit, tr.ToUnit)
		require.Equal(t, sender.UserID, tr.SentBy)
	}
	require.Equal(t, int64(4), out.Items[0].QuantitySent)
	require.Equal(t, int64(5), out.Items[1].QuantitySent)
	require.Equal(t, 2, fx.metrics.dispatched)
}

func TestDispatchInsufficientAbortsWhole(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 4},
		CreateItemInput{ItemID: fx.itemB, Quantity: 5},
	)
	fx.force(full.ID, StatusPreparing)
	fx.approveLine(full.ID, fx.itemA, 4)
	fx.approveLine(full.ID, fx.itemB, 5)
	fx.repo.cdStock[stockKey(fx.itemA, fx.cd)] = 10
	fx.repo.cdStock[stockKey(fx.itemB, fx.cd)] = 3

	_, err := fx.svc.Dispatch(context.Background(), cdActor(fx.cd), full.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var insufficient *stock.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(3), insufficient.Available)
	require.Equal(t, int64(5), insufficient.Requested)

	require.Equal(t, int64(10), fx.repo.cdStock[stockKey(fx.itemA, fx.cd)], "first line rolled back too")
	require.Equal(t, int64(3), fx.repo.cdStock[stockKey(fx.itemB, fx.cd)])
	require.Empty(t, fx.repo.transits)
	cur, _ := fx.repo.Get(context.Background(), full.ID)
	require.Equal(t, StatusPreparing, cur.Status)
	items, _ := fx.repo.ListItems(context.Background(), full.ID)
	require.Equal(t, int64(0), items[0].QuantitySent)
}

func TestDispatchRequiresApprovedQuantities(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(full.ID, StatusPreparing)
	fx.approveLine(full.ID, fx.itemA, 0)

	_, err := fx.svc.Dispatch(context.Background(), cdActor(fx.cd), full.ID)
	require.ErrorIs(t, err, shared.ErrValidation)

	cur, _ := fx.repo.Get(context.Background(), full.ID)
	require.Equal(t, StatusPreparing, cur.Status)
}

func TestFlagItemError(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(full.ID, StatusPreparing)

	err := fx.svc.FlagItemError(context.Background(), cdActor(fx.cd), full.ID, full.Items[0].ID, "box damaged")
	require.NoError(t, err)
	items, _ := fx.repo.ListItems(context.Background(), full.ID)
	require.True(t, items[0].HasError)
	require.Equal(t, "box damaged", *items[0].ErrorDescription)

	err = fx.svc.FlagItemError(context.Background(), cdActor(fx.cd), full.ID, uuid.New(), "nope")
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestMarkOrderError(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	fx.force(full.ID, StatusApprovedPendingPurchase)

	req, err := fx.svc.MarkOrderError(context.Background(), cdActor(fx.cd), full.ID, "supplier folded")
	require.NoError(t, err)
	require.Equal(t, StatusOrderError, req.Status)

	_, err = fx.svc.MarkOrderError(context.Background(), cdActor(fx.cd), full.ID, "again")
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition)
}

func TestTransitionTableShape(t *testing.T) {
	expected := map[Status][]Status{
		StatusRequested:               {StatusReviewing, StatusCancelled},
		StatusReviewing:               {StatusApproved, StatusApprovedPendingPurchase, StatusRejected, StatusCancelled},
		StatusApproved:                {StatusApprovedByUnit, StatusPreparing},
		StatusApprovedPendingPurchase: {StatusApproved, StatusOrderError},
		StatusApprovedByUnit:          {StatusPreparing},
		StatusPreparing:               {StatusSent, StatusOrderError},
		StatusSent:                    {StatusReceived},
		StatusReceived:                {},
		StatusRejected:                {},
		StatusCancelled:               {},
		StatusOrderError:              {},
	}
	for from, tos := range expected {
		require.True(t, from.IsValid(), from)
		require.Equal(t, len(tos) == 0, from.IsTerminal(), from)
		for _, to := range tos {
			require.True(t, CanTransition(from, to), "%s -> %s", from, to)
		}
		for other := range expected {
			allowed := false
			for _, to := range tos {
				if to == other {
					allowed = true
				}
			}
			if !allowed {
				require.False(t, CanTransition(from, other), "%s -> %s", from, other)
			}
		}
	}
	require.False(t, Status("shipped").IsValid())
}

func TestGetVisibleToBothEnds(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 4})
	ctx := context.Background()

	_, err := fx.svc.Get(ctx, unitActor(fx.unit), full.ID)
	require.NoError(t, err)
	_, err = fx.svc.Get(ctx, cdActor(fx.cd), full.ID)
	require.NoError(t, err)
	_, err = fx.svc.Get(ctx, unitActor(uuid.New()), full.ID)
	require.ErrorIs(t, err, shared.ErrPermission)
}

func TestListScopesByRole(t *testing.T) {
	fx := newFixture(t)
	fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 1})
	foreignID := uuid.New()
	fx.repo.requests[foreignID] = Request{ID: foreignID, UnitID: uuid.New(), CDID: uuid.New(), Status: StatusRequested}

	mine, err := fx.svc.List(context.Background(), unitActor(fx.unit), ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, fx.unit, mine[0].UnitID)

	cdSide, err := fx.svc.List(context.Background(), cdActor(fx.cd), ListFilter{})
	require.NoError(t, err)
	require.Len(t, cdSide, 1)
	require.Equal(t, fx.cd, cdSide[0].CDID)

	all, err := fx.svc.List(context.Background(), adminActor(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
