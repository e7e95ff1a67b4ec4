package purchase

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/catalog"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

type priceAttribution struct {
	price      decimal.Decimal
	purchaseID uuid.UUID
}

type requestLine struct {
	requested int64
	approved  int64
}

type memoryRepo struct {
	purchases      map[uuid.UUID]Purchase
	items          map[uuid.UUID][]Item
	quotations     map[uuid.UUID]Quotation
	quotationItems map[uuid.UUID][]QuotationItem
	cdStock        map[string]int64
	cdPrices       map[string]priceAttribution
	movements      []movement.Movement
	requests       map[uuid.UUID]string
	requestLines   map[string]requestLine
	nextNum        int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		purchases:      map[uuid.UUID]Purchase{},
		items:          map[uuid.UUID][]Item{},
		quotations:     map[uuid.UUID]Quotation{},
		quotationItems: map[uuid.UUID][]QuotationItem{},
		cdStock:        map[string]int64{},
		cdPrices:       map[string]priceAttribution{},
		requests:       map[uuid.UUID]string{},
		requestLines:   map[string]requestLine{},
	}
}

func stockKey(itemID, cdID uuid.UUID) string {
	return itemID.String() + "|" + cdID.String()
}

func lineKey(requestID, itemID uuid.UUID) string {
	return requestID.String() + "|" + itemID.String()
}

func (m *memoryRepo) clone() *memoryRepo {
	c := newMemoryRepo()
	for k, v := range m.purchases {
		c.purchases[k] = v
	}
	for k, v := range m.items {
		c.items[k] = append([]Item(nil), v...)
	}
	for k, v := range m.quotations {
		c.quotations[k] = v
	}
	for k, v := range m.quotationItems {
		c.quotationItems[k] = append([]QuotationItem(nil), v...)
	}
	for k, v := range m.cdStock {
		c.cdStock[k] = v
	}
	for k, v := range m.cdPrices {
		c.cdPrices[k] = v
	}
	for k, v := range m.requests {
		c.requests[k] = v
	}
	for k, v := range m.requestLines {
		c.requestLines[k] = v
	}
	c.movements = append([]movement.Movement(nil), m.movements...)
	c.nextNum = m.nextNum
	return c
}

// WithTx snapshots state up front and restores it when fn fails, matching a
// rolled back transaction.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snap := m.clone()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		*m = *snap
		return err
	}
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Purchase, error) {
	p, ok := m.purchases[id]
	if !ok {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, nil
}

func (m *memoryRepo) GetWithItems(ctx context.Context, id uuid.UUID) (WithItems, error) {
	p, err := m.Get(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	return WithItems{Purchase: p, Items: append([]Item(nil), m.items[id]...)}, nil
}

func (m *memoryRepo) ListItems(ctx context.Context, purchaseID uuid.UUID) ([]Item, error) {
	return append([]Item(nil), m.items[purchaseID]...), nil
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]Purchase, error) {
	var out []Purchase
	for _, p := range m.purchases {
		if f.CDID != nil && p.CDID != *f.CDID {
			continue
		}
		if f.RequestID != nil && (p.RequestID == nil || *p.RequestID != *f.RequestID) {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryRepo) ListQuotations(ctx context.Context, purchaseID uuid.UUID) ([]QuotationWithItems, error) {
	var out []QuotationWithItems
	for _, quotation := range m.quotations {
		if quotation.PurchaseID != purchaseID {
			continue
		}
		out = append(out, QuotationWithItems{
			Quotation: quotation,
			Items:     append([]QuotationItem(nil), m.quotationItems[quotation.ID]...),
		})
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (q *memoryTx) NextNumber(ctx context.Context) (string, error) {
	q.repo.nextNum++
	return fmt.Sprintf("PUR-%06d", q.repo.nextNum), nil
}

func (q *memoryTx) InsertPurchase(ctx context.Context, p *Purchase) error {
	p.ID = uuid.New()
	p.Status = StatusOrderPlaced
	p.TotalValue = decimal.Zero
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	q.repo.purchases[p.ID] = *p
	return nil
}

func (q *memoryTx) InsertItems(ctx context.Context, items []Item) error {
	for i := range items {
		items[i].ID = uuid.New()
		q.repo.items[items[i].PurchaseID] = append(q.repo.items[items[i].PurchaseID], items[i])
	}
	return nil
}

func (q *memoryTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Purchase, error) {
	return q.repo.Get(ctx, id)
}

func (q *memoryTx) GetItems(ctx context.Context, purchaseID uuid.UUID) ([]Item, error) {
	return q.repo.ListItems(ctx, purchaseID)
}

func (q *memoryTx) AdvanceStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	p, ok := q.repo.purchases[id]
	if !ok {
		return false, ErrPurchaseNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			q.repo.purchases[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (q *memoryTx) SetOrderError(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	p, ok := q.repo.purchases[id]
	if !ok {
		return false, ErrPurchaseNotFound
	}
	if p.Status == StatusFinalized || p.Status == StatusOrderError {
		return false, nil
	}
	p.Status = StatusOrderError
	p.ErrorReason = &reason
	q.repo.purchases[id] = p
	return true, nil
}

func (q *memoryTx) InsertQuotation(ctx context.Context, quotation *Quotation, items []QuotationItem) error {
	quotation.ID = uuid.New()
	quotation.CreatedAt = time.Now()
	q.repo.quotations[quotation.ID] = *quotation
	for i := range items {
		items[i].ID = uuid.New()
		items[i].QuotationID = quotation.ID
	}
	q.repo.quotationItems[quotation.ID] = append([]QuotationItem(nil), items...)
	return nil
}

func (q *memoryTx) GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	quotation, ok := q.repo.quotations[id]
	if !ok {
		return Quotation{}, ErrQuotationNotFound
	}
	return quotation, nil
}

func (q *memoryTx) GetQuotationItems(ctx context.Context, quotationID uuid.UUID) ([]QuotationItem, error) {
	return append([]QuotationItem(nil), q.repo.quotationItems[quotationID]...), nil
}

func (q *memoryTx) MarkQuotationChosen(ctx context.Context, purchaseID, quotationID uuid.UUID) error {
	target, ok := q.repo.quotations[quotationID]
	if !ok || target.PurchaseID != purchaseID {
		return ErrQuotationNotFound
	}
	for id, quotation := range q.repo.quotations {
		if quotation.PurchaseID == purchaseID {
			quotation.Chosen = id == quotationID
			q.repo.quotations[id] = quotation
		}
	}
	return nil
}

func (q *memoryTx) SetSupplier(ctx context.Context, purchaseID, supplierID uuid.UUID) error {
	p := q.repo.purchases[purchaseID]
	p.SupplierID = &supplierID
	q.repo.purchases[purchaseID] = p
	return nil
}

func (q *memoryTx) SetItemPrice(ctx context.Context, itemRowID uuid.UUID, price decimal.Decimal) error {
	for pid, rows := range q.repo.items {
		for i := range rows {
			if rows[i].ID == itemRowID {
				total := price.Mul(decimal.NewFromInt(rows[i].Quantity))
				rows[i].UnitPrice = &price
				rows[i].TotalPrice = &total
				q.repo.items[pid] = rows
				return nil
			}
		}
	}
	return ErrPurchaseNotFound
}

func (q *memoryTx) SetTotalValue(ctx context.Context, purchaseID uuid.UUID, total decimal.Decimal) error {
	p := q.repo.purchases[purchaseID]
	p.TotalValue = total
	q.repo.purchases[purchaseID] = p
	return nil
}

func (q *memoryTx) SetFinalized(ctx context.Context, id uuid.UUID) (bool, error) {
	p, ok := q.repo.purchases[id]
	if !ok {
		return false, ErrPurchaseNotFound
	}
	if p.Status != StatusSent {
		return false, nil
	}
	now := time.Now()
	p.Status = StatusFinalized
	p.FinalizedAt = &now
	q.repo.purchases[id] = p
	return true, nil
}

func (q *memoryTx) UpsertAddCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (int64, error) {
	key := stockKey(itemID, cdID)
	q.repo.cdStock[key] += qty
	return q.repo.cdStock[key], nil
}

func (q *memoryTx) SetCDPrice(ctx context.Context, cdID, itemID uuid.UUID, price decimal.Decimal, purchaseID uuid.UUID) error {
	q.repo.cdPrices[stockKey(itemID, cdID)] = priceAttribution{price: price, purchaseID: purchaseID}
	return nil
}

func (q *memoryTx) InsertMovement(ctx context.Context, m *movement.Movement) error {
	q.repo.movements = append(q.repo.movements, *m)
	return nil
}

func (q *memoryTx) RaiseRequestItemApproved(ctx context.Context, requestID, itemID uuid.UUID, qty int64) error {
	key := lineKey(requestID, itemID)
	line := q.repo.requestLines[key]
	line.approved += qty
	if line.approved > line.requested {
		line.approved = line.requested
	}
	q.repo.requestLines[key] = line
	return nil
}

func (q *memoryTx) CountOpenSiblings(ctx context.Context, requestID, excludeID uuid.UUID) (int64, error) {
	var n int64
	for id, p := range q.repo.purchases {
		if id == excludeID || p.RequestID == nil || *p.RequestID != requestID {
			continue
		}
		if p.Status != StatusFinalized && p.Status != StatusOrderError {
			n++
		}
	}
	return n, nil
}

func (q *memoryTx) AdvanceRequestStatus(ctx context.Context, requestID uuid.UUID, from, to string) (bool, error) {
	if q.repo.requests[requestID] != from {
		return false, nil
	}
	q.repo.requests[requestID] = to
	return true, nil
}

type catalogStub struct {
	units     map[uuid.UUID]catalog.OrgUnit
	items     map[uuid.UUID]catalog.Item
	suppliers map[uuid.UUID]catalog.Supplier
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

func (c *catalogStub) GetSupplier(ctx context.Context, id uuid.UUID) (catalog.Supplier, error) {
	s, ok := c.suppliers[id]
	if !ok {
		return catalog.Supplier{}, fmt.Errorf("%w: supplier", shared.ErrNotFound)
	}
	return s, nil
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
	movements   []string
}

func (m *metricsStub) PurchaseTransition(to string) { m.transitions = append(m.transitions, to) }
func (m *metricsStub) MovementRecorded(kind string) { m.movements = append(m.movements, kind) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	repo     *memoryRepo
	audit    *auditRecorder
	metrics  *metricsStub
	svc      *Service
	cd       uuid.UUID
	supplier uuid.UUID
	itemA    uuid.UUID
	itemB    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryRepo(),
		audit:    &auditRecorder{},
		metrics:  &metricsStub{},
		cd:       uuid.New(),
		supplier: uuid.New(),
		itemA:    uuid.New(),
		itemB:    uuid.New(),
	}
	cat := &catalogStub{
		units: map[uuid.UUID]catalog.OrgUnit{
			f.cd: {ID: f.cd, Code: "CD-01", IsCD: true, Active: true},
		},
		items: map[uuid.UUID]catalog.Item{
			f.itemA: {ID: f.itemA, Code: "LUVA-M", Name: "Luva de procedimento M", Active: true},
			f.itemB: {ID: f.itemB, Code: "RESINA-A2", Name: "Resina composta A2", Active: true},
		},
		suppliers: map[uuid.UUID]catalog.Supplier{
			f.supplier: {ID: f.supplier, Name: "Dental Supply Ltda", Active: true},
		},
	}
	f.svc = NewService(f.repo, cat, nil, f.audit, f.metrics, discardLogger())
	return f
}

func (f *fixture) create(t *testing.T, lines ...CreateItemInput) WithItems {
	t.Helper()
	full, err := f.svc.Create(context.Background(), cdActor(f.cd), CreateInput{CDID: f.cd, Items: lines})
	require.NoError(t, err)
	return full
}

func (f *fixture) force(id uuid.UUID, st Status) {
	p := f.repo.purchases[id]
	p.Status = st
	f.repo.purchases[id] = p
}

func cdActor(cdID uuid.UUID) shared.Actor {
	return shared.Actor{UserID: uuid.New(), Name: "Carla CD", Role: shared.RoleCDOperator, UnitID: &cdID}
}

func adminActor() shared.Actor {
	return shared.Actor{UserID: uuid.New(), Name: "Alice Admin", Role: shared.RoleAdmin}
}

func financeActor() shared.Actor {
	return shared.Actor{UserID: uuid.New(), Name: "Fabio Finance", Role: shared.RoleFinanceOperator}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}

func TestCreateAssignsNumber(t *testing.T) {
	fx := newFixture(t)

	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 6},
		CreateItemInput{ItemID: fx.itemB, Quantity: 2},
	)

	require.Equal(t, "PUR-000001", full.Number)
	require.Equal(t, StatusOrderPlaced, full.Status)
	requireDecimal(t, "0", full.TotalValue)
	require.Len(t, full.Items, 2)
	require.Nil(t, full.Items[0].UnitPrice)
	require.Contains(t, fx.audit.actions(), "purchase.create")
}

func TestCreateValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.svc.Create(ctx, cdActor(fx.cd), CreateInput{CDID: fx.cd})
	require.ErrorIs(t, err, shared.ErrValidation, "empty item list")

	_, err = fx.svc.Create(ctx, cdActor(fx.cd), CreateInput{CDID: fx.cd, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 0},
	}})
	require.ErrorIs(t, err, shared.ErrValidation, "zero quantity")

	_, err = fx.svc.Create(ctx, cdActor(uuid.New()), CreateInput{CDID: fx.cd, Items: []CreateItemInput{
		{ItemID: fx.itemA, Quantity: 1},
	}})
	require.ErrorIs(t, err, shared.ErrPermission, "operator of another CD")
}

func TestLifecycleFlips(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 3})
	ctx := context.Background()
	actor := cdActor(fx.cd)

	_, err := fx.svc.MarkArrived(ctx, actor, full.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition, "cannot skip ahead")

	p, err := fx.svc.StartQuoting(ctx, actor, full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQuoting, p.Status)

	p, err = fx.svc.MarkPurchased(ctx, financeActor(), full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPurchasedAwaiting, p.Status)

	p, err = fx.svc.MarkArrived(ctx, actor, full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusArrivedAtCD, p.Status)

	p, err = fx.svc.MarkSent(ctx, actor, full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, p.Status)
}

func TestMarkPurchasedIsFinanceDecision(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 3})
	fx.force(full.ID, StatusQuoting)
	ctx := context.Background()

	_, err := fx.svc.MarkPurchased(ctx, cdActor(fx.cd), full.ID)
	require.ErrorIs(t, err, shared.ErrPermission, "placing the order is a finance decision")

	p, err := fx.svc.MarkPurchased(ctx, financeActor(), full.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPurchasedAwaiting, p.Status)
}

func TestAddQuotationSnapshotsLines(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 10},
		CreateItemInput{ItemID: fx.itemB, Quantity: 4},
	)
	fx.force(full.ID, StatusQuoting)
	ctx := context.Background()

	_, err := fx.svc.AddQuotation(ctx, cdActor(fx.cd), full.ID, QuotationInput{
		SupplierID: fx.supplier,
		Prices:     []QuotationPrice{{ItemID: fx.itemA, UnitPrice: decimal.RequireFromString("2.50")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation, "every line must be priced")

	quotation, err := fx.svc.AddQuotation(ctx, cdActor(fx.cd), full.ID, QuotationInput{
		SupplierID: fx.supplier,
		Prices: []QuotationPrice{
			{ItemID: fx.itemA, UnitPrice: decimal.RequireFromString("2.50")},
			{ItemID: fx.itemB, UnitPrice: decimal.RequireFromString("30.00")},
		},
	})
	require.NoError(t, err)

	requireDecimal(t, "145.00", quotation.TotalValue)
	require.Len(t, quotation.Items, 2)
	require.Equal(t, "LUVA-M", quotation.Items[0].ItemCode)
	require.Equal(t, "Luva de procedimento M", quotation.Items[0].ItemName)
	require.Equal(t, int64(10), quotation.Items[0].Quantity)
	require.False(t, quotation.Chosen)

	got, _ := fx.repo.GetWithItems(context.Background(), full.ID)
	require.Nil(t, got.Items[0].UnitPrice, "quoting alone does not price the purchase")
}

func TestChooseQuotationCopiesPrices(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 10},
		CreateItemInput{ItemID: fx.itemB, Quantity: 4},
	)
	fx.force(full.ID, StatusQuoting)
	ctx := context.Background()

	cheap, err := fx.svc.AddQuotation(ctx, cdActor(fx.cd), full.ID, QuotationInput{
		SupplierID: fx.supplier,
		Prices: []QuotationPrice{
			{ItemID: fx.itemA, UnitPrice: decimal.RequireFromString("2.00")},
			{ItemID: fx.itemB, UnitPrice: decimal.RequireFromString("25.00")},
		},
	})
	require.NoError(t, err)
	expensive, err := fx.svc.AddQuotation(ctx, cdActor(fx.cd), full.ID, QuotationInput{
		SupplierID: fx.supplier,
		Prices: []QuotationPrice{
			{ItemID: fx.itemA, UnitPrice: decimal.RequireFromString("3.00")},
			{ItemID: fx.itemB, UnitPrice: decimal.RequireFromString("40.00")},
		},
	})
	require.NoError(t, err)

	chosen, err := fx.svc.ChooseQuotation(ctx, financeActor(), full.ID, cheap.ID)
	require.NoError(t, err)

	requireDecimal(t, "120.00", chosen.TotalValue)
	require.NotNil(t, chosen.SupplierID)
	require.Equal(t, fx.supplier, *chosen.SupplierID)
	requireDecimal(t, "2.00", *chosen.Items[0].UnitPrice)
	requireDecimal(t, "20.00", *chosen.Items[0].TotalPrice)
	requireDecimal(t, "25.00", *chosen.Items[1].UnitPrice)

	require.True(t, fx.repo.quotations[cheap.ID].Chosen)
	require.False(t, fx.repo.quotations[expensive.ID].Chosen)
}

func TestChooseQuotationNeedsDecideCapability(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 1})
	fx.force(full.ID, StatusQuoting)
	quotation, err := fx.svc.AddQuotation(context.Background(), cdActor(fx.cd), full.ID, QuotationInput{
		SupplierID: fx.supplier,
		Prices:     []QuotationPrice{{ItemID: fx.itemA, UnitPrice: decimal.RequireFromString("1.00")}},
	})
	require.NoError(t, err)

	_, err = fx.svc.ChooseQuotation(context.Background(), cdActor(fx.cd), full.ID, quotation.ID)
	require.ErrorIs(t, err, shared.ErrPermission, "picking the winner is a finance decision")
}

func TestFinalizeBooksStockAndMovements(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t,
		CreateItemInput{ItemID: fx.itemA, Quantity: 10},
		CreateItemInput{ItemID: fx.itemB, Quantity: 4},
	)
	fx.force(full.ID, StatusQuoting)
	quotation, err := fx.svc.AddQuotation(context.Background(), cdActor(fx.cd), full.ID, QuotationInput{
		SupplierID: fx.supplier,
		Prices: []QuotationPrice{
			{ItemID: fx.itemA, UnitPrice: decimal.RequireFromString("2.50")},
			{ItemID: fx.itemB, UnitPrice: decimal.RequireFromString("30.00")},
		},
	})
	require.NoError(t, err)
	_, err = fx.svc.ChooseQuotation(context.Background(), adminActor(), full.ID, quotation.ID)
	require.NoError(t, err)
	fx.force(full.ID, StatusSent)
	fx.repo.cdStock[stockKey(fx.itemA, fx.cd)] = 3

	out, err := fx.svc.Finalize(context.Background(), cdActor(fx.cd), full.ID)
	require.NoError(t, err)

	require.Equal(t, StatusFinalized, out.Status)
	require.NotNil(t, out.FinalizedAt)
	require.Equal(t, int64(13), fx.repo.cdStock[stockKey(fx.itemA, fx.cd)], "merged onto existing stock")
	require.Equal(t, int64(4), fx.repo.cdStock[stockKey(fx.itemB, fx.cd)], "record created on first arrival")

	require.Len(t, fx.repo.movements, 2)
	for _, mv := range fx.repo.movements {
		require.Equal(t, movement.TypePurchase, mv.Type)
		require.Nil(t, mv.FromLocation, "external origin has no ledger location")
		require.Equal(t, fx.cd, *mv.ToLocation)
		require.Equal(t, "purchase:"+full.Number, mv.Reference)
	}

	attribution := fx.repo.cdPrices[stockKey(fx.itemA, fx.cd)]
	requireDecimal(t, "2.50", attribution.price)
	require.Equal(t, full.ID, attribution.purchaseID)
	require.Equal(t, []string{"purchase", "purchase"}, fx.metrics.movements)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	full := fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 5})
	fx.force(full.ID, StatusSent)

	_, err := fx.svc.Finalize(context.Background(), cdActor(fx.cd), full.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), fx.repo.cdStock[stockKey(fx.itemA, fx.cd)])

	_, err = fx.svc.Finalize(context.Background(), cdActor(fx.cd), full.ID)
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition)
	require.Equal(t, int64(5), fx.repo.cdStock[stockKey(fx.itemA, fx.cd)], "no double credit")
	require.Len(t, fx.repo.movements, 1)
}

func TestFinalizeRaisesLinkedRequest(t *testing.T) {
	fx := newFixture(t)
	requestID := uuid.New()
	fx.repo.requests[requestID] = "approved_pending_purchase"
	fx.repo.requestLines[lineKey(requestID, fx.itemA)] = requestLine{requested: 10, approved: 4}

	full, err := fx.svc.Create(context.Background(), cdActor(fx.cd), CreateInput{
		CDID:      fx.cd,
		RequestID: &requestID,
		Items:     []CreateItemInput{{ItemID: fx.itemA, Quantity: 6}},
	})
	require.NoError(t, err)
	fx.force(full.ID, StatusSent)

	_, err = fx.svc.Finalize(context.Background(), cdActor(fx.cd), full.ID)
	require.NoError(t, err)

	line := fx.repo.requestLines[lineKey(requestID, fx.itemA)]
	require.Equal(t, int64(10), line.approved, "approved raised by the purchased amount")
	require.Equal(t, "approved", fx.repo.requests[requestID])
	require.Contains(t, fx.audit.actions(), "request.approve")
}

func TestFinalizeWaitsForSiblingPurchases(t *testing.T) {
	fx := newFixture(t)
	requestID := uuid.New()
	fx.repo.requests[requestID] = "approved_pending_purchase"

	first, err := fx.svc.Create(context.Background(), cdActor(fx.cd), CreateInput{
		CDID: fx.cd, RequestID: &requestID,
		Items: []CreateItemInput{{ItemID: fx.itemA, Quantity: 2}},
	})
	require.NoError(t, err)
	second, err := fx.svc.Create(context.Background(), cdActor(fx.cd), CreateInput{
		CDID: fx.cd, RequestID: &requestID,
		Items: []CreateItemInput{{ItemID: fx.itemB, Quantity: 3}},
	})
	require.NoError(t, err)
	fx.force(first.ID, StatusSent)
	fx.force(second.ID, StatusSent)

	_, err = fx.svc.Finalize(context.Background(), cdActor(fx.cd), first.ID)
	require.NoError(t, err)
	require.Equal(t, "approved_pending_purchase", fx.repo.requests[requestID], "second purchase still open")

	_, err = fx.svc.Finalize(context.Background(), cdActor(fx.cd), second.ID)
	require.NoError(t, err)
	require.Equal(t, "approved", fx.repo.requests[requestID])
}

func TestMarkErrorCascadesToRequest(t *testing.T) {
	fx := newFixture(t)
	requestID := uuid.New()
	fx.repo.requests[requestID] = "approved_pending_purchase"
	full, err := fx.svc.Create(context.Background(), cdActor(fx.cd), CreateInput{
		CDID: fx.cd, RequestID: &requestID,
		Items: []CreateItemInput{{ItemID: fx.itemA, Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = fx.svc.MarkError(context.Background(), cdActor(fx.cd), full.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation, "reason is mandatory")

	p, err := fx.svc.MarkError(context.Background(), cdActor(fx.cd), full.ID, "supplier out of business")
	require.NoError(t, err)
	require.Equal(t, StatusOrderError, p.Status)
	require.Equal(t, "supplier out of business", *p.ErrorReason)
	require.Equal(t, "order_error", fx.repo.requests[requestID])

	_, err = fx.svc.MarkError(context.Background(), cdActor(fx.cd), full.ID, "again")
	require.ErrorIs(t, err, shared.ErrUnauthorizedTransition, "order_error is terminal")
}

func TestListScopesToCD(t *testing.T) {
	fx := newFixture(t)
	fx.create(t, CreateItemInput{ItemID: fx.itemA, Quantity: 1})
	foreignID := uuid.New()
	fx.repo.purchases[foreignID] = Purchase{ID: foreignID, CDID: uuid.New(), Status: StatusOrderPlaced}

	mine, err := fx.svc.List(context.Background(), cdActor(fx.cd), ListFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, fx.cd, mine[0].CDID)

	all, err := fx.svc.List(context.Background(), adminActor(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTransitionTableShape(t *testing.T) {
	expected := map[Status][]Status{
		StatusOrderPlaced:       {StatusQuoting, StatusOrderError},
		StatusQuoting:           {StatusPurchasedAwaiting, StatusOrderError},
		StatusPurchasedAwaiting: {StatusArrivedAtCD, StatusOrderError},
		StatusArrivedAtCD:       {StatusSent, StatusOrderError},
		StatusSent:              {StatusFinalized, StatusOrderError},
		StatusFinalized:         {},
		StatusOrderError:        {},
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
	require.False(t, Status("draft").IsValid())
}
