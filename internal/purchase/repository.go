package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/db"
)

const purchaseCols = "id, number, cd_id, supplier_id, request_id, status, notes, error_reason, total_value::text, created_by, finalized_at, created_at, updated_at"

const itemCols = "id, purchase_id, item_id, quantity, unit_price::text, total_price::text"

const quotationCols = "id, purchase_id, supplier_id, chosen, total_value::text, created_by, created_at"

const quotationItemCols = "id, quotation_id, item_id, item_code, item_name, quantity, unit_price::text"

// Repository persists purchases. The transactional surface carries the CD
// ledger credit, the purchase movement and the linked request updates, so
// finalization commits as a single unit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface of purchase workflows.
type TxRepository interface {
	NextNumber(ctx context.Context) (string, error)
	InsertPurchase(ctx context.Context, p *Purchase) error
	InsertItems(ctx context.Context, items []Item) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Purchase, error)
	GetItems(ctx context.Context, purchaseID uuid.UUID) ([]Item, error)
	// AdvanceStatus flips the status when the row currently holds one of
	// from. false means the row moved on concurrently or never matched.
	AdvanceStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error)
	SetOrderError(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	InsertQuotation(ctx context.Context, quotation *Quotation, items []QuotationItem) error
	GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error)
	GetQuotationItems(ctx context.Context, quotationID uuid.UUID) ([]QuotationItem, error)
	MarkQuotationChosen(ctx context.Context, purchaseID, quotationID uuid.UUID) error
	SetSupplier(ctx context.Context, purchaseID, supplierID uuid.UUID) error
	SetItemPrice(ctx context.Context, itemRowID uuid.UUID, price decimal.Decimal) error
	SetTotalValue(ctx context.Context, purchaseID uuid.UUID, total decimal.Decimal) error
	// SetFinalized flips sent to finalized. false means the purchase was
	// not in sent, so the caller must not apply stock effects.
	SetFinalized(ctx context.Context, id uuid.UUID) (bool, error)
	UpsertAddCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (int64, error)
	SetCDPrice(ctx context.Context, cdID, itemID uuid.UUID, price decimal.Decimal, purchaseID uuid.UUID) error
	InsertMovement(ctx context.Context, m *movement.Movement) error
	RaiseRequestItemApproved(ctx context.Context, requestID, itemID uuid.UUID, qty int64) error
	CountOpenSiblings(ctx context.Context, requestID, excludeID uuid.UUID) (int64, error)
	AdvanceRequestStatus(ctx context.Context, requestID uuid.UUID, from, to string) (bool, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction, committing only if
// fn returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get fetches one purchase without its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Purchase, error) {
	return scanPurchase(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM purchases WHERE id = $1`, purchaseCols), id))
}

// GetWithItems fetches a purchase and its lines.
func (r *Repository) GetWithItems(ctx context.Context, id uuid.UUID) (WithItems, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	items, err := r.ListItems(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	return WithItems{Purchase: p, Items: items}, nil
}

// ListItems returns the lines of a purchase.
func (r *Repository) ListItems(ctx context.Context, purchaseID uuid.UUID) ([]Item, error) {
	return queryItems(ctx, r.pool, purchaseID)
}

// List returns purchases newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Purchase, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CDID != nil {
		add("cd_id = $%d", *f.CDID)
	}
	if f.RequestID != nil {
		add("request_id = $%d", *f.RequestID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	q := fmt.Sprintf(`SELECT %s FROM purchases`, purchaseCols)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []Purchase
	for rows.Next() {
		p, err := scanPurchaseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListQuotations returns a purchase's quotations with their snapshot lines.
func (r *Repository) ListQuotations(ctx context.Context, purchaseID uuid.UUID) ([]QuotationWithItems, error) {
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM quotations WHERE purchase_id = $1 ORDER BY created_at`, quotationCols), purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list quotations: %w", err)
	}
	defer rows.Close()

	var out []QuotationWithItems
	for rows.Next() {
		quotation, err := scanQuotationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, QuotationWithItems{Quotation: quotation})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		items, err := queryQuotationItems(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

func (q *txRepository) NextNumber(ctx context.Context) (string, error) {
	var n int64
	if err := q.tx.QueryRow(ctx, `SELECT nextval('purchase_numbers')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next purchase number: %w", err)
	}
	return fmt.Sprintf("PUR-%06d", n), nil
}

func (q *txRepository) InsertPurchase(ctx context.Context, p *Purchase) error {
	row := q.tx.QueryRow(ctx, `
INSERT INTO purchases (number, cd_id, supplier_id, request_id, status, notes, total_value, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, now(), now())
RETURNING id, created_at, updated_at`,
		p.Number, p.CDID, p.SupplierID, p.RequestID, StatusOrderPlaced, p.Notes, p.CreatedBy)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	p.Status = StatusOrderPlaced
	p.TotalValue = decimal.Zero
	return nil
}

func (q *txRepository) InsertItems(ctx context.Context, items []Item) error {
	for i := range items {
		err := q.tx.QueryRow(ctx, `
INSERT INTO purchase_items (purchase_id, item_id, quantity)
VALUES ($1, $2, $3)
RETURNING id`, items[i].PurchaseID, items[i].ItemID, items[i].Quantity).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("insert purchase item: %w", err)
		}
	}
	return nil
}

func (q *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Purchase, error) {
	return scanPurchase(q.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM purchases WHERE id = $1 FOR UPDATE`, purchaseCols), id))
}

func (q *txRepository) GetItems(ctx context.Context, purchaseID uuid.UUID) ([]Item, error) {
	return queryItems(ctx, q.tx, purchaseID)
}

func (q *txRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	tag, err := q.tx.Exec(ctx, `
UPDATE purchases SET status = $2, updated_at = now()
WHERE id = $1 AND status = ANY($3)`,
		id, to, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("advance purchase status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *txRepository) SetOrderError(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := q.tx.Exec(ctx, `
UPDATE purchases SET status = $2, error_reason = $3, updated_at = now()
WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, StatusOrderError, reason, StatusFinalized, StatusOrderError)
	if err != nil {
		return false, fmt.Errorf("mark purchase error: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *txRepository) InsertQuotation(ctx context.Context, quotation *Quotation, items []QuotationItem) error {
	row := q.tx.QueryRow(ctx, `
INSERT INTO quotations (purchase_id, supplier_id, chosen, total_value, created_by, created_at)
VALUES ($1, $2, false, $3::numeric, $4, now())
RETURNING id, created_at`,
		quotation.PurchaseID, quotation.SupplierID, quotation.TotalValue.String(), quotation.CreatedBy)
	if err := row.Scan(&quotation.ID, &quotation.CreatedAt); err != nil {
		return fmt.Errorf("insert quotation: %w", err)
	}
	for i := range items {
		items[i].QuotationID = quotation.ID
		err := q.tx.QueryRow(ctx, `
INSERT INTO quotation_items (quotation_id, item_id, item_code, item_name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6::numeric)
RETURNING id`,
			quotation.ID, items[i].ItemID, items[i].ItemCode, items[i].ItemName,
			items[i].Quantity, items[i].UnitPrice.String()).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("insert quotation item: %w", err)
		}
	}
	return nil
}

func (q *txRepository) GetQuotation(ctx context.Context, id uuid.UUID) (Quotation, error) {
	quotation, err := scanQuotationRow(q.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM quotations WHERE id = $1`, quotationCols), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Quotation{}, ErrQuotationNotFound
	}
	return quotation, err
}

func (q *txRepository) GetQuotationItems(ctx context.Context, quotationID uuid.UUID) ([]QuotationItem, error) {
	return queryQuotationItems(ctx, q.tx, quotationID)
}

func (q *txRepository) MarkQuotationChosen(ctx context.Context, purchaseID, quotationID uuid.UUID) error {
	if _, err := q.tx.Exec(ctx,
		`UPDATE quotations SET chosen = false WHERE purchase_id = $1`, purchaseID); err != nil {
		return fmt.Errorf("clear chosen quotations: %w", err)
	}
	tag, err := q.tx.Exec(ctx,
		`UPDATE quotations SET chosen = true WHERE id = $1 AND purchase_id = $2`, quotationID, purchaseID)
	if err != nil {
		return fmt.Errorf("mark quotation chosen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotationNotFound
	}
	return nil
}

func (q *txRepository) SetSupplier(ctx context.Context, purchaseID, supplierID uuid.UUID) error {
	_, err := q.tx.Exec(ctx,
		`UPDATE purchases SET supplier_id = $2, updated_at = now() WHERE id = $1`, purchaseID, supplierID)
	if err != nil {
		return fmt.Errorf("set purchase supplier: %w", err)
	}
	return nil
}

func (q *txRepository) SetItemPrice(ctx context.Context, itemRowID uuid.UUID, price decimal.Decimal) error {
	_, err := q.tx.Exec(ctx, `
UPDATE purchase_items SET unit_price = $2::numeric, total_price = quantity * $2::numeric
WHERE id = $1`, itemRowID, price.String())
	if err != nil {
		return fmt.Errorf("set purchase item price: %w", err)
	}
	return nil
}

func (q *txRepository) SetTotalValue(ctx context.Context, purchaseID uuid.UUID, total decimal.Decimal) error {
	_, err := q.tx.Exec(ctx,
		`UPDATE purchases SET total_value = $2::numeric, updated_at = now() WHERE id = $1`,
		purchaseID, total.String())
	if err != nil {
		return fmt.Errorf("set purchase total: %w", err)
	}
	return nil
}

func (q *txRepository) SetFinalized(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := q.tx.Exec(ctx, `
UPDATE purchases SET status = $2, finalized_at = now(), updated_at = now()
WHERE id = $1 AND status = $3`,
		id, StatusFinalized, StatusSent)
	if err != nil {
		return false, fmt.Errorf("finalize purchase: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *txRepository) UpsertAddCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (int64, error) {
	var total int64
	err := q.tx.QueryRow(ctx, `
INSERT INTO cd_stock (item_id, cd_id, quantity, min_quantity, created_at, updated_at)
VALUES ($1, $2, $3, 0, now(), now())
ON CONFLICT (item_id, cd_id) DO UPDATE
SET quantity = cd_stock.quantity + EXCLUDED.quantity, updated_at = now()
RETURNING quantity`, itemID, cdID, qty).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("increment cd stock: %w", err)
	}
	return total, nil
}

func (q *txRepository) SetCDPrice(ctx context.Context, cdID, itemID uuid.UUID, price decimal.Decimal, purchaseID uuid.UUID) error {
	_, err := q.tx.Exec(ctx, `
UPDATE cd_stock SET unit_price = $3::numeric, price_updated_at = now(), price_purchase_id = $4
WHERE item_id = $1 AND cd_id = $2`,
		itemID, cdID, price.String(), purchaseID)
	if err != nil {
		return fmt.Errorf("set cd price: %w", err)
	}
	return nil
}

func (q *txRepository) InsertMovement(ctx context.Context, m *movement.Movement) error {
	return movement.InsertTx(ctx, q.tx, m)
}

func (q *txRepository) RaiseRequestItemApproved(ctx context.Context, requestID, itemID uuid.UUID, qty int64) error {
	_, err := q.tx.Exec(ctx, `
UPDATE request_items
SET quantity_approved = LEAST(quantity_requested, COALESCE(quantity_approved, 0) + $3)
WHERE request_id = $1 AND item_id = $2`,
		requestID, itemID, qty)
	if err != nil {
		return fmt.Errorf("raise approved quantity: %w", err)
	}
	return nil
}

func (q *txRepository) CountOpenSiblings(ctx context.Context, requestID, excludeID uuid.UUID) (int64, error) {
	var n int64
	err := q.tx.QueryRow(ctx, `
SELECT COUNT(*) FROM purchases
WHERE request_id = $1 AND id <> $2 AND status NOT IN ($3, $4)`,
		requestID, excludeID, StatusFinalized, StatusOrderError).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open sibling purchases: %w", err)
	}
	return n, nil
}

func (q *txRepository) AdvanceRequestStatus(ctx context.Context, requestID uuid.UUID, from, to string) (bool, error) {
	tag, err := q.tx.Exec(ctx,
		`UPDATE requests SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		requestID, from, to)
	if err != nil {
		return false, fmt.Errorf("advance linked request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func statusStrings(in []Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, db rowQuerier, purchaseID uuid.UUID) ([]Item, error) {
	rows, err := db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM purchase_items WHERE purchase_id = $1 ORDER BY id`, itemCols), purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list purchase items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			it         Item
			unitPrice  *string
			totalPrice *string
		)
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ItemID, &it.Quantity, &unitPrice, &totalPrice); err != nil {
			return nil, fmt.Errorf("scan purchase item: %w", err)
		}
		if it.UnitPrice, err = parsePrice(unitPrice); err != nil {
			return nil, err
		}
		if it.TotalPrice, err = parsePrice(totalPrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func queryQuotationItems(ctx context.Context, db rowQuerier, quotationID uuid.UUID) ([]QuotationItem, error) {
	rows, err := db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM quotation_items WHERE quotation_id = $1 ORDER BY id`, quotationItemCols), quotationID)
	if err != nil {
		return nil, fmt.Errorf("list quotation items: %w", err)
	}
	defer rows.Close()

	var out []QuotationItem
	for rows.Next() {
		var (
			it    QuotationItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.QuotationID, &it.ItemID, &it.ItemCode, &it.ItemName,
			&it.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan quotation item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse quotation price: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func parsePrice(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	return &d, nil
}

func scanPurchase(row pgx.Row) (Purchase, error) {
	p, err := scanPurchaseRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, err
}

func scanPurchaseRow(row pgx.Row) (Purchase, error) {
	var (
		p     Purchase
		total string
	)
	err := row.Scan(&p.ID, &p.Number, &p.CDID, &p.SupplierID, &p.RequestID, &p.Status, &p.Notes,
		&p.ErrorReason, &total, &p.CreatedBy, &p.FinalizedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Purchase{}, err
	}
	if p.TotalValue, err = decimal.NewFromString(total); err != nil {
		return Purchase{}, fmt.Errorf("parse purchase total: %w", err)
	}
	return p, nil
}

func scanQuotationRow(row pgx.Row) (Quotation, error) {
	var (
		quotation Quotation
		total     string
	)
	err := row.Scan(&quotation.ID, &quotation.PurchaseID, &quotation.SupplierID, &quotation.Chosen,
		&total, &quotation.CreatedBy, &quotation.CreatedAt)
	if err != nil {
		return Quotation{}, err
	}
	if quotation.TotalValue, err = decimal.NewFromString(total); err != nil {
		return Quotation{}, fmt.Errorf("parse quotation total: %w", err)
	}
	return quotation, nil
}
