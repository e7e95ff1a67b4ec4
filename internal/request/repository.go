package request

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/db"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

const requestCols = "id, number, unit_id, cd_id, status, notes, rejection_reason, created_by, reviewed_by, created_at, updated_at"

const itemCols = "id, request_id, item_id, quantity_requested, quantity_approved, quantity_sent, needs_purchase, cd_stock_available, has_error, error_description"

// TransitLine creates a transit row from inside the dispatch transaction.
type TransitLine struct {
	ItemID    uuid.UUID
	FromCD    uuid.UUID
	ToUnit    uuid.UUID
	Quantity  int64
	RequestID uuid.UUID
	SentBy    uuid.UUID
}

// PurchaseLine is one shortfall line for a spawned purchase.
type PurchaseLine struct {
	ItemID   uuid.UUID
	Quantity int64
}

// PurchaseSpawn creates the back-referenced purchase during review.
type PurchaseSpawn struct {
	CDID      uuid.UUID
	RequestID uuid.UUID
	CreatedBy uuid.UUID
	Notes     string
	Lines     []PurchaseLine
}

// Repository persists requests. The transactional surface carries every
// statement the review and dispatch sequences need, including the CD ledger
// debit, transit creation and purchase spawn, so each sequence commits as a
// single unit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface of request workflows.
type TxRepository interface {
	NextNumber(ctx context.Context) (string, error)
	InsertRequest(ctx context.Context, r *Request) error
	InsertItems(ctx context.Context, items []Item) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error)
	GetItems(ctx context.Context, requestID uuid.UUID) ([]Item, error)
	// AdvanceStatus flips the status when the row currently holds one of
	// from. false means the row moved on concurrently or never matched.
	AdvanceStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error)
	SetReviewer(ctx context.Context, id, reviewer uuid.UUID) error
	SetRejected(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	UpdateItemReview(ctx context.Context, itemRowID uuid.UUID, approved, available int64, needsPurchase bool) error
	SetItemSent(ctx context.Context, itemRowID uuid.UUID, sent int64) error
	SetItemError(ctx context.Context, itemRowID uuid.UUID, description string) error
	DecrementCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (int64, error)
	InsertTransit(ctx context.Context, line TransitLine) (uuid.UUID, error)
	InsertPurchase(ctx context.Context, spawn PurchaseSpawn) (uuid.UUID, string, error)
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

// Get fetches one request without its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	return scanRequest(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, requestCols), id))
}

// GetWithItems fetches a request and its lines.
func (r *Repository) GetWithItems(ctx context.Context, id uuid.UUID) (WithItems, error) {
	req, err := r.Get(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	items, err := r.ListItems(ctx, id)
	if err != nil {
		return WithItems{}, err
	}
	return WithItems{Request: req, Items: items}, nil
}

// ListItems returns the lines of a request.
func (r *Repository) ListItems(ctx context.Context, requestID uuid.UUID) ([]Item, error) {
	return queryItems(ctx, r.pool, requestID)
}

// List returns requests newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Request, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UnitID != nil {
		add("unit_id = $%d", *f.UnitID)
	}
	if f.CDID != nil {
		add("cd_id = $%d", *f.CDID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	q := fmt.Sprintf(`SELECT %s FROM requests`, requestCols)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (q *txRepository) NextNumber(ctx context.Context) (string, error) {
	var n int64
	if err := q.tx.QueryRow(ctx, `SELECT nextval('request_numbers')`).Scan(&n); err != nil {
		return "", fmt.Errorf("next request number: %w", err)
	}
	return fmt.Sprintf("REQ-%06d", n), nil
}

func (q *txRepository) InsertRequest(ctx context.Context, r *Request) error {
	row := q.tx.QueryRow(ctx, `
INSERT INTO requests (number, unit_id, cd_id, status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now(), now())
RETURNING id, created_at, updated_at`,
		r.Number, r.UnitID, r.CDID, StatusRequested, r.Notes, r.CreatedBy)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	r.Status = StatusRequested
	return nil
}

func (q *txRepository) InsertItems(ctx context.Context, items []Item) error {
	for i := range items {
		err := q.tx.QueryRow(ctx, `
INSERT INTO request_items (request_id, item_id, quantity_requested)
VALUES ($1, $2, $3)
RETURNING id`, items[i].RequestID, items[i].ItemID, items[i].QuantityRequested).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("insert request item: %w", err)
		}
	}
	return nil
}

func (q *txRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	return scanRequest(q.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1 FOR UPDATE`, requestCols), id))
}

func (q *txRepository) GetItems(ctx context.Context, requestID uuid.UUID) ([]Item, error) {
	return queryItems(ctx, q.tx, requestID)
}

func (q *txRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	tag, err := q.tx.Exec(ctx,
		`UPDATE requests SET status = $2, updated_at = now() WHERE id = $1 AND status = ANY($3)`,
		id, to, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("advance request status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *txRepository) SetReviewer(ctx context.Context, id, reviewer uuid.UUID) error {
	_, err := q.tx.Exec(ctx,
		`UPDATE requests SET reviewed_by = $2, updated_at = now() WHERE id = $1`, id, reviewer)
	if err != nil {
		return fmt.Errorf("set reviewer: %w", err)
	}
	return nil
}

func (q *txRepository) SetRejected(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := q.tx.Exec(ctx, `
UPDATE requests SET status = $2, rejection_reason = $3, updated_at = now()
WHERE id = $1 AND status = $4`,
		id, StatusRejected, reason, StatusReviewing)
	if err != nil {
		return false, fmt.Errorf("reject request: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *txRepository) UpdateItemReview(ctx context.Context, itemRowID uuid.UUID, approved, available int64, needsPurchase bool) error {
	tag, err := q.tx.Exec(ctx, `
UPDATE request_items
SET quantity_approved = $2, cd_stock_available = $3, needs_purchase = $4
WHERE id = $1`, itemRowID, approved, available, needsPurchase)
	if err != nil {
		return fmt.Errorf("update item review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (q *txRepository) SetItemSent(ctx context.Context, itemRowID uuid.UUID, sent int64) error {
	_, err := q.tx.Exec(ctx,
		`UPDATE request_items SET quantity_sent = $2 WHERE id = $1`, itemRowID, sent)
	if err != nil {
		return fmt.Errorf("set item sent: %w", err)
	}
	return nil
}

func (q *txRepository) SetItemError(ctx context.Context, itemRowID uuid.UUID, description string) error {
	tag, err := q.tx.Exec(ctx,
		`UPDATE request_items SET has_error = true, error_description = $2 WHERE id = $1`,
		itemRowID, description)
	if err != nil {
		return fmt.Errorf("set item error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (q *txRepository) DecrementCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (int64, error) {
	var remaining int64
	err := q.tx.QueryRow(ctx, `
UPDATE cd_stock SET quantity = quantity - $3, updated_at = now()
WHERE item_id = $1 AND cd_id = $2 AND quantity >= $3
RETURNING quantity`, itemID, cdID, qty).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("decrement cd stock: %w", err)
	}
	var available int64
	selErr := q.tx.QueryRow(ctx,
		`SELECT quantity FROM cd_stock WHERE item_id = $1 AND cd_id = $2`, itemID, cdID).Scan(&available)
	if errors.Is(selErr, pgx.ErrNoRows) {
		return 0, stock.ErrRecordNotFound
	}
	if selErr != nil {
		return 0, fmt.Errorf("read cd stock: %w", selErr)
	}
	return 0, &stock.InsufficientStockError{
		Key:       stock.Key{ItemID: itemID, LocationID: cdID},
		Available: available,
		Requested: qty,
	}
}

func (q *txRepository) InsertTransit(ctx context.Context, line TransitLine) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.tx.QueryRow(ctx, `
INSERT INTO transits (item_id, from_cd, to_unit, quantity, status, request_id, sent_by, sent_at)
VALUES ($1, $2, $3, $4, 'in_transit', $5, $6, now())
RETURNING id`,
		line.ItemID, line.FromCD, line.ToUnit, line.Quantity, line.RequestID, line.SentBy).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert transit: %w", err)
	}
	return id, nil
}

func (q *txRepository) InsertPurchase(ctx context.Context, spawn PurchaseSpawn) (uuid.UUID, string, error) {
	var n int64
	if err := q.tx.QueryRow(ctx, `SELECT nextval('purchase_numbers')`).Scan(&n); err != nil {
		return uuid.Nil, "", fmt.Errorf("next purchase number: %w", err)
	}
	number := fmt.Sprintf("PUR-%06d", n)

	var id uuid.UUID
	err := q.tx.QueryRow(ctx, `
INSERT INTO purchases (number, cd_id, request_id, status, notes, total_value, created_by, created_at, updated_at)
VALUES ($1, $2, $3, 'order_placed', $4, 0, $5, now(), now())
RETURNING id`, number, spawn.CDID, spawn.RequestID, spawn.Notes, spawn.CreatedBy).Scan(&id)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("insert spawned purchase: %w", err)
	}
	for _, line := range spawn.Lines {
		_, err := q.tx.Exec(ctx, `
INSERT INTO purchase_items (purchase_id, item_id, quantity)
VALUES ($1, $2, $3)`, id, line.ItemID, line.Quantity)
		if err != nil {
			return uuid.Nil, "", fmt.Errorf("insert spawned purchase item: %w", err)
		}
	}
	return id, number, nil
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

func queryItems(ctx context.Context, db rowQuerier, requestID uuid.UUID) ([]Item, error) {
	rows, err := db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM request_items WHERE request_id = $1 ORDER BY id`, itemCols), requestID)
	if err != nil {
		return nil, fmt.Errorf("list request items: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.RequestID, &it.ItemID, &it.QuantityRequested, &it.QuantityApproved,
			&it.QuantitySent, &it.NeedsPurchase, &it.CDStockAvailable, &it.HasError, &it.ErrorDescription); err != nil {
			return nil, fmt.Errorf("scan request item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (Request, error) {
	req, err := scanRequestRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, ErrRequestNotFound
	}
	return req, err
}

func scanRequestRow(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.Number, &req.UnitID, &req.CDID, &req.Status, &req.Notes,
		&req.RejectionReason, &req.CreatedBy, &req.ReviewedBy, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}
