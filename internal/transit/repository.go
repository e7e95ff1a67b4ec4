package transit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/db"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/stock"
)

const transitCols = "id, item_id, from_cd, to_unit, quantity, status, request_id, sent_by, sent_at, received_by, delivered_at"

// Repository persists transits. The transactional surface also carries the
// ledger and request statements the dispatch and delivery sequences need,
// so each sequence commits as a single unit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface of a dispatch or delivery.
type TxRepository interface {
	InsertTransit(ctx context.Context, t *Transit) error
	Get(ctx context.Context, id uuid.UUID) (Transit, error)
	// MarkDelivered flips in_transit to delivered. flipped is false when the
	// row was not in_transit anymore; the delivery effects must then be
	// skipped.
	MarkDelivered(ctx context.Context, id, receivedBy uuid.UUID) (t Transit, flipped bool, err error)
	DecrementCDStock(ctx context.Context, cdID, itemID uuid.UUID, qty int64) (remaining int64, err error)
	IncrementUnitStock(ctx context.Context, unitID, itemID uuid.UUID, qty int64) (total int64, err error)
	InsertMovement(ctx context.Context, m *movement.Movement) error
	CountInTransitForRequest(ctx context.Context, requestID uuid.UUID) (int64, error)
	MarkRequestReceived(ctx context.Context, requestID uuid.UUID) (bool, error)
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

// Get fetches one transit.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Transit, error) {
	return scanTransit(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM transits WHERE id = $1`, transitCols), id))
}

// List returns transits newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Transit, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UnitID != nil {
		add("to_unit = $%d", *f.UnitID)
	}
	if f.CDID != nil {
		add("from_cd = $%d", *f.CDID)
	}
	if f.RequestID != nil {
		add("request_id = $%d", *f.RequestID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	q := fmt.Sprintf(`SELECT %s FROM transits`, transitCols)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY sent_at DESC"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transits: %w", err)
	}
	defer rows.Close()

	var out []Transit
	for rows.Next() {
		t, err := scanTransitRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *txRepository) InsertTransit(ctx context.Context, t *Transit) error {
	row := q.tx.QueryRow(ctx, `
INSERT INTO transits (item_id, from_cd, to_unit, quantity, status, request_id, sent_by, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
RETURNING id, sent_at`,
		t.ItemID, t.FromCD, t.ToUnit, t.Quantity, StatusInTransit, t.RequestID, t.SentBy)
	if err := row.Scan(&t.ID, &t.SentAt); err != nil {
		return fmt.Errorf("insert transit: %w", err)
	}
	t.Status = StatusInTransit
	return nil
}

func (q *txRepository) Get(ctx context.Context, id uuid.UUID) (Transit, error) {
	return scanTransit(q.tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM transits WHERE id = $1`, transitCols), id))
}

func (q *txRepository) MarkDelivered(ctx context.Context, id, receivedBy uuid.UUID) (Transit, bool, error) {
	row := q.tx.QueryRow(ctx, fmt.Sprintf(`
UPDATE transits SET status = $3, received_by = $2, delivered_at = now()
WHERE id = $1 AND status = $4
RETURNING %s`, transitCols), id, receivedBy, StatusDelivered, StatusInTransit)
	t, err := scanTransitRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transit{}, false, nil
	}
	if err != nil {
		return Transit{}, false, err
	}
	return t, true, nil
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

func (q *txRepository) IncrementUnitStock(ctx context.Context, unitID, itemID uuid.UUID, qty int64) (int64, error) {
	var total int64
	err := q.tx.QueryRow(ctx, `
INSERT INTO unit_stock (item_id, unit_id, quantity, min_quantity, created_at, updated_at)
VALUES ($1, $2, $3, 0, now(), now())
ON CONFLICT (item_id, unit_id) DO UPDATE
SET quantity = unit_stock.quantity + EXCLUDED.quantity, updated_at = now()
RETURNING quantity`, itemID, unitID, qty).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("increment unit stock: %w", err)
	}
	return total, nil
}

func (q *txRepository) InsertMovement(ctx context.Context, m *movement.Movement) error {
	return movement.InsertTx(ctx, q.tx, m)
}

func (q *txRepository) CountInTransitForRequest(ctx context.Context, requestID uuid.UUID) (int64, error) {
	var n int64
	err := q.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM transits WHERE request_id = $1 AND status = $2`,
		requestID, StatusInTransit).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count in-transit siblings: %w", err)
	}
	return n, nil
}

func (q *txRepository) MarkRequestReceived(ctx context.Context, requestID uuid.UUID) (bool, error) {
	tag, err := q.tx.Exec(ctx,
		`UPDATE requests SET status = 'received', updated_at = now() WHERE id = $1 AND status = 'sent'`,
		requestID)
	if err != nil {
		return false, fmt.Errorf("advance request to received: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanTransit(row pgx.Row) (Transit, error) {
	t, err := scanTransitRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transit{}, ErrTransitNotFound
	}
	return t, err
}

func scanTransitRow(row pgx.Row) (Transit, error) {
	var t Transit
	err := row.Scan(&t.ID, &t.ItemID, &t.FromCD, &t.ToUnit, &t.Quantity, &t.Status,
		&t.RequestID, &t.SentBy, &t.SentAt, &t.ReceivedBy, &t.DeliveredAt)
	if err != nil {
		return Transit{}, err
	}
	return t, nil
}
