package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/movement"
	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/platform/db"
)

type tableMeta struct {
	name     string
	locCol   string
	hasPrice bool
}

var tables = map[Partition]tableMeta{
	PartitionUnit: {name: "unit_stock", locCol: "unit_id"},
	PartitionCD:   {name: "cd_stock", locCol: "cd_id", hasPrice: true},
}

func table(p Partition) (tableMeta, error) {
	t, ok := tables[p]
	if !ok {
		return tableMeta{}, fmt.Errorf("unknown stock partition %q", p)
	}
	return t, nil
}

// selectCols yields a column list that scans identically for both
// partitions; the unit ledger fills the price columns with NULLs.
func (t tableMeta) selectCols() string {
	price := "NULL::text, NULL::timestamptz, NULL::uuid"
	if t.hasPrice {
		price = "unit_price::text, price_updated_at, price_purchase_id"
	}
	return fmt.Sprintf("item_id, %s, quantity, min_quantity, max_quantity, %s, created_at, updated_at",
		t.locCol, price)
}

type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type queries struct {
	db dbtx
}

// Repository persists both stock partitions.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{db: pool}}
}

// TxRepository is the transactional surface other modules compose their
// ledger writes with. Everything called on it commits or rolls back as one.
type TxRepository interface {
	Get(ctx context.Context, p Partition, key Key) (Record, error)
	GetForUpdate(ctx context.Context, p Partition, key Key) (Record, error)
	UpsertAdd(ctx context.Context, p Partition, key Key, delta int64, levels Levels) (Record, error)
	DecrementConditional(ctx context.Context, p Partition, key Key, qty int64) (Record, error)
	SetQuantity(ctx context.Context, p Partition, key Key, qty int64) (Record, error)
	InsertMovement(ctx context.Context, m *movement.Movement) error
}

type txRepository struct {
	queries
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction, committing only if
// fn returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{queries: queries{db: tx}, tx: tx})
	})
}

func (q txRepository) GetForUpdate(ctx context.Context, p Partition, key Key) (Record, error) {
	t, err := table(p)
	if err != nil {
		return Record{}, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE item_id = $1 AND %s = $2 FOR UPDATE`,
		t.selectCols(), t.name, t.locCol)
	return scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID), p)
}

func (q txRepository) InsertMovement(ctx context.Context, m *movement.Movement) error {
	return movement.InsertTx(ctx, q.tx, m)
}

// Get fetches one ledger row.
func (q queries) Get(ctx context.Context, p Partition, key Key) (Record, error) {
	t, err := table(p)
	if err != nil {
		return Record{}, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE item_id = $1 AND %s = $2`,
		t.selectCols(), t.name, t.locCol)
	return scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID), p)
}

// UpsertAdd inserts the row or adds delta to the existing quantity in one
// statement. On conflict the stored thresholds win; levels apply only when
// the insert creates the row.
func (q queries) UpsertAdd(ctx context.Context, p Partition, key Key, delta int64, levels Levels) (Record, error) {
	t, err := table(p)
	if err != nil {
		return Record{}, err
	}
	if delta < 0 {
		return Record{}, fmt.Errorf("upsert delta must not be negative, got %d", delta)
	}
	sql := fmt.Sprintf(`
INSERT INTO %s (item_id, %s, quantity, min_quantity, max_quantity, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())
ON CONFLICT (item_id, %s) DO UPDATE
SET quantity = %s.quantity + EXCLUDED.quantity, updated_at = now()
RETURNING %s`, t.name, t.locCol, t.locCol, t.name, t.selectCols())
	return scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID, delta, levels.MinQuantity, levels.MaxQuantity), p)
}

// DecrementConditional subtracts qty only when the row holds at least that
// much. The guard lives in the statement, so concurrent decrements cannot
// take the ledger negative.
func (q queries) DecrementConditional(ctx context.Context, p Partition, key Key, qty int64) (Record, error) {
	t, err := table(p)
	if err != nil {
		return Record{}, err
	}
	if qty <= 0 {
		return Record{}, fmt.Errorf("decrement quantity must be positive, got %d", qty)
	}
	sql := fmt.Sprintf(`
UPDATE %s SET quantity = quantity - $3, updated_at = now()
WHERE item_id = $1 AND %s = $2 AND quantity >= $3
RETURNING %s`, t.name, t.locCol, t.selectCols())
	rec, err := scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID, qty), p)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return Record{}, err
	}
	cur, getErr := q.Get(ctx, p, key)
	if getErr != nil {
		return Record{}, getErr
	}
	return Record{}, &InsufficientStockError{Key: key, Available: cur.Quantity, Requested: qty}
}

// SetQuantity writes an absolute quantity. Callers lock the row first.
func (q queries) SetQuantity(ctx context.Context, p Partition, key Key, qty int64) (Record, error) {
	t, err := table(p)
	if err != nil {
		return Record{}, err
	}
	if qty < 0 {
		return Record{}, fmt.Errorf("quantity must not be negative, got %d", qty)
	}
	sql := fmt.Sprintf(`
UPDATE %s SET quantity = $3, updated_at = now()
WHERE item_id = $1 AND %s = $2
RETURNING %s`, t.name, t.locCol, t.selectCols())
	return scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID, qty), p)
}

// UpdateLevels rewrites the thresholds of an existing row.
func (q queries) UpdateLevels(ctx context.Context, p Partition, key Key, min int64, max *int64) (Record, error) {
	t, err := table(p)
	if err != nil {
		return Record{}, err
	}
	sql := fmt.Sprintf(`
UPDATE %s SET min_quantity = $3, max_quantity = $4, updated_at = now()
WHERE item_id = $1 AND %s = $2
RETURNING %s`, t.name, t.locCol, t.selectCols())
	return scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID, min, max), p)
}

// SetPrice stores the CD unit price together with its purchase attribution.
func (q queries) SetPrice(ctx context.Context, key Key, price decimal.Decimal, purchaseID *uuid.UUID) (Record, error) {
	t := tables[PartitionCD]
	sql := fmt.Sprintf(`
UPDATE %s SET unit_price = $3::numeric, price_updated_at = now(), price_purchase_id = $4, updated_at = now()
WHERE item_id = $1 AND %s = $2
RETURNING %s`, t.name, t.locCol, t.selectCols())
	return scanRecord(q.db.QueryRow(ctx, sql, key.ItemID, key.LocationID, price.String(), purchaseID), PartitionCD)
}

// List returns ledger rows, optionally narrowed by location, item or
// derived status. The status predicate runs in SQL so paging stays exact.
func (q queries) List(ctx context.Context, p Partition, f ListFilter) ([]Record, error) {
	t, err := table(p)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.LocationID != nil {
		args = append(args, *f.LocationID)
		where = append(where, fmt.Sprintf("%s = $%d", t.locCol, len(args)))
	}
	if f.ItemID != nil {
		args = append(args, *f.ItemID)
		where = append(where, fmt.Sprintf("item_id = $%d", len(args)))
	}
	switch f.Status {
	case StatusEmpty:
		where = append(where, "quantity = 0")
	case StatusLow:
		where = append(where, "quantity > 0 AND quantity <= min_quantity")
	case StatusNormal:
		where = append(where, "quantity > min_quantity")
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", t.selectCols(), t.name)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += fmt.Sprintf(" ORDER BY %s, item_id", t.locCol)
	return q.queryRecords(ctx, sql, p, args...)
}

// ListLow returns every row at or below its minimum, empties included.
func (q queries) ListLow(ctx context.Context, p Partition) ([]Record, error) {
	t, err := table(p)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM %s WHERE quantity <= min_quantity ORDER BY %s, item_id`,
		t.selectCols(), t.name, t.locCol)
	return q.queryRecords(ctx, sql, p)
}

// ListLowForCD returns low unit rows across the units a CD supplies.
func (q queries) ListLowForCD(ctx context.Context, cdID uuid.UUID) ([]Record, error) {
	const sql = `
SELECT s.item_id, s.unit_id, s.quantity, s.min_quantity, s.max_quantity,
	NULL::text, NULL::timestamptz, NULL::uuid, s.created_at, s.updated_at
FROM unit_stock s
JOIN org_units u ON u.id = s.unit_id
WHERE u.cd_id = $1 AND s.quantity <= s.min_quantity
ORDER BY s.unit_id, s.item_id`
	return q.queryRecords(ctx, sql, PartitionUnit, cdID)
}

// CountByStatus aggregates the partition into the three derived statuses.
func (q queries) CountByStatus(ctx context.Context, p Partition) (StatusCounts, error) {
	t, err := table(p)
	if err != nil {
		return StatusCounts{}, err
	}
	sql := fmt.Sprintf(`
SELECT
	COUNT(*) FILTER (WHERE quantity = 0),
	COUNT(*) FILTER (WHERE quantity > 0 AND quantity <= min_quantity),
	COUNT(*) FILTER (WHERE quantity > min_quantity)
FROM %s`, t.name)
	var c StatusCounts
	if err := q.db.QueryRow(ctx, sql).Scan(&c.Empty, &c.Low, &c.Normal); err != nil {
		return StatusCounts{}, fmt.Errorf("count stock status: %w", err)
	}
	return c, nil
}

// Snapshot returns CD quantities for the given items. Items without a
// ledger row are absent from the map; callers read that as zero.
func (q queries) Snapshot(ctx context.Context, cdID uuid.UUID, itemIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	if len(itemIDs) == 0 {
		return map[uuid.UUID]int64{}, nil
	}
	rows, err := q.db.Query(ctx,
		`SELECT item_id, quantity FROM cd_stock WHERE cd_id = $1 AND item_id = ANY($2)`,
		cdID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("snapshot cd stock: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int64, len(itemIDs))
	for rows.Next() {
		var (
			id  uuid.UUID
			qty int64
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out[id] = qty
	}
	return out, rows.Err()
}

func (q queries) queryRecords(ctx context.Context, sql string, p Partition, args ...any) ([]Record, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecordRow(rows, p)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row, p Partition) (Record, error) {
	rec, err := scanRecordRow(row, p)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

func scanRecordRow(row pgx.Row, p Partition) (Record, error) {
	var (
		rec   Record
		price *string
	)
	err := row.Scan(&rec.ItemID, &rec.LocationID, &rec.Quantity, &rec.MinQuantity, &rec.MaxQuantity,
		&price, &rec.PriceUpdatedAt, &rec.PricePurchaseID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Partition = p
	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return Record{}, fmt.Errorf("parse unit price %q: %w", *price, err)
		}
		rec.UnitPrice = &d
	}
	return rec, nil
}
