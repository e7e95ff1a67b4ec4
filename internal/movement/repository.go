package movement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

const insertSQL = `
INSERT INTO movements (item_id, from_location, to_location, quantity, mv_type, reference, actor_id, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
RETURNING id, created_at`

// InsertTx appends a movement inside the caller's transaction. Ledger writers
// call this so the log row commits or rolls back together with the quantity
// change it describes.
func InsertTx(ctx context.Context, tx pgx.Tx, m *Movement) error {
	if m.Quantity <= 0 {
		return fmt.Errorf("%w: movement quantity must be positive", shared.ErrValidation)
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: unknown movement type %q", shared.ErrValidation, m.Type)
	}
	row := tx.QueryRow(ctx, insertSQL,
		m.ItemID, m.FromLocation, m.ToLocation, m.Quantity, m.Type, m.Reference, m.ActorID, m.Note)
	return row.Scan(&m.ID, &m.CreatedAt)
}

// Repository reads the movement log.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns log rows newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ItemID != nil {
		add("item_id = $%d", *f.ItemID)
	}
	if f.LocationID != nil {
		args = append(args, *f.LocationID)
		where = append(where, fmt.Sprintf("(from_location = $%d OR to_location = $%d)", len(args), len(args)))
	}
	if f.Type != "" {
		add("mv_type = $%d", f.Type)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT id, item_id, from_location, to_location, quantity, mv_type, reference, actor_id, note, created_at
FROM movements`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	page := shared.NewPagination(f.Page, f.PerPage, 0)
	args = append(args, page.PerPage, page.Offset())
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.FromLocation, &m.ToLocation, &m.Quantity, &m.Type, &m.Reference, &m.ActorID, &m.Note, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const replaySQL = `
WITH flows AS (
	SELECT item_id, loc_id, SUM(delta) AS qty
	FROM (
		SELECT item_id, to_location AS loc_id, quantity AS delta
		FROM movements WHERE to_location IS NOT NULL
		UNION ALL
		SELECT item_id, from_location AS loc_id, -quantity AS delta
		FROM movements WHERE from_location IS NOT NULL
		UNION ALL
		SELECT item_id, from_cd AS loc_id, -quantity AS delta
		FROM transits WHERE status = 'in_transit'
	) f
	GROUP BY item_id, loc_id
), ledger AS (
	SELECT item_id, unit_id AS loc_id, quantity, 'unit' AS partition FROM unit_stock
	UNION ALL
	SELECT item_id, cd_id AS loc_id, quantity, 'cd' AS partition FROM cd_stock
)
SELECT
	COALESCE(l.partition, 'unknown'),
	COALESCE(f.item_id, l.item_id),
	COALESCE(f.loc_id, l.loc_id),
	COALESCE(l.quantity, 0),
	COALESCE(f.qty, 0)
FROM flows f
FULL OUTER JOIN ledger l ON l.item_id = f.item_id AND l.loc_id = f.loc_id
WHERE COALESCE(l.quantity, 0) <> COALESCE(f.qty, 0)
ORDER BY 2, 3`

// Replay folds the whole log per (item, location) and returns every pair
// whose sum disagrees with the stored ledger quantity. The transfer movement
// is only written at delivery, so undelivered transits are folded in as
// pending debits against their origin CD; goods on the road belong to no
// ledger.
func (r *Repository) Replay(ctx context.Context) ([]Discrepancy, error) {
	rows, err := r.pool.Query(ctx, replaySQL)
	if err != nil {
		return nil, fmt.Errorf("replay movements: %w", err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.Partition, &d.ItemID, &d.LocationID, &d.LedgerQuantity, &d.ReplayQuantity); err != nil {
			return nil, fmt.Errorf("scan discrepancy: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountSince reports how many movements were logged at or after the cutoff.
// The dashboard uses it for the activity tile.
func (r *Repository) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM movements WHERE created_at >= $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count movements: %w", err)
	}
	return n, nil
}
