package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryCols = "id, actor_id, actor_name, action, entity, entity_id, before, after, occurred_at"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Window returns up to limit entries newest first, skipping offset rows.
// Callers ask for one row past the page to learn whether a next page exists.
func (r *Repository) Window(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	where, args := buildWhere(f)
	q := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY occurred_at DESC, id DESC LIMIT %d OFFSET %d`,
		entryCols, where, limit, offset)
	return r.query(ctx, q, args)
}

// All returns every matching entry newest first, for export.
func (r *Repository) All(ctx context.Context, f Filters) ([]Entry, error) {
	where, args := buildWhere(f)
	q := fmt.Sprintf(`SELECT %s FROM audit_logs%s ORDER BY occurred_at DESC, id DESC`, entryCols, where)
	return r.query(ctx, q, args)
}

func (r *Repository) query(ctx context.Context, q string, args []any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildWhere(f Filters) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.Actor != "" {
		add("actor_name ILIKE '%%' || $%d || '%%'", f.Actor)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.Entity, &e.EntityID,
		&e.Before, &e.After, &e.At)
	if err != nil {
		return Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	return e, nil
}
