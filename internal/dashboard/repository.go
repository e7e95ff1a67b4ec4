package dashboard

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads workflow aggregates straight from the owning tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RequestCounts groups non-terminal plus recent terminal requests by status.
func (r *Repository) RequestCounts(ctx context.Context) (map[string]int64, error) {
	return r.countByStatus(ctx, "SELECT status, COUNT(*) FROM requests GROUP BY status")
}

// PurchaseCounts groups purchases by status.
func (r *Repository) PurchaseCounts(ctx context.Context) (map[string]int64, error) {
	return r.countByStatus(ctx, "SELECT status, COUNT(*) FROM purchases GROUP BY status")
}

// TransitsInFlight counts undelivered transit records.
func (r *Repository) TransitsInFlight(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM transits WHERE status = 'in_transit'").Scan(&n)
	return n, err
}

func (r *Repository) countByStatus(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}
