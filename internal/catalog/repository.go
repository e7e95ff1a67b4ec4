package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Tecnologia-odonto/SupplyArt-sub001/internal/shared"
)

// Repository abstracts catalog persistence.
type Repository interface {
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	GetItemsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Item, error)
	InsertItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, item Item) error
	SetItemActive(ctx context.Context, id uuid.UUID, active bool) error

	ListUnits(ctx context.Context, filter UnitFilter) ([]OrgUnit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (OrgUnit, error)
	InsertUnit(ctx context.Context, unit OrgUnit) error
	UpdateUnit(ctx context.Context, unit OrgUnit) error
	SetUnitActive(ctx context.Context, id uuid.UUID, active bool) error

	ListSuppliers(ctx context.Context, onlyActive bool) ([]Supplier, error)
	GetSupplier(ctx context.Context, id uuid.UUID) (Supplier, error)
	InsertSupplier(ctx context.Context, supplier Supplier) error
	UpdateSupplier(ctx context.Context, supplier Supplier) error
	SetSupplierActive(ctx context.Context, id uuid.UUID, active bool) error
}

type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a catalog repository backed by PostgreSQL.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repo{db: db}
}

const itemColumns = `id, code, name, unit_measure, category, description, active, created_at, updated_at`

func (r *repo) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	var clauses []string
	var args []any
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		clauses = append(clauses, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args), len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.UnitMeasure, &it.Category, &it.Description, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repo) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	var it Item
	err := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Code, &it.Name, &it.UnitMeasure, &it.Category, &it.Description, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	return it, err
}

func (r *repo) GetItemsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Item, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Item{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Item, len(ids))
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.UnitMeasure, &it.Category, &it.Description, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

func (r *repo) InsertItem(ctx context.Context, item Item) error {
	_, err := r.db.Exec(ctx, `INSERT INTO items (id, code, name, unit_measure, category, description, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.Code, item.Name, item.UnitMeasure, item.Category, item.Description, item.Active, item.CreatedAt, item.UpdatedAt)
	return mapUnique(err)
}

func (r *repo) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.db.Exec(ctx, `UPDATE items SET code=$2, name=$3, unit_measure=$4, category=$5, description=$6, updated_at=$7 WHERE id=$1`,
		item.ID, item.Code, item.Name, item.UnitMeasure, item.Category, item.Description, item.UpdatedAt)
	if err != nil {
		return mapUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s", shared.ErrNotFound, item.ID)
	}
	return nil
}

func (r *repo) SetItemActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE items SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %s", shared.ErrNotFound, id)
	}
	return nil
}

const unitColumns = `id, code, name, address, is_cd, cd_id, active, created_at, updated_at`

func (r *repo) ListUnits(ctx context.Context, filter UnitFilter) ([]OrgUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM org_units`
	var clauses []string
	var args []any
	if filter.IsCD != nil {
		args = append(args, *filter.IsCD)
		clauses = append(clauses, fmt.Sprintf("is_cd = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []OrgUnit
	for rows.Next() {
		var u OrgUnit
		if err := rows.Scan(&u.ID, &u.Code, &u.Name, &u.Address, &u.IsCD, &u.CDID, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *repo) GetUnit(ctx context.Context, id uuid.UUID) (OrgUnit, error) {
	var u OrgUnit
	err := r.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM org_units WHERE id = $1`, id).
		Scan(&u.ID, &u.Code, &u.Name, &u.Address, &u.IsCD, &u.CDID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrgUnit{}, fmt.Errorf("%w: unit %s", shared.ErrNotFound, id)
	}
	return u, err
}

func (r *repo) InsertUnit(ctx context.Context, unit OrgUnit) error {
	_, err := r.db.Exec(ctx, `INSERT INTO org_units (id, code, name, address, is_cd, cd_id, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		unit.ID, unit.Code, unit.Name, unit.Address, unit.IsCD, unit.CDID, unit.Active, unit.CreatedAt, unit.UpdatedAt)
	return mapUnique(err)
}

func (r *repo) UpdateUnit(ctx context.Context, unit OrgUnit) error {
	tag, err := r.db.Exec(ctx, `UPDATE org_units SET code=$2, name=$3, address=$4, cd_id=$5, updated_at=$6 WHERE id=$1`,
		unit.ID, unit.Code, unit.Name, unit.Address, unit.CDID, unit.UpdatedAt)
	if err != nil {
		return mapUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %s", shared.ErrNotFound, unit.ID)
	}
	return nil
}

func (r *repo) SetUnitActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE org_units SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: unit %s", shared.ErrNotFound, id)
	}
	return nil
}

const supplierColumns = `id, name, cnpj, email, phone, address, active, created_at, updated_at`

func (r *repo) ListSuppliers(ctx context.Context, onlyActive bool) ([]Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers`
	if onlyActive {
		query += ` WHERE active`
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.CNPJ, &s.Email, &s.Phone, &s.Address, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *repo) GetSupplier(ctx context.Context, id uuid.UUID) (Supplier, error) {
	var s Supplier
	err := r.db.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.CNPJ, &s.Email, &s.Phone, &s.Address, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("%w: supplier %s", shared.ErrNotFound, id)
	}
	return s, err
}

func (r *repo) InsertSupplier(ctx context.Context, supplier Supplier) error {
	_, err := r.db.Exec(ctx, `INSERT INTO suppliers (id, name, cnpj, email, phone, address, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		supplier.ID, supplier.Name, supplier.CNPJ, supplier.Email, supplier.Phone, supplier.Address, supplier.Active, supplier.CreatedAt, supplier.UpdatedAt)
	return mapUnique(err)
}

func (r *repo) UpdateSupplier(ctx context.Context, supplier Supplier) error {
	tag, err := r.db.Exec(ctx, `UPDATE suppliers SET name=$2, cnpj=$3, email=$4, phone=$5, address=$6, updated_at=$7 WHERE id=$1`,
		supplier.ID, supplier.Name, supplier.CNPJ, supplier.Email, supplier.Phone, supplier.Address, supplier.UpdatedAt)
	if err != nil {
		return mapUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: supplier %s", shared.ErrNotFound, supplier.ID)
	}
	return nil
}

func (r *repo) SetSupplierActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE suppliers SET active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: supplier %s", shared.ErrNotFound, id)
	}
	return nil
}

// mapUnique converts unique violations into the conflict taxonomy.
func mapUnique(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %v", shared.ErrConflict, ErrCodeTaken)
	}
	return err
}
