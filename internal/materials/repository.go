package materials

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-erp/larder-erp/internal/platform/db"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Repository persists materials in postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const materialColumns = `id, code, name, description, base_unit_id, minimum_stock, unit_price, created_by, created_at, updated_at`

// List returns live materials matching the filters plus the total count.
func (r *Repository) List(ctx context.Context, filters shared.ListFilters) ([]Material, int, error) {
	where := `deleted_at IS NULL`
	args := []any{}
	if filters.Search != "" {
		where += ` AND (name ILIKE $1 OR code ILIKE $1)`
		args = append(args, "%"+strings.TrimSpace(filters.Search)+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+materialColumns+` FROM materials WHERE `+where+
			` ORDER BY name ASC LIMIT $`+strconv.Itoa(limitPos)+` OFFSET $`+strconv.Itoa(limitPos+1),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	materials := make([]Material, 0)
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, err
		}
		materials = append(materials, m)
	}
	return materials, total, rows.Err()
}

// Get returns one live material.
func (r *Repository) Get(ctx context.Context, id int64) (Material, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanMaterial(row)
}

// FindByName returns the live material with the given name.
func (r *Repository) FindByName(ctx context.Context, name string) (Material, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE lower(name) = lower($1) AND deleted_at IS NULL`, strings.TrimSpace(name))
	return scanMaterial(row)
}

// Create inserts the material and stamps its code with the assigned ID.
func (r *Repository) Create(ctx context.Context, material Material) (Material, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Material{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO materials (code, name, description, base_unit_id, minimum_stock, unit_price, created_by, created_at, updated_at)
		 VALUES ('', $1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		material.Name, material.Description, material.BaseUnitID,
		db.FloatToNumeric(material.MinimumStock), db.FloatToNumeric(material.UnitPrice),
		db.NullInt(material.CreatedBy), material.CreatedAt,
	).Scan(&id)
	if err != nil {
		return Material{}, db.TranslateUnique(err, "material", "name already exists")
	}

	code := strconv.FormatInt(id, 10)
	if _, err := tx.Exec(ctx, `UPDATE materials SET code = $1 WHERE id = $2`, code, id); err != nil {
		return Material{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Material{}, err
	}

	material.ID = id
	material.Code = code
	return material, nil
}

// Update mutates a live material in place.
func (r *Repository) Update(ctx context.Context, id int64, material Material) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE materials SET name = $1, description = $2, base_unit_id = $3, minimum_stock = $4, unit_price = $5, updated_at = $6
		 WHERE id = $7 AND deleted_at IS NULL`,
		material.Name, material.Description, material.BaseUnitID,
		db.FloatToNumeric(material.MinimumStock), db.FloatToNumeric(material.UnitPrice),
		material.UpdatedAt, id)
	if err != nil {
		return db.TranslateUnique(err, "material", "name already exists")
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SoftDelete marks the material deleted.
func (r *Repository) SoftDelete(ctx context.Context, id int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE materials SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanMaterial(row pgx.Row) (Material, error) {
	var (
		m         Material
		minStock  pgtype.Numeric
		unitPrice pgtype.Numeric
		createdBy pgtype.Int8
	)
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Description, &m.BaseUnitID, &minStock, &unitPrice, &createdBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Material{}, shared.ErrNotFound
		}
		return Material{}, err
	}
	m.MinimumStock = db.NumericToFloat(minStock)
	m.UnitPrice = db.NumericToFloat(unitPrice)
	m.CreatedBy = createdBy.Int64
	return m, nil
}
