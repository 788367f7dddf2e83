package inventory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-erp/larder-erp/internal/platform/db"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Repository reads the inventory ledger from postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const inventoryColumns = `id, material_id, COALESCE(warehouse_id, 0), current_stock, last_updated, created_at, updated_at`

// List returns live ledger rows plus the total count.
func (r *Repository) List(ctx context.Context, filters Filters) ([]Inventory, int, error) {
	where := `deleted_at IS NULL`
	args := []any{}
	if filters.MaterialID > 0 {
		args = append(args, filters.MaterialID)
		where += ` AND material_id = $` + strconv.Itoa(len(args))
	}
	if filters.WarehouseID > 0 {
		args = append(args, filters.WarehouseID)
		where += ` AND warehouse_id = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE `+where+
			` ORDER BY material_id, warehouse_id LIMIT $`+strconv.Itoa(limitPos)+` OFFSET $`+strconv.Itoa(limitPos+1),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]Inventory, 0)
	for rows.Next() {
		item, err := scanInventory(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// Get returns one live ledger row.
func (r *Repository) Get(ctx context.Context, id int64) (Inventory, error) {
	return scanInventory(r.pool.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE id = $1 AND deleted_at IS NULL`, id))
}

// ListBelowMinimum joins the ledger against material minimum stock levels.
func (r *Repository) ListBelowMinimum(ctx context.Context) ([]LowStockRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.material_id, m.name, COALESCE(i.warehouse_id, 0), i.current_stock, m.minimum_stock
		 FROM inventory i
		 JOIN materials m ON m.id = i.material_id AND m.deleted_at IS NULL
		 WHERE i.deleted_at IS NULL AND m.minimum_stock > 0 AND i.current_stock < m.minimum_stock
		 ORDER BY m.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LowStockRow
	for rows.Next() {
		var row LowStockRow
		var current, minimum pgtype.Numeric
		if err := rows.Scan(&row.MaterialID, &row.MaterialName, &row.WarehouseID, &current, &minimum); err != nil {
			return nil, err
		}
		row.CurrentStock = db.NumericToFloat(current)
		row.MinimumStock = db.NumericToFloat(minimum)
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanInventory(row pgx.Row) (Inventory, error) {
	var inv Inventory
	var stock pgtype.Numeric
	err := row.Scan(&inv.ID, &inv.MaterialID, &inv.WarehouseID, &stock, &inv.LastUpdated, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, shared.ErrNotFound
		}
		return Inventory{}, err
	}
	inv.CurrentStock = db.NumericToFloat(stock)
	return inv, nil
}
