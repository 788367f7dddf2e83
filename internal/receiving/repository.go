package receiving

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-erp/larder-erp/internal/inventory"
	"github.com/larder-erp/larder-erp/internal/platform/db"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Repository persists receiving notes, details, and the inventory deltas they
// trigger in postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	q querier
}

// WithTx executes the callback inside a repeatable-read transaction. The
// note, its details, and all inventory deltas commit together or not at all.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("receiving: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const noteColumns = `id, note_number, date, supplier_name, COALESCE(warehouse_id, 0), status, is_stock_applied, completed_at, created_by, created_at, updated_at`

// List returns live note summaries, newest first.
func (r *Repository) List(ctx context.Context, filters shared.ListFilters) ([]Summary, int, error) {
	where := `n.deleted_at IS NULL`
	args := []any{}
	if filters.Search != "" {
		where += ` AND (n.note_number ILIKE $1 OR n.supplier_name ILIKE $1)`
		args = append(args, "%"+strings.TrimSpace(filters.Search)+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM receiving_notes n WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx,
		`SELECT n.id, n.note_number, n.date, n.supplier_name, COALESCE(n.warehouse_id, 0), n.status, n.is_stock_applied, n.completed_at,
		        (SELECT COUNT(*) FROM receiving_details d WHERE d.note_id = n.id AND d.deleted_at IS NULL)
		 FROM receiving_notes n WHERE `+where+
			` ORDER BY n.date DESC, n.id DESC LIMIT $`+strconv.Itoa(limitPos)+` OFFSET $`+strconv.Itoa(limitPos+1),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var s Summary
		var supplier pgtype.Text
		var completedAt pgtype.Timestamptz
		if err := rows.Scan(&s.ID, &s.NoteNumber, &s.Date, &supplier, &s.WarehouseID, &s.Status, &s.IsStockApplied, &completedAt, &s.DetailCount); err != nil {
			return nil, 0, err
		}
		s.SupplierName = supplier.String
		if completedAt.Valid {
			t := completedAt.Time
			s.CompletedAt = &t
		}
		summaries = append(summaries, s)
	}
	return summaries, total, rows.Err()
}

// Get returns one live note with its live details.
func (r *Repository) Get(ctx context.Context, id int64) (ReceivingNote, error) {
	note, err := scanNote(r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM receiving_notes WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return ReceivingNote{}, err
	}
	details, err := listLiveDetails(ctx, r.pool, id)
	if err != nil {
		return ReceivingNote{}, err
	}
	note.Details = details
	return note, nil
}

// FindByNumber matches live notes by exact note number.
func (r *Repository) FindByNumber(ctx context.Context, number string) (ReceivingNote, error) {
	return scanNote(r.pool.QueryRow(ctx, `SELECT `+noteColumns+` FROM receiving_notes WHERE note_number = $1 AND deleted_at IS NULL`, number))
}

func (t *txRepo) InsertNote(ctx context.Context, note ReceivingNote) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO receiving_notes (note_number, date, supplier_name, warehouse_id, status, is_stock_applied, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8) RETURNING id`,
		note.NoteNumber, note.Date, note.SupplierName, db.NullInt(note.WarehouseID),
		string(note.Status), db.NullInt(note.CreatedBy), note.CreatedAt, note.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, db.TranslateUnique(err, "receiving note", "note number already in use")
	}
	return id, nil
}

func (t *txRepo) InsertDetail(ctx context.Context, detail ReceivingDetail) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO receiving_details (note_id, material_id, unit_id, quantity, unit_price, base_quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		detail.NoteID, detail.MaterialID, detail.UnitID,
		db.FloatToNumeric(detail.Quantity), db.FloatToNumeric(detail.UnitPrice), db.FloatToNumeric(detail.BaseQuantity),
		detail.CreatedAt, detail.UpdatedAt,
	).Scan(&id)
	return id, err
}

// LockNote reads the note under FOR UPDATE so concurrent completions
// serialise on its row.
func (t *txRepo) LockNote(ctx context.Context, id int64) (ReceivingNote, error) {
	return scanNote(t.q.QueryRow(ctx, `SELECT `+noteColumns+` FROM receiving_notes WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
}

func (t *txRepo) ListLiveDetails(ctx context.Context, noteID int64) ([]ReceivingDetail, error) {
	return listLiveDetails(ctx, t.q, noteID)
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status, now time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE receiving_notes SET status = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`, string(status), now, id)
	return err
}

func (t *txRepo) MarkStockApplied(ctx context.Context, id int64, completedAt time.Time) error {
	_, err := t.q.Exec(ctx,
		`UPDATE receiving_notes SET is_stock_applied = TRUE, completed_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		completedAt, id,
	)
	return err
}

// GetInventoryForUpdate locks the ledger row for the pair, if one exists.
func (t *txRepo) GetInventoryForUpdate(ctx context.Context, materialID, warehouseID int64) (inventory.Inventory, error) {
	query := `SELECT id, material_id, COALESCE(warehouse_id, 0), current_stock, last_updated, created_at, updated_at
	          FROM inventory WHERE material_id = $1 AND deleted_at IS NULL AND `
	args := []any{materialID}
	if warehouseID == 0 {
		query += `warehouse_id IS NULL`
	} else {
		query += `warehouse_id = $2`
		args = append(args, warehouseID)
	}
	query += ` FOR UPDATE`

	var inv inventory.Inventory
	var stock pgtype.Numeric
	err := t.q.QueryRow(ctx, query, args...).
		Scan(&inv.ID, &inv.MaterialID, &inv.WarehouseID, &stock, &inv.LastUpdated, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Inventory{}, shared.ErrNotFound
		}
		return inventory.Inventory{}, err
	}
	inv.CurrentStock = db.NumericToFloat(stock)
	return inv, nil
}

func (t *txRepo) InsertInventory(ctx context.Context, inv inventory.Inventory) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO inventory (material_id, warehouse_id, current_stock, last_updated, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		inv.MaterialID, db.NullInt(inv.WarehouseID), db.FloatToNumeric(inv.CurrentStock),
		inv.LastUpdated, inv.CreatedAt, inv.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) AddInventoryStock(ctx context.Context, id int64, delta float64, now time.Time) error {
	_, err := t.q.Exec(ctx,
		`UPDATE inventory SET current_stock = current_stock + $1, last_updated = $2, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`,
		db.FloatToNumeric(delta), now, id,
	)
	return err
}

func listLiveDetails(ctx context.Context, q querier, noteID int64) ([]ReceivingDetail, error) {
	rows, err := q.Query(ctx,
		`SELECT id, note_id, material_id, unit_id, quantity, unit_price, base_quantity, created_at, updated_at
		 FROM receiving_details WHERE note_id = $1 AND deleted_at IS NULL ORDER BY id`, noteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []ReceivingDetail
	for rows.Next() {
		var d ReceivingDetail
		var quantity, unitPrice, baseQuantity pgtype.Numeric
		if err := rows.Scan(&d.ID, &d.NoteID, &d.MaterialID, &d.UnitID, &quantity, &unitPrice, &baseQuantity, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Quantity = db.NumericToFloat(quantity)
		d.UnitPrice = db.NumericToFloat(unitPrice)
		d.BaseQuantity = db.NumericToFloat(baseQuantity)
		details = append(details, d)
	}
	return details, rows.Err()
}

func scanNote(row pgx.Row) (ReceivingNote, error) {
	var (
		n           ReceivingNote
		supplier    pgtype.Text
		completedAt pgtype.Timestamptz
		createdBy   pgtype.Int8
		status      string
	)
	err := row.Scan(&n.ID, &n.NoteNumber, &n.Date, &supplier, &n.WarehouseID, &status, &n.IsStockApplied, &completedAt, &createdBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReceivingNote{}, shared.ErrNotFound
		}
		return ReceivingNote{}, err
	}
	n.SupplierName = supplier.String
	n.Status = Status(status)
	n.CreatedBy = createdBy.Int64
	if completedAt.Valid {
		t := completedAt.Time
		n.CompletedAt = &t
	}
	return n, nil
}
