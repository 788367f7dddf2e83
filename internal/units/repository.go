package units

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-erp/larder-erp/internal/platform/db"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Repository persists units and conversion edges in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertUnit(ctx context.Context, unit Unit) (int64, error)
	UpdateUnit(ctx context.Context, id int64, name, description string, now time.Time) error
	SoftDeleteUnit(ctx context.Context, id int64, now time.Time) error
	ListLiveEdgesFrom(ctx context.Context, unitID int64) ([]ConversionEdge, error)
	FindLiveEdge(ctx context.Context, fromUnitID, toUnitID int64) (ConversionEdge, error)
	InsertEdge(ctx context.Context, edge ConversionEdge) (int64, error)
	UpdateEdge(ctx context.Context, id int64, rate float64, description string, now time.Time) error
	SoftDeleteEdge(ctx context.Context, id int64, now time.Time) error
	SoftDeleteEdgesTouching(ctx context.Context, unitID int64, now time.Time) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	q querier
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("units: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns live units with an optional name search, newest last.
func (r *Repository) List(ctx context.Context, filters shared.ListFilters, includeConversions bool) ([]Unit, int, error) {
	query := `SELECT id, name, description, created_by, created_at, updated_at FROM units WHERE deleted_at IS NULL`
	countQuery := `SELECT COUNT(*) FROM units WHERE deleted_at IS NULL`
	args := []any{}
	if filters.Search != "" {
		query += ` AND name ILIKE $1`
		countQuery += ` AND name ILIKE $1`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name ASC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if includeConversions {
		for i := range units {
			edges, err := listLiveEdgesFrom(ctx, r.pool, units[i].ID)
			if err != nil {
				return nil, 0, err
			}
			units[i].Conversions = edges
		}
	}
	return units, total, nil
}

// Get returns one live unit including its live outgoing edges.
func (r *Repository) Get(ctx context.Context, id int64) (Unit, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, description, created_by, created_at, updated_at FROM units WHERE id = $1 AND deleted_at IS NULL`, id)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, shared.ErrNotFound
		}
		return Unit{}, err
	}
	edges, err := listLiveEdgesFrom(ctx, r.pool, id)
	if err != nil {
		return Unit{}, err
	}
	u.Conversions = edges
	return u, nil
}

// FindByName matches live units by exact name.
func (r *Repository) FindByName(ctx context.Context, name string) (Unit, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, description, created_by, created_at, updated_at FROM units WHERE name = $1 AND deleted_at IS NULL`, name)
	u, err := scanUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, shared.ErrNotFound
		}
		return Unit{}, err
	}
	return u, nil
}

// CountMaterialsUsingUnit counts live materials whose base unit is unitID.
func (r *Repository) CountMaterialsUsingUnit(ctx context.Context, unitID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials WHERE base_unit_id = $1 AND deleted_at IS NULL`, unitID).Scan(&n)
	return n, err
}

// FindLiveEdge implements EdgeFinder for the resolver outside a transaction.
func (r *Repository) FindLiveEdge(ctx context.Context, fromUnitID, toUnitID int64) (ConversionEdge, error) {
	return findLiveEdge(ctx, r.pool, fromUnitID, toUnitID)
}

func (t *txRepo) InsertUnit(ctx context.Context, unit Unit) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO units (name, description, created_by, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		unit.Name, unit.Description, db.NullInt(unit.CreatedBy), unit.CreatedAt, unit.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, db.TranslateUnique(err, "unit", "name already in use")
	}
	return id, nil
}

func (t *txRepo) UpdateUnit(ctx context.Context, id int64, name, description string, now time.Time) error {
	_, err := t.q.Exec(ctx,
		`UPDATE units SET name = $1, description = $2, updated_at = $3 WHERE id = $4 AND deleted_at IS NULL`,
		name, description, now, id,
	)
	return db.TranslateUnique(err, "unit", "name already in use")
}

func (t *txRepo) SoftDeleteUnit(ctx context.Context, id int64, now time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE units SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	return err
}

func (t *txRepo) ListLiveEdgesFrom(ctx context.Context, unitID int64) ([]ConversionEdge, error) {
	return listLiveEdgesFrom(ctx, t.q, unitID)
}

func (t *txRepo) FindLiveEdge(ctx context.Context, fromUnitID, toUnitID int64) (ConversionEdge, error) {
	return findLiveEdge(ctx, t.q, fromUnitID, toUnitID)
}

func (t *txRepo) InsertEdge(ctx context.Context, edge ConversionEdge) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO unit_conversions (from_unit_id, to_unit_id, rate, description, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		edge.FromUnitID, edge.ToUnitID, db.FloatToNumeric(edge.Rate), edge.Description, edge.CreatedAt, edge.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateEdge(ctx context.Context, id int64, rate float64, description string, now time.Time) error {
	_, err := t.q.Exec(ctx,
		`UPDATE unit_conversions SET rate = $1, description = $2, updated_at = $3 WHERE id = $4 AND deleted_at IS NULL`,
		db.FloatToNumeric(rate), description, now, id,
	)
	return err
}

func (t *txRepo) SoftDeleteEdge(ctx context.Context, id int64, now time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE unit_conversions SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	return err
}

func (t *txRepo) SoftDeleteEdgesTouching(ctx context.Context, unitID int64, now time.Time) error {
	_, err := t.q.Exec(ctx,
		`UPDATE unit_conversions SET deleted_at = $1, updated_at = $1 WHERE (from_unit_id = $2 OR to_unit_id = $2) AND deleted_at IS NULL`,
		now, unitID,
	)
	return err
}

func listLiveEdgesFrom(ctx context.Context, q querier, unitID int64) ([]ConversionEdge, error) {
	rows, err := q.Query(ctx,
		`SELECT id, from_unit_id, to_unit_id, rate, description, created_at, updated_at FROM unit_conversions WHERE from_unit_id = $1 AND deleted_at IS NULL ORDER BY id`,
		unitID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []ConversionEdge
	for rows.Next() {
		var e ConversionEdge
		var rate pgtype.Numeric
		var createdAt, updatedAt pgtype.Timestamptz
		if err := rows.Scan(&e.ID, &e.FromUnitID, &e.ToUnitID, &rate, &e.Description, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Rate = db.NumericToFloat(rate)
		e.CreatedAt = createdAt.Time
		e.UpdatedAt = updatedAt.Time
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func findLiveEdge(ctx context.Context, q querier, fromUnitID, toUnitID int64) (ConversionEdge, error) {
	var e ConversionEdge
	var rate pgtype.Numeric
	var createdAt, updatedAt pgtype.Timestamptz
	err := q.QueryRow(ctx,
		`SELECT id, from_unit_id, to_unit_id, rate, description, created_at, updated_at FROM unit_conversions WHERE from_unit_id = $1 AND to_unit_id = $2 AND deleted_at IS NULL`,
		fromUnitID, toUnitID,
	).Scan(&e.ID, &e.FromUnitID, &e.ToUnitID, &rate, &e.Description, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConversionEdge{}, shared.ErrNotFound
		}
		return ConversionEdge{}, err
	}
	e.Rate = db.NumericToFloat(rate)
	e.CreatedAt = createdAt.Time
	e.UpdatedAt = updatedAt.Time
	return e, nil
}

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	var description pgtype.Text
	var createdBy pgtype.Int8
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&u.ID, &u.Name, &description, &createdBy, &createdAt, &updatedAt); err != nil {
		return Unit{}, err
	}
	u.Description = description.String
	u.CreatedBy = createdBy.Int64
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	return u, nil
}
