package recipes

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

	"github.com/larder-erp/larder-erp/internal/platform/db"
	"github.com/larder-erp/larder-erp/internal/shared"
)

// Repository persists recipes and their details in postgres.
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

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("recipes: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &txRepo{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// List returns live recipe summaries plus the total count.
func (r *Repository) List(ctx context.Context, filters shared.ListFilters) ([]Summary, int, error) {
	where := `r.deleted_at IS NULL`
	args := []any{}
	if filters.Search != "" {
		where += ` AND r.name ILIKE $1`
		args = append(args, "%"+strings.TrimSpace(filters.Search)+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recipes r WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	args = append(args, filters.Limit, filters.Offset)
	rows, err := r.pool.Query(ctx,
		`SELECT r.id, r.name, r.output_unit_id, r.preparation_time, r.updated_at,
		        (SELECT COUNT(*) FROM recipe_details d WHERE d.recipe_id = r.id AND d.deleted_at IS NULL)
		 FROM recipes r WHERE `+where+
			` ORDER BY r.name ASC LIMIT $`+strconv.Itoa(limitPos)+` OFFSET $`+strconv.Itoa(limitPos+1),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.OutputUnitID, &s.PreparationTime, &s.UpdatedAt, &s.DetailCount); err != nil {
			return nil, 0, err
		}
		summaries = append(summaries, s)
	}
	return summaries, total, rows.Err()
}

// Get returns one live recipe with its live details.
func (r *Repository) Get(ctx context.Context, id int64) (Recipe, error) {
	recipe, err := scanRecipe(r.pool.QueryRow(ctx,
		`SELECT id, name, description, output_unit_id, preparation_time, created_by, created_at, updated_at
		 FROM recipes WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return Recipe{}, err
	}
	details, err := listLiveDetails(ctx, r.pool, id)
	if err != nil {
		return Recipe{}, err
	}
	recipe.Details = details
	return recipe, nil
}

// FindByName matches live recipes by name, case-insensitively.
func (r *Repository) FindByName(ctx context.Context, name string) (Recipe, error) {
	return scanRecipe(r.pool.QueryRow(ctx,
		`SELECT id, name, description, output_unit_id, preparation_time, created_by, created_at, updated_at
		 FROM recipes WHERE lower(name) = lower($1) AND deleted_at IS NULL`, strings.TrimSpace(name)))
}

func (t *txRepo) InsertRecipe(ctx context.Context, recipe Recipe) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO recipes (name, description, output_unit_id, preparation_time, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		recipe.Name, recipe.Description, recipe.OutputUnitID, recipe.PreparationTime,
		db.NullInt(recipe.CreatedBy), recipe.CreatedAt, recipe.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, db.TranslateUnique(err, "recipe", "name already exists")
	}
	return id, nil
}

func (t *txRepo) UpdateRecipe(ctx context.Context, recipe Recipe) error {
	_, err := t.q.Exec(ctx,
		`UPDATE recipes SET name = $1, description = $2, output_unit_id = $3, preparation_time = $4, updated_at = $5
		 WHERE id = $6 AND deleted_at IS NULL`,
		recipe.Name, recipe.Description, recipe.OutputUnitID, recipe.PreparationTime, recipe.UpdatedAt, recipe.ID,
	)
	return db.TranslateUnique(err, "recipe", "name already exists")
}

func (t *txRepo) SoftDeleteRecipe(ctx context.Context, id int64, now time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE recipes SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	return err
}

func (t *txRepo) ListLiveDetails(ctx context.Context, recipeID int64) ([]RecipeDetail, error) {
	return listLiveDetails(ctx, t.q, recipeID)
}

func (t *txRepo) InsertDetail(ctx context.Context, detail RecipeDetail) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx,
		`INSERT INTO recipe_details (recipe_id, material_id, unit_id, quantity, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		detail.RecipeID, detail.MaterialID, detail.UnitID, db.FloatToNumeric(detail.Quantity), detail.CreatedAt, detail.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateDetail(ctx context.Context, detail RecipeDetail) error {
	_, err := t.q.Exec(ctx,
		`UPDATE recipe_details SET material_id = $1, unit_id = $2, quantity = $3, updated_at = $4
		 WHERE id = $5 AND deleted_at IS NULL`,
		detail.MaterialID, detail.UnitID, db.FloatToNumeric(detail.Quantity), detail.UpdatedAt, detail.ID,
	)
	return err
}

func (t *txRepo) SoftDeleteDetail(ctx context.Context, id int64, now time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE recipe_details SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`, now, id)
	return err
}

func listLiveDetails(ctx context.Context, q querier, recipeID int64) ([]RecipeDetail, error) {
	rows, err := q.Query(ctx,
		`SELECT id, recipe_id, material_id, unit_id, quantity, created_at, updated_at
		 FROM recipe_details WHERE recipe_id = $1 AND deleted_at IS NULL ORDER BY id`, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []RecipeDetail
	for rows.Next() {
		var d RecipeDetail
		var quantity pgtype.Numeric
		if err := rows.Scan(&d.ID, &d.RecipeID, &d.MaterialID, &d.UnitID, &quantity, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Quantity = db.NumericToFloat(quantity)
		details = append(details, d)
	}
	return details, rows.Err()
}

func scanRecipe(row pgx.Row) (Recipe, error) {
	var (
		r           Recipe
		description pgtype.Text
		createdBy   pgtype.Int8
	)
	err := row.Scan(&r.ID, &r.Name, &description, &r.OutputUnitID, &r.PreparationTime, &createdBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, shared.ErrNotFound
		}
		return Recipe{}, err
	}
	r.Description = description.String
	r.CreatedBy = createdBy.Int64
	return r, nil
}
