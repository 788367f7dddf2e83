package recipes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/larder-erp/larder-erp/internal/materials"
	"github.com/larder-erp/larder-erp/internal/platform/cache"
	"github.com/larder-erp/larder-erp/internal/shared"
	"github.com/larder-erp/larder-erp/internal/units"
)

// RepositoryPort abstracts recipe persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters shared.ListFilters) ([]Summary, int, error)
	Get(ctx context.Context, id int64) (Recipe, error)
	FindByName(ctx context.Context, name string) (Recipe, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	InsertRecipe(ctx context.Context, recipe Recipe) (int64, error)
	UpdateRecipe(ctx context.Context, recipe Recipe) error
	SoftDeleteRecipe(ctx context.Context, id int64, now time.Time) error
	ListLiveDetails(ctx context.Context, recipeID int64) ([]RecipeDetail, error)
	InsertDetail(ctx context.Context, detail RecipeDetail) (int64, error)
	UpdateDetail(ctx context.Context, detail RecipeDetail) error
	SoftDeleteDetail(ctx context.Context, id int64, now time.Time) error
}

// MaterialCatalog resolves materials referenced by recipe details.
type MaterialCatalog interface {
	Get(ctx context.Context, id int64) (materials.Material, error)
}

// UnitRegistry resolves unit existence.
type UnitRegistry interface {
	Get(ctx context.Context, id int64) (units.Unit, error)
}

// ConversionResolver converts between units.
type ConversionResolver interface {
	Resolve(ctx context.Context, fromUnitID, toUnitID int64) (float64, error)
}

// DetailInput is one requested recipe line.
type DetailInput struct {
	ID         int64
	MaterialID int64
	UnitID     int64
	Quantity   float64
}

// SaveRecipeInput describes a recipe create or update request.
type SaveRecipeInput struct {
	Name            string
	Description     string
	OutputUnitID    int64
	PreparationTime int
	Details         []DetailInput
	ActorID         int64
}

// Service owns recipes and their derived costs.
type Service struct {
	repo      RepositoryPort
	materials MaterialCatalog
	units     UnitRegistry
	resolver  ConversionResolver
	listCache *cache.Versioned
	costGroup singleflight.Group
	audit     shared.AuditPort
	now       func() time.Time
}

// NewService builds the Service. listCache may be nil, which disables listing
// caching without changing behaviour.
func NewService(repo RepositoryPort, catalog MaterialCatalog, unitRegistry UnitRegistry, resolver ConversionResolver, listCache *cache.Versioned, audit shared.AuditPort) *Service {
	return &Service{
		repo:      repo,
		materials: catalog,
		units:     unitRegistry,
		resolver:  resolver,
		listCache: listCache,
		audit:     audit,
		now:       time.Now,
	}
}

type listResult struct {
	Summaries []Summary `json:"summaries"`
	Total     int       `json:"total"`
}

// List returns live recipe summaries, cached per filter combination until the
// next recipe mutation bumps the cache version.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Summary, int, error) {
	filters = filters.Normalize()
	key, err := s.listCache.BuildKey(ctx, "recipes", "list", filters.Search, fmt.Sprintf("%d:%d", filters.Limit, filters.Offset))
	if err != nil {
		return nil, 0, err
	}
	var result listResult
	err = s.listCache.FetchJSON(ctx, key, &result, func(ctx context.Context) (interface{}, error) {
		summaries, total, err := s.repo.List(ctx, filters)
		if err != nil {
			return nil, err
		}
		return listResult{Summaries: summaries, Total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result.Summaries, result.Total, nil
}

// Get returns one live recipe with its live details and derived cost.
func (s *Service) Get(ctx context.Context, id int64) (Recipe, CostBreakdown, error) {
	if id <= 0 {
		return Recipe{}, CostBreakdown{}, shared.ErrNotFound
	}
	recipe, err := s.repo.Get(ctx, id)
	if err != nil {
		return Recipe{}, CostBreakdown{}, err
	}
	cost, err := s.costFor(ctx, recipe)
	if err != nil {
		return Recipe{}, CostBreakdown{}, err
	}
	return recipe, cost, nil
}

// costFor computes the derived cost, collapsing concurrent requests for the
// same recipe into a single computation.
func (s *Service) costFor(ctx context.Context, recipe Recipe) (CostBreakdown, error) {
	v, err, _ := s.costGroup.Do(fmt.Sprintf("recipe:%d:%d", recipe.ID, recipe.UpdatedAt.UnixNano()), func() (interface{}, error) {
		lines := make([]DetailInput, 0, len(recipe.Details))
		for _, d := range recipe.Details {
			lines = append(lines, DetailInput{MaterialID: d.MaterialID, UnitID: d.UnitID, Quantity: d.Quantity})
		}
		return s.computeCost(ctx, lines)
	})
	if err != nil {
		return CostBreakdown{}, err
	}
	return v.(CostBreakdown), nil
}

// PreviewCost validates the request and returns the cost it would have,
// persisting nothing.
func (s *Service) PreviewCost(ctx context.Context, input SaveRecipeInput) (CostBreakdown, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, 0, input, false); err != nil {
		return CostBreakdown{}, err
	}
	return s.computeCost(ctx, input.Details)
}

// computeCost prices each line in the material's base unit using the current
// material price. A line whose unit no longer converts surfaces as a
// validation error rather than a silent zero.
func (s *Service) computeCost(ctx context.Context, details []DetailInput) (CostBreakdown, error) {
	breakdown := CostBreakdown{Lines: make([]CostLine, 0, len(details))}
	vErr := &shared.ValidationError{}
	for i, d := range details {
		material, err := s.materials.Get(ctx, d.MaterialID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				vErr.Add(fmt.Sprintf("details[%d].material_id", i), "material does not exist")
				continue
			}
			return CostBreakdown{}, err
		}
		rate, err := s.resolver.Resolve(ctx, d.UnitID, material.BaseUnitID)
		if err != nil {
			if errors.Is(err, units.ErrNotConvertible) {
				vErr.Add(fmt.Sprintf("details[%d].unit_id", i), "cannot convert the chosen unit to the material's base unit")
				continue
			}
			return CostBreakdown{}, err
		}
		converted := d.Quantity * rate
		line := CostLine{
			MaterialID:        d.MaterialID,
			MaterialName:      material.Name,
			UnitID:            d.UnitID,
			Quantity:          d.Quantity,
			Rate:              rate,
			ConvertedQuantity: converted,
			UnitPrice:         material.UnitPrice,
			LineCost:          converted * material.UnitPrice,
		}
		breakdown.Lines = append(breakdown.Lines, line)
		breakdown.Total += line.LineCost
	}
	if vErr.HasErrors() {
		return CostBreakdown{}, vErr
	}
	return breakdown, nil
}

// Create validates and persists a recipe with its details atomically.
func (s *Service) Create(ctx context.Context, input SaveRecipeInput) (Recipe, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, 0, input, true); err != nil {
		return Recipe{}, err
	}
	now := s.now().UTC()
	recipe := Recipe{
		Name:            input.Name,
		Description:     strings.TrimSpace(input.Description),
		OutputUnitID:    input.OutputUnitID,
		PreparationTime: input.PreparationTime,
		CreatedBy:       input.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertRecipe(ctx, recipe)
		if err != nil {
			return err
		}
		recipe.ID = id
		for _, d := range input.Details {
			detailID, err := tx.InsertDetail(ctx, RecipeDetail{
				RecipeID:   id,
				MaterialID: d.MaterialID,
				UnitID:     d.UnitID,
				Quantity:   d.Quantity,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			if err != nil {
				return err
			}
			recipe.Details = append(recipe.Details, RecipeDetail{
				ID: detailID, RecipeID: id, MaterialID: d.MaterialID, UnitID: d.UnitID,
				Quantity: d.Quantity, CreatedAt: now, UpdatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return Recipe{}, err
	}
	_ = s.listCache.Bump(ctx)
	s.recordAudit(ctx, input.ActorID, "RECIPE_CREATE", recipe.ID, map[string]any{"name": recipe.Name})
	return recipe, nil
}

// Update reconciles the stored details against the requested set: rows kept
// by ID mutate in place, rows absent from the request soft-delete, rows
// without an ID insert. Nothing is ever hard-deleted.
func (s *Service) Update(ctx context.Context, id int64, input SaveRecipeInput) (Recipe, error) {
	if id <= 0 {
		return Recipe{}, shared.ErrNotFound
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Recipe{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, id, input, true); err != nil {
		return Recipe{}, err
	}
	now := s.now().UTC()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing.Name = input.Name
		existing.Description = strings.TrimSpace(input.Description)
		existing.OutputUnitID = input.OutputUnitID
		existing.PreparationTime = input.PreparationTime
		existing.UpdatedAt = now
		if err := tx.UpdateRecipe(ctx, existing); err != nil {
			return err
		}

		current, err := tx.ListLiveDetails(ctx, id)
		if err != nil {
			return err
		}
		requested := make(map[int64]DetailInput)
		for _, d := range input.Details {
			if d.ID != 0 {
				requested[d.ID] = d
			}
		}
		for _, row := range current {
			if _, keep := requested[row.ID]; !keep {
				if err := tx.SoftDeleteDetail(ctx, row.ID, now); err != nil {
					return err
				}
			}
		}
		liveIDs := make(map[int64]bool, len(current))
		for _, row := range current {
			liveIDs[row.ID] = true
		}
		for _, d := range input.Details {
			if d.ID != 0 && liveIDs[d.ID] {
				if err := tx.UpdateDetail(ctx, RecipeDetail{
					ID: d.ID, RecipeID: id, MaterialID: d.MaterialID,
					UnitID: d.UnitID, Quantity: d.Quantity, UpdatedAt: now,
				}); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.InsertDetail(ctx, RecipeDetail{
				RecipeID: id, MaterialID: d.MaterialID, UnitID: d.UnitID,
				Quantity: d.Quantity, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Recipe{}, err
	}
	_ = s.listCache.Bump(ctx)
	s.recordAudit(ctx, input.ActorID, "RECIPE_UPDATE", id, map[string]any{"name": input.Name})
	return s.repo.Get(ctx, id)
}

// Delete soft-deletes the recipe; its detail rows stay untouched under it.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SoftDeleteRecipe(ctx, id, now)
	})
	if err != nil {
		return err
	}
	_ = s.listCache.Bump(ctx)
	s.recordAudit(ctx, actorID, "RECIPE_DELETE", id, nil)
	return nil
}

// validate checks the save request; uniqueName additionally enforces the
// live-name uniqueness rule, which previews skip.
func (s *Service) validate(ctx context.Context, selfID int64, input SaveRecipeInput, uniqueName bool) error {
	vErr := &shared.ValidationError{}
	if input.Name == "" {
		vErr.Add("name", "name is required")
	} else if len(input.Name) > 200 {
		vErr.Add("name", "name must be at most 200 characters")
	}
	if len(input.Description) > 1000 {
		vErr.Add("description", "description must be at most 1000 characters")
	}
	if input.PreparationTime < 0 {
		vErr.Add("preparation_time", "preparation time must not be negative")
	}
	if input.OutputUnitID <= 0 {
		vErr.Add("output_unit_id", "output unit is required")
	} else if _, err := s.units.Get(ctx, input.OutputUnitID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			vErr.Add("output_unit_id", "output unit does not exist")
		} else {
			return err
		}
	}
	if len(input.Details) == 0 {
		vErr.Add("details", "at least one detail is required")
	}
	for i, d := range input.Details {
		field := func(name string) string { return fmt.Sprintf("details[%d].%s", i, name) }
		if d.Quantity <= 0 {
			vErr.Add(field("quantity"), "quantity must be positive")
		}
		material, err := s.materials.Get(ctx, d.MaterialID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				vErr.Add(field("material_id"), "material does not exist")
				continue
			}
			return err
		}
		if _, err := s.units.Get(ctx, d.UnitID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				vErr.Add(field("unit_id"), "unit does not exist")
				continue
			}
			return err
		}
		if _, err := s.resolver.Resolve(ctx, d.UnitID, material.BaseUnitID); err != nil {
			if errors.Is(err, units.ErrNotConvertible) {
				vErr.Add(field("unit_id"), "cannot convert the chosen unit to the material's base unit")
				continue
			}
			return err
		}
	}
	if uniqueName && input.Name != "" {
		other, err := s.repo.FindByName(ctx, input.Name)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err == nil && other.ID != selfID {
			vErr.Add("name", "another recipe already uses this name")
		}
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "recipe",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
