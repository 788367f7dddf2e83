package recipes

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-erp/larder-erp/internal/materials"
	"github.com/larder-erp/larder-erp/internal/shared"
	"github.com/larder-erp/larder-erp/internal/units"
)

type memoryRepo struct {
	nextRecipeID int64
	nextDetailID int64
	recipes      map[int64]*Recipe
	details      map[int64]*RecipeDetail
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextRecipeID: 1, nextDetailID: 1, recipes: map[int64]*Recipe{}, details: map[int64]*RecipeDetail{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) List(_ context.Context, _ shared.ListFilters) ([]Summary, int, error) {
	var out []Summary
	for _, r := range m.recipes {
		if r.DeletedAt != nil {
			continue
		}
		out = append(out, Summary{ID: r.ID, Name: r.Name, OutputUnitID: r.OutputUnitID, PreparationTime: r.PreparationTime, UpdatedAt: r.UpdatedAt})
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (Recipe, error) {
	r, ok := m.recipes[id]
	if !ok || r.DeletedAt != nil {
		return Recipe{}, shared.ErrNotFound
	}
	copied := *r
	details, _ := m.ListLiveDetails(ctx, id)
	copied.Details = details
	return copied, nil
}

func (m *memoryRepo) FindByName(_ context.Context, name string) (Recipe, error) {
	for _, r := range m.recipes {
		if r.DeletedAt == nil && strings.EqualFold(r.Name, strings.TrimSpace(name)) {
			return *r, nil
		}
	}
	return Recipe{}, shared.ErrNotFound
}

func (m *memoryRepo) InsertRecipe(_ context.Context, recipe Recipe) (int64, error) {
	recipe.ID = m.nextRecipeID
	m.nextRecipeID++
	m.recipes[recipe.ID] = &recipe
	return recipe.ID, nil
}

func (m *memoryRepo) UpdateRecipe(_ context.Context, recipe Recipe) error {
	existing, ok := m.recipes[recipe.ID]
	if !ok || existing.DeletedAt != nil {
		return shared.ErrNotFound
	}
	recipe.Details = nil
	m.recipes[recipe.ID] = &recipe
	return nil
}

func (m *memoryRepo) SoftDeleteRecipe(_ context.Context, id int64, now time.Time) error {
	if r, ok := m.recipes[id]; ok {
		r.DeletedAt = &now
	}
	return nil
}

func (m *memoryRepo) ListLiveDetails(_ context.Context, recipeID int64) ([]RecipeDetail, error) {
	var out []RecipeDetail
	for _, d := range m.details {
		if d.RecipeID == recipeID && d.DeletedAt == nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) InsertDetail(_ context.Context, detail RecipeDetail) (int64, error) {
	detail.ID = m.nextDetailID
	m.nextDetailID++
	m.details[detail.ID] = &detail
	return detail.ID, nil
}

func (m *memoryRepo) UpdateDetail(_ context.Context, detail RecipeDetail) error {
	existing, ok := m.details[detail.ID]
	if !ok || existing.DeletedAt != nil {
		return shared.ErrNotFound
	}
	detail.RecipeID = existing.RecipeID
	detail.CreatedAt = existing.CreatedAt
	m.details[detail.ID] = &detail
	return nil
}

func (m *memoryRepo) SoftDeleteDetail(_ context.Context, id int64, now time.Time) error {
	if d, ok := m.details[id]; ok {
		d.DeletedAt = &now
	}
	return nil
}

type memoryCatalog struct {
	materials map[int64]materials.Material
}

func (m *memoryCatalog) Get(_ context.Context, id int64) (materials.Material, error) {
	mat, ok := m.materials[id]
	if !ok {
		return materials.Material{}, shared.ErrNotFound
	}
	return mat, nil
}

type memoryUnits struct {
	ids map[int64]bool
}

func (m *memoryUnits) Get(_ context.Context, id int64) (units.Unit, error) {
	if !m.ids[id] {
		return units.Unit{}, shared.ErrNotFound
	}
	return units.Unit{ID: id}, nil
}

// mapResolver resolves identity plus configured directed rates with the
// reciprocal fallback.
type mapResolver struct {
	rates map[[2]int64]float64
}

func (m *mapResolver) Resolve(_ context.Context, from, to int64) (float64, error) {
	if from == to {
		return 1, nil
	}
	if rate, ok := m.rates[[2]int64{from, to}]; ok {
		return rate, nil
	}
	if rate, ok := m.rates[[2]int64{to, from}]; ok && rate != 0 {
		return 1 / rate, nil
	}
	return 0, units.ErrNotConvertible
}

// Fixture: unit 1 = kg, unit 2 = g (1000 g per kg), unit 3 = litre (isolated).
// Material 1 = flour (base kg, 2.50/kg), material 2 = oil (base litre, 8/l).
func newFixture(repo *memoryRepo) *Service {
	catalog := &memoryCatalog{materials: map[int64]materials.Material{
		1: {ID: 1, Name: "Flour", BaseUnitID: 1, UnitPrice: 2.5},
		2: {ID: 2, Name: "Oil", BaseUnitID: 3, UnitPrice: 8},
	}}
	registry := &memoryUnits{ids: map[int64]bool{1: true, 2: true, 3: true}}
	resolver := &mapResolver{rates: map[[2]int64]float64{
		{2, 1}: 0.001,
	}}
	svc := NewService(repo, catalog, registry, resolver, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestCreateComputesCostAcrossConversions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newFixture(repo)

	created, err := svc.Create(context.Background(), SaveRecipeInput{
		Name:         "Bread",
		OutputUnitID: 1,
		Details: []DetailInput{
			{MaterialID: 1, UnitID: 2, Quantity: 500}, // 500 g flour = 0.5 kg
			{MaterialID: 2, UnitID: 3, Quantity: 0.1}, // 0.1 l oil
		},
	})
	require.NoError(t, err)
	require.Len(t, created.Details, 2)

	_, cost, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, cost.Lines, 2)

	// 0.5 kg * 2.50 + 0.1 l * 8 = 1.25 + 0.80
	assert.InDelta(t, 1.25, cost.Lines[0].LineCost, 1e-9)
	assert.InDelta(t, 0.8, cost.Lines[1].LineCost, 1e-9)
	assert.InDelta(t, 2.05, cost.Total, 1e-9)
}

func TestCreateRejectsUnresolvableLine(t *testing.T) {
	svc := newFixture(newMemoryRepo())

	_, err := svc.Create(context.Background(), SaveRecipeInput{
		Name:         "Bread",
		OutputUnitID: 1,
		Details: []DetailInput{
			{MaterialID: 1, UnitID: 3, Quantity: 1}, // litres of flour: no kg<->l edge
		},
	})
	require.Error(t, err)

	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "details[0].unit_id", vErr.Fields[0].Field)
}

func TestCreateRequiresDetails(t *testing.T) {
	svc := newFixture(newMemoryRepo())

	_, err := svc.Create(context.Background(), SaveRecipeInput{Name: "Bread", OutputUnitID: 1})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	repo := newMemoryRepo()
	svc := newFixture(repo)

	input := SaveRecipeInput{
		Name:         "Bread",
		OutputUnitID: 1,
		Details:      []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 1}},
	}
	_, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	input.Name = " bread "
	_, err = svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestPreviewCostPersistsNothing(t *testing.T) {
	repo := newMemoryRepo()
	svc := newFixture(repo)

	cost, err := svc.PreviewCost(context.Background(), SaveRecipeInput{
		Name:         "Draft Bread",
		OutputUnitID: 1,
		Details:      []DetailInput{{MaterialID: 1, UnitID: 2, Quantity: 1000}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, cost.Total, 1e-9)

	assert.Empty(t, repo.recipes)
	assert.Empty(t, repo.details)
}

func TestUpdateReconcilesDetails(t *testing.T) {
	repo := newMemoryRepo()
	svc := newFixture(repo)

	created, err := svc.Create(context.Background(), SaveRecipeInput{
		Name:         "Bread",
		OutputUnitID: 1,
		Details: []DetailInput{
			{MaterialID: 1, UnitID: 2, Quantity: 500},
			{MaterialID: 2, UnitID: 3, Quantity: 0.1},
		},
	})
	require.NoError(t, err)
	keep := created.Details[0]
	drop := created.Details[1]

	updated, err := svc.Update(context.Background(), created.ID, SaveRecipeInput{
		Name:         "Bread",
		OutputUnitID: 1,
		Details: []DetailInput{
			{ID: keep.ID, MaterialID: 1, UnitID: 2, Quantity: 750}, // mutate in place
			{MaterialID: 2, UnitID: 3, Quantity: 0.2},              // new row
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Details, 2)

	// kept row retains its identity with the new quantity
	var found bool
	for _, d := range updated.Details {
		if d.ID == keep.ID {
			found = true
			assert.InDelta(t, 750, d.Quantity, 1e-9)
		}
		assert.NotEqual(t, drop.ID, d.ID)
	}
	assert.True(t, found)

	// dropped row is soft-deleted, not gone
	raw := repo.details[drop.ID]
	require.NotNil(t, raw)
	assert.NotNil(t, raw.DeletedAt)
}

func TestDeleteHidesRecipe(t *testing.T) {
	repo := newMemoryRepo()
	svc := newFixture(repo)

	created, err := svc.Create(context.Background(), SaveRecipeInput{
		Name:         "Bread",
		OutputUnitID: 1,
		Details:      []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID, 0))
	_, _, err = svc.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
