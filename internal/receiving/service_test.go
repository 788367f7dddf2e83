package receiving

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-erp/larder-erp/internal/inventory"
	"github.com/larder-erp/larder-erp/internal/materials"
	"github.com/larder-erp/larder-erp/internal/shared"
	"github.com/larder-erp/larder-erp/internal/units"
	"github.com/larder-erp/larder-erp/internal/warehouses"
)

// memoryRepo backs the service with maps and gives WithTx real rollback
// semantics: state is snapshotted before the callback and restored on error,
// so atomicity failures are observable.
type memoryRepo struct {
	nextNoteID      int64
	nextDetailID    int64
	nextInventoryID int64
	notes           map[int64]*ReceivingNote
	details         map[int64]*ReceivingDetail
	inventory       map[int64]*inventory.Inventory

	failInsertInventory bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextNoteID: 1, nextDetailID: 1, nextInventoryID: 1,
		notes:     map[int64]*ReceivingNote{},
		details:   map[int64]*ReceivingDetail{},
		inventory: map[int64]*inventory.Inventory{},
	}
}

func (m *memoryRepo) snapshot() (map[int64]ReceivingNote, map[int64]ReceivingDetail, map[int64]inventory.Inventory, int64, int64, int64) {
	notes := make(map[int64]ReceivingNote, len(m.notes))
	for k, v := range m.notes {
		notes[k] = *v
	}
	details := make(map[int64]ReceivingDetail, len(m.details))
	for k, v := range m.details {
		details[k] = *v
	}
	inv := make(map[int64]inventory.Inventory, len(m.inventory))
	for k, v := range m.inventory {
		inv[k] = *v
	}
	return notes, details, inv, m.nextNoteID, m.nextDetailID, m.nextInventoryID
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	notes, details, inv, nn, nd, ni := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.notes = map[int64]*ReceivingNote{}
		for k, v := range notes {
			v := v
			m.notes[k] = &v
		}
		m.details = map[int64]*ReceivingDetail{}
		for k, v := range details {
			v := v
			m.details[k] = &v
		}
		m.inventory = map[int64]*inventory.Inventory{}
		for k, v := range inv {
			v := v
			m.inventory[k] = &v
		}
		m.nextNoteID, m.nextDetailID, m.nextInventoryID = nn, nd, ni
		return err
	}
	return nil
}

func (m *memoryRepo) List(_ context.Context, _ shared.ListFilters) ([]Summary, int, error) {
	var out []Summary
	for _, n := range m.notes {
		if n.DeletedAt != nil {
			continue
		}
		out = append(out, Summary{ID: n.ID, NoteNumber: n.NoteNumber, Status: n.Status, IsStockApplied: n.IsStockApplied})
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (ReceivingNote, error) {
	n, ok := m.notes[id]
	if !ok || n.DeletedAt != nil {
		return ReceivingNote{}, shared.ErrNotFound
	}
	copied := *n
	copied.Details, _ = m.ListLiveDetails(ctx, id)
	return copied, nil
}

func (m *memoryRepo) FindByNumber(_ context.Context, number string) (ReceivingNote, error) {
	for _, n := range m.notes {
		if n.DeletedAt == nil && n.NoteNumber == number {
			return *n, nil
		}
	}
	return ReceivingNote{}, shared.ErrNotFound
}

func (m *memoryRepo) InsertNote(_ context.Context, note ReceivingNote) (int64, error) {
	note.ID = m.nextNoteID
	m.nextNoteID++
	m.notes[note.ID] = &note
	return note.ID, nil
}

func (m *memoryRepo) InsertDetail(_ context.Context, detail ReceivingDetail) (int64, error) {
	detail.ID = m.nextDetailID
	m.nextDetailID++
	m.details[detail.ID] = &detail
	return detail.ID, nil
}

func (m *memoryRepo) LockNote(_ context.Context, id int64) (ReceivingNote, error) {
	n, ok := m.notes[id]
	if !ok || n.DeletedAt != nil {
		return ReceivingNote{}, shared.ErrNotFound
	}
	return *n, nil
}

func (m *memoryRepo) ListLiveDetails(_ context.Context, noteID int64) ([]ReceivingDetail, error) {
	var out []ReceivingDetail
	for _, d := range m.details {
		if d.NoteID == noteID && d.DeletedAt == nil {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) SetStatus(_ context.Context, id int64, status Status, now time.Time) error {
	n, ok := m.notes[id]
	if !ok {
		return shared.ErrNotFound
	}
	n.Status = status
	n.UpdatedAt = now
	return nil
}

func (m *memoryRepo) MarkStockApplied(_ context.Context, id int64, completedAt time.Time) error {
	n, ok := m.notes[id]
	if !ok {
		return shared.ErrNotFound
	}
	n.IsStockApplied = true
	n.CompletedAt = &completedAt
	n.UpdatedAt = completedAt
	return nil
}

func (m *memoryRepo) GetInventoryForUpdate(_ context.Context, materialID, warehouseID int64) (inventory.Inventory, error) {
	for _, inv := range m.inventory {
		if inv.DeletedAt == nil && inv.MaterialID == materialID && inv.WarehouseID == warehouseID {
			return *inv, nil
		}
	}
	return inventory.Inventory{}, shared.ErrNotFound
}

func (m *memoryRepo) InsertInventory(_ context.Context, inv inventory.Inventory) (int64, error) {
	if m.failInsertInventory {
		return 0, errors.New("storage unavailable")
	}
	inv.ID = m.nextInventoryID
	m.nextInventoryID++
	m.inventory[inv.ID] = &inv
	return inv.ID, nil
}

func (m *memoryRepo) AddInventoryStock(_ context.Context, id int64, delta float64, now time.Time) error {
	inv, ok := m.inventory[id]
	if !ok {
		return shared.ErrNotFound
	}
	inv.CurrentStock += delta
	inv.LastUpdated = now
	inv.UpdatedAt = now
	return nil
}

func (m *memoryRepo) stockFor(materialID, warehouseID int64) (float64, bool) {
	for _, inv := range m.inventory {
		if inv.DeletedAt == nil && inv.MaterialID == materialID && inv.WarehouseID == warehouseID {
			return inv.CurrentStock, true
		}
	}
	return 0, false
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

type memoryWarehouses struct {
	ids map[int64]bool
}

func (m *memoryWarehouses) Get(_ context.Context, id int64) (warehouses.Warehouse, error) {
	if !m.ids[id] {
		return warehouses.Warehouse{}, shared.ErrNotFound
	}
	return warehouses.Warehouse{ID: id}, nil
}

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

type countingMetrics struct {
	applied int
}

func (c *countingMetrics) StockApplied() { c.applied++ }

// Fixture: unit 1 = kg, unit 2 = g, unit 3 = litre (no edges); material 1 =
// flour (base kg), material 2 = sugar (base kg); warehouse 5 exists.
func newFixture(repo *memoryRepo) (*Service, *mapResolver, *countingMetrics) {
	catalog := &memoryCatalog{materials: map[int64]materials.Material{
		1: {ID: 1, Name: "Flour", BaseUnitID: 1},
		2: {ID: 2, Name: "Sugar", BaseUnitID: 1},
	}}
	registry := &memoryUnits{ids: map[int64]bool{1: true, 2: true, 3: true}}
	wh := &memoryWarehouses{ids: map[int64]bool{5: true}}
	resolver := &mapResolver{rates: map[[2]int64]float64{{2, 1}: 0.001}}
	metrics := &countingMetrics{}
	svc := NewService(repo, catalog, registry, wh, resolver, metrics, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, resolver, metrics
}

func noteDate() time.Time {
	return time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
}

func TestCreateDraftFreezesBaseQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	note, err := svc.Create(context.Background(), CreateNoteInput{
		Date:        noteDate(),
		WarehouseID: 5,
		Status:      StatusDraft,
		Details:     []DetailInput{{MaterialID: 1, UnitID: 2, Quantity: 500, UnitPrice: 0.003}},
	})
	require.NoError(t, err)
	require.Len(t, note.Details, 1)
	assert.InDelta(t, 0.5, note.Details[0].BaseQuantity, 1e-9)
	assert.Equal(t, StatusDraft, note.Status)
	assert.False(t, note.IsStockApplied)

	_, exists := repo.stockFor(1, 5)
	assert.False(t, exists, "draft must not touch inventory")
}

func TestCreateCompletedAppliesStockInSameOperation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, metrics := newFixture(repo)

	note, err := svc.Create(context.Background(), CreateNoteInput{
		Date:        noteDate(),
		WarehouseID: 5,
		Status:      StatusCompleted,
		Details: []DetailInput{
			{MaterialID: 1, UnitID: 1, Quantity: 10, UnitPrice: 2},
			{MaterialID: 2, UnitID: 2, Quantity: 2000, UnitPrice: 0.001},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, note.Status)
	assert.True(t, note.IsStockApplied)
	require.NotNil(t, note.CompletedAt)

	flour, ok := repo.stockFor(1, 5)
	require.True(t, ok)
	assert.InDelta(t, 10, flour, 1e-9)
	sugar, ok := repo.stockFor(2, 5)
	require.True(t, ok)
	assert.InDelta(t, 2, sugar, 1e-9)
	assert.Equal(t, 1, metrics.applied)
}

func TestCompleteIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, metrics := newFixture(repo)

	created, err := svc.Create(context.Background(), CreateNoteInput{
		Date:        noteDate(),
		WarehouseID: 5,
		Status:      StatusDraft,
		Details:     []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 10}},
	})
	require.NoError(t, err)

	first, err := svc.Complete(context.Background(), created.ID, 0)
	require.NoError(t, err)
	assert.True(t, first.IsStockApplied)

	second, err := svc.Complete(context.Background(), created.ID, 0)
	require.NoError(t, err)
	assert.True(t, second.IsStockApplied)

	stock, _ := repo.stockFor(1, 5)
	assert.InDelta(t, 10, stock, 1e-9, "double completion must not double stock")
	assert.Equal(t, 1, metrics.applied)
}

func TestCancelledNoteNeverCompletes(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	created, err := svc.Create(context.Background(), CreateNoteInput{
		Date:    noteDate(),
		Status:  StatusDraft,
		Details: []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 3}},
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), created.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Complete(context.Background(), created.ID, 0)
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))

	_, exists := repo.stockFor(1, 0)
	assert.False(t, exists)
}

func TestCancelAfterCompletionKeepsStock(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	created, err := svc.Create(context.Background(), CreateNoteInput{
		Date:        noteDate(),
		WarehouseID: 5,
		Status:      StatusCompleted,
		Details:     []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 7}},
	})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), created.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.IsStockApplied)

	stock, _ := repo.stockFor(1, 5)
	assert.InDelta(t, 7, stock, 1e-9)
}

func TestStockAccumulatesAcrossNotes(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	for _, qty := range []float64{10, 4.5} {
		_, err := svc.Create(context.Background(), CreateNoteInput{
			Date:        noteDate(),
			WarehouseID: 5,
			Status:      StatusCompleted,
			Details:     []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: qty}},
		})
		require.NoError(t, err)
	}

	stock, ok := repo.stockFor(1, 5)
	require.True(t, ok)
	assert.InDelta(t, 14.5, stock, 1e-9)
	assert.Len(t, repo.inventory, 1, "same pair reuses one ledger row")
}

func TestPartialFailureRollsBackEverything(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, metrics := newFixture(repo)
	repo.failInsertInventory = true

	_, err := svc.Create(context.Background(), CreateNoteInput{
		NoteNumber:  "RN-FAIL",
		Date:        noteDate(),
		WarehouseID: 5,
		Status:      StatusCompleted,
		Details:     []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 10}},
	})
	require.Error(t, err)

	assert.Empty(t, repo.notes, "note insertion must roll back with the failed stock application")
	assert.Empty(t, repo.details)
	assert.Empty(t, repo.inventory)
	assert.Zero(t, metrics.applied)
}

func TestBaseQuantitySurvivesRateChanges(t *testing.T) {
	repo := newMemoryRepo()
	svc, resolver, _ := newFixture(repo)

	created, err := svc.Create(context.Background(), CreateNoteInput{
		Date:        noteDate(),
		WarehouseID: 5,
		Status:      StatusDraft,
		Details:     []DetailInput{{MaterialID: 1, UnitID: 2, Quantity: 500}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, created.Details[0].BaseQuantity, 1e-9)

	// the g->kg edge changes after creation; the frozen value must win
	resolver.rates[[2]int64{2, 1}] = 0.002

	completed, err := svc.Complete(context.Background(), created.ID, 0)
	require.NoError(t, err)
	assert.True(t, completed.IsStockApplied)

	stock, _ := repo.stockFor(1, 5)
	assert.InDelta(t, 0.5, stock, 1e-9)
}

func TestCreateRejectsUnresolvableLine(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	_, err := svc.Create(context.Background(), CreateNoteInput{
		Date:    noteDate(),
		Status:  StatusDraft,
		Details: []DetailInput{{MaterialID: 1, UnitID: 3, Quantity: 1}},
	})
	require.Error(t, err)

	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.True(t, strings.HasPrefix(vErr.Fields[0].Field, "details[0]."))
}

func TestDuplicateNoteNumberConflicts(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	input := CreateNoteInput{
		NoteNumber: "RN-001",
		Date:       noteDate(),
		Status:     StatusDraft,
		Details:    []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 1}},
	}
	_, err := svc.Create(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, shared.IsConflict(err))
}

func TestGeneratedNoteNumber(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newFixture(repo)

	note, err := svc.Create(context.Background(), CreateNoteInput{
		Date:    noteDate(),
		Status:  StatusDraft,
		Details: []DetailInput{{MaterialID: 1, UnitID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(note.NoteNumber, "RN-"))
}
