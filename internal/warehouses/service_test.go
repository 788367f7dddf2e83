package warehouses

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-erp/larder-erp/internal/shared"
)

type memoryRepo struct {
	nextID     int64
	warehouses map[int64]Warehouse
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, warehouses: map[int64]Warehouse{}}
}

func (m *memoryRepo) List(_ context.Context, _ shared.ListFilters) ([]Warehouse, int, error) {
	var out []Warehouse
	for _, w := range m.warehouses {
		out = append(out, w)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (Warehouse, error) {
	w, ok := m.warehouses[id]
	if !ok {
		return Warehouse{}, shared.ErrNotFound
	}
	return w, nil
}

func (m *memoryRepo) FindByName(_ context.Context, name string) (Warehouse, error) {
	for _, w := range m.warehouses {
		if strings.EqualFold(w.Name, name) {
			return w, nil
		}
	}
	return Warehouse{}, shared.ErrNotFound
}

func (m *memoryRepo) Create(_ context.Context, w Warehouse) (Warehouse, error) {
	w.ID = m.nextID
	m.nextID++
	m.warehouses[w.ID] = w
	return w, nil
}

func TestCreateWarehouse(t *testing.T) {
	svc := NewService(newMemoryRepo())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	created, err := svc.Create(context.Background(), "  Central Kitchen  ", "Basement")
	require.NoError(t, err)
	assert.Equal(t, "Central Kitchen", created.Name)
	assert.NotZero(t, created.ID)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreateWarehouseRejectsDuplicateName(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), "Central Kitchen", "")
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "central kitchen", "")
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestCreateWarehouseRequiresName(t *testing.T) {
	svc := NewService(newMemoryRepo())

	_, err := svc.Create(context.Background(), "   ", "")
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}
