package warehouses

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// RepositoryPort abstracts warehouse persistence.
type RepositoryPort interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	FindByName(ctx context.Context, name string) (Warehouse, error)
	Create(ctx context.Context, warehouse Warehouse) (Warehouse, error)
}

// Service owns warehouse masterdata.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds the Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns live warehouses.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Warehouse, int, error) {
	return s.repo.List(ctx, filters.Normalize())
}

// Get returns one live warehouse.
func (s *Service) Get(ctx context.Context, id int64) (Warehouse, error) {
	if id <= 0 {
		return Warehouse{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create validates and persists a warehouse.
func (s *Service) Create(ctx context.Context, name, location string) (Warehouse, error) {
	name = strings.TrimSpace(name)
	vErr := &shared.ValidationError{}
	if name == "" {
		vErr.Add("name", "name is required")
	} else if len(name) > 200 {
		vErr.Add("name", "name must be at most 200 characters")
	}
	if len(location) > 500 {
		vErr.Add("location", "location must be at most 500 characters")
	}
	if name != "" {
		if _, err := s.repo.FindByName(ctx, name); err == nil {
			vErr.Add("name", "another warehouse already uses this name")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return Warehouse{}, err
		}
	}
	if vErr.HasErrors() {
		return Warehouse{}, vErr
	}

	now := s.now().UTC()
	return s.repo.Create(ctx, Warehouse{
		Name:      name,
		Location:  strings.TrimSpace(location),
		CreatedAt: now,
		UpdatedAt: now,
	})
}
