package inventory

import (
	"context"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// Filters narrows inventory listings.
type Filters struct {
	shared.ListFilters
	MaterialID  int64
	WarehouseID int64
}

// RepositoryPort abstracts read access to the ledger.
type RepositoryPort interface {
	List(ctx context.Context, filters Filters) ([]Inventory, int, error)
	Get(ctx context.Context, id int64) (Inventory, error)
	ListBelowMinimum(ctx context.Context) ([]LowStockRow, error)
}

// Service exposes the ledger read-only. All mutation flows through the
// receiving workflow's transactions.
type Service struct {
	repo RepositoryPort
}

// NewService builds the Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns live inventory rows.
func (s *Service) List(ctx context.Context, filters Filters) ([]Inventory, int, error) {
	filters.ListFilters = filters.Normalize()
	return s.repo.List(ctx, filters)
}

// Get returns one live inventory row.
func (s *Service) Get(ctx context.Context, id int64) (Inventory, error) {
	if id <= 0 {
		return Inventory{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// ListBelowMinimum returns rows whose stock fell below the material's
// configured minimum. Used by the scheduled low-stock scan.
func (s *Service) ListBelowMinimum(ctx context.Context) ([]LowStockRow, error) {
	return s.repo.ListBelowMinimum(ctx)
}
