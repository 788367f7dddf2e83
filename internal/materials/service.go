package materials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/larder-erp/larder-erp/internal/shared"
	"github.com/larder-erp/larder-erp/internal/units"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Material, int, error)
	Get(ctx context.Context, id int64) (Material, error)
	FindByName(ctx context.Context, name string) (Material, error)
	Create(ctx context.Context, material Material) (Material, error)
	Update(ctx context.Context, id int64, material Material) error
	SoftDelete(ctx context.Context, id int64, now time.Time) error
}

// UnitRegistry resolves unit existence for base unit checks.
type UnitRegistry interface {
	Get(ctx context.Context, id int64) (units.Unit, error)
}

// SaveMaterialInput describes a material create or update request.
type SaveMaterialInput struct {
	Name         string
	Description  string
	BaseUnitID   int64
	MinimumStock float64
	UnitPrice    float64
	ActorID      int64
}

// Service owns the material catalog.
type Service struct {
	repo  RepositoryPort
	units UnitRegistry
	audit shared.AuditPort
	now   func() time.Time
}

// NewService builds the Service.
func NewService(repo RepositoryPort, unitRegistry UnitRegistry, audit shared.AuditPort) *Service {
	return &Service{repo: repo, units: unitRegistry, audit: audit, now: time.Now}
}

// List returns live materials.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Material, int, error) {
	return s.repo.List(ctx, filters.Normalize())
}

// Get returns one live material.
func (s *Service) Get(ctx context.Context, id int64) (Material, error) {
	if id <= 0 {
		return Material{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create validates and persists a material. The system-assigned code equals
// the new row's ID rendered in decimal.
func (s *Service) Create(ctx context.Context, input SaveMaterialInput) (Material, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, 0, input); err != nil {
		return Material{}, err
	}
	now := s.now().UTC()
	material := Material{
		Name:         input.Name,
		Description:  strings.TrimSpace(input.Description),
		BaseUnitID:   input.BaseUnitID,
		MinimumStock: input.MinimumStock,
		UnitPrice:    input.UnitPrice,
		CreatedBy:    input.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.repo.Create(ctx, material)
	if err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MATERIAL_CREATE", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// Update mutates a live material in place. Changing the base unit does not
// re-convert stored inventory or recipe quantities.
func (s *Service) Update(ctx context.Context, id int64, input SaveMaterialInput) (Material, error) {
	if id <= 0 {
		return Material{}, shared.ErrNotFound
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Material{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, id, input); err != nil {
		return Material{}, err
	}
	existing.Name = input.Name
	existing.Description = strings.TrimSpace(input.Description)
	existing.BaseUnitID = input.BaseUnitID
	existing.MinimumStock = input.MinimumStock
	existing.UnitPrice = input.UnitPrice
	existing.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, id, existing); err != nil {
		return Material{}, err
	}
	s.recordAudit(ctx, input.ActorID, "MATERIAL_UPDATE", id, map[string]any{"name": input.Name})
	return s.repo.Get(ctx, id)
}

// Delete soft-deletes a material.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "MATERIAL_DELETE", id, nil)
	return nil
}

func (s *Service) validate(ctx context.Context, selfID int64, input SaveMaterialInput) error {
	vErr := &shared.ValidationError{}
	if input.Name == "" {
		vErr.Add("name", "name is required")
	} else if len(input.Name) > 200 {
		vErr.Add("name", "name must be at most 200 characters")
	}
	if len(input.Description) > 1000 {
		vErr.Add("description", "description must be at most 1000 characters")
	}
	if input.MinimumStock < 0 {
		vErr.Add("minimum_stock", "minimum stock must not be negative")
	}
	if input.UnitPrice < 0 {
		vErr.Add("unit_price", "unit price must not be negative")
	}
	if input.BaseUnitID <= 0 {
		vErr.Add("base_unit_id", "base unit is required")
	} else if _, err := s.units.Get(ctx, input.BaseUnitID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			vErr.Add("base_unit_id", "base unit does not exist")
		} else {
			return err
		}
	}
	if input.Name != "" {
		other, err := s.repo.FindByName(ctx, input.Name)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err == nil && other.ID != selfID {
			vErr.Add("name", "another material already uses this name")
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
		Entity:   "material",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
