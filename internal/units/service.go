package units

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/larder-erp/larder-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters shared.ListFilters, includeConversions bool) ([]Unit, int, error)
	Get(ctx context.Context, id int64) (Unit, error)
	FindByName(ctx context.Context, name string) (Unit, error)
	CountMaterialsUsingUnit(ctx context.Context, unitID int64) (int, error)
}

// EdgeInput describes one requested outgoing conversion edge.
type EdgeInput struct {
	ToUnitID    int64
	Rate        float64
	Description string
}

// SaveUnitInput describes a unit create or update request, including the
// complete desired set of outgoing conversion edges.
type SaveUnitInput struct {
	Name        string
	Description string
	Edges       []EdgeInput
	ActorID     int64
}

// Service owns units and their conversion edges, maintaining the reciprocal
// edge invariant on every successful edit.
type Service struct {
	repo  RepositoryPort
	audit shared.AuditPort
	now   func() time.Time
}

// NewService builds the Service.
func NewService(repo RepositoryPort, audit shared.AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// List returns units, optionally with their live outgoing edges.
func (s *Service) List(ctx context.Context, filters shared.ListFilters, includeConversions bool) ([]Unit, int, error) {
	return s.repo.List(ctx, filters.Normalize(), includeConversions)
}

// Get returns one live unit with its live outgoing edges.
func (s *Service) Get(ctx context.Context, id int64) (Unit, error) {
	if id <= 0 {
		return Unit{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create validates the request and persists the unit with its edges and the
// reciprocal of every requested edge, all in one transaction.
func (s *Service) Create(ctx context.Context, input SaveUnitInput) (Unit, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, 0, input); err != nil {
		return Unit{}, err
	}

	now := s.now().UTC()
	unit := Unit{
		Name:        input.Name,
		Description: strings.TrimSpace(input.Description),
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertUnit(ctx, unit)
		if err != nil {
			return err
		}
		unit.ID = id
		for _, req := range input.Edges {
			edge := ConversionEdge{
				FromUnitID:  id,
				ToUnitID:    req.ToUnitID,
				Rate:        req.Rate,
				Description: strings.TrimSpace(req.Description),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			edgeID, err := tx.InsertEdge(ctx, edge)
			if err != nil {
				return err
			}
			edge.ID = edgeID
			if err := syncReciprocal(ctx, tx, edge, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Unit{}, err
	}
	s.recordAudit(ctx, input.ActorID, "UNIT_CREATE", unit.ID, map[string]any{"name": unit.Name})
	return s.repo.Get(ctx, unit.ID)
}

// Update reconciles the unit's live outgoing edges against the requested set:
// edges absent from the request are soft-deleted together with their
// reciprocals, edges present in both are updated in place, new edges are
// inserted. Reciprocal sync runs unconditionally afterwards.
func (s *Service) Update(ctx context.Context, id int64, input SaveUnitInput) (Unit, error) {
	if id <= 0 {
		return Unit{}, shared.ErrNotFound
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := s.validate(ctx, id, input); err != nil {
		return Unit{}, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Unit{}, err
	}

	now := s.now().UTC()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateUnit(ctx, id, input.Name, strings.TrimSpace(input.Description), now); err != nil {
			return err
		}

		existing, err := tx.ListLiveEdgesFrom(ctx, id)
		if err != nil {
			return err
		}
		requested := make(map[int64]EdgeInput, len(input.Edges))
		for _, req := range input.Edges {
			requested[req.ToUnitID] = req
		}

		for _, edge := range existing {
			if _, keep := requested[edge.ToUnitID]; keep {
				continue
			}
			if err := tx.SoftDeleteEdge(ctx, edge.ID, now); err != nil {
				return err
			}
			// Reciprocal cleanup: the other side still points back at us.
			reverse, err := tx.FindLiveEdge(ctx, edge.ToUnitID, id)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					continue
				}
				return err
			}
			if err := tx.SoftDeleteEdge(ctx, reverse.ID, now); err != nil {
				return err
			}
		}

		existingByTarget := make(map[int64]ConversionEdge, len(existing))
		for _, edge := range existing {
			existingByTarget[edge.ToUnitID] = edge
		}

		for _, req := range input.Edges {
			edge, ok := existingByTarget[req.ToUnitID]
			if ok {
				edge.Rate = req.Rate
				edge.Description = strings.TrimSpace(req.Description)
				if err := tx.UpdateEdge(ctx, edge.ID, edge.Rate, edge.Description, now); err != nil {
					return err
				}
			} else {
				edge = ConversionEdge{
					FromUnitID:  id,
					ToUnitID:    req.ToUnitID,
					Rate:        req.Rate,
					Description: strings.TrimSpace(req.Description),
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				edgeID, err := tx.InsertEdge(ctx, edge)
				if err != nil {
					return err
				}
				edge.ID = edgeID
			}
			if err := syncReciprocal(ctx, tx, edge, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Unit{}, err
	}
	s.recordAudit(ctx, input.ActorID, "UNIT_UPDATE", id, map[string]any{"name": input.Name})
	return s.repo.Get(ctx, id)
}

// Delete soft-deletes a unit and every live edge touching it, in both
// directions. Rejected while any live material uses the unit as base unit.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if id <= 0 {
		return shared.ErrNotFound
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	dependents, err := s.repo.CountMaterialsUsingUnit(ctx, id)
	if err != nil {
		return err
	}
	if dependents > 0 {
		return shared.Conflict("unit", fmt.Sprintf("%d material(s) use this unit as base unit", dependents))
	}

	now := s.now().UTC()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SoftDeleteUnit(ctx, id, now); err != nil {
			return err
		}
		// Reciprocal sync only runs on edit, so deletion cleans up both
		// directions explicitly.
		return tx.SoftDeleteEdgesTouching(ctx, id, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "UNIT_DELETE", id, nil)
	return nil
}

// syncReciprocal guarantees the inverse edge exists and matches. Both the
// create and update paths funnel through here so the two cannot drift.
func syncReciprocal(ctx context.Context, tx TxRepository, edge ConversionEdge, now time.Time) error {
	if edge.Rate == 0 {
		return shared.Validation("conversions.rate", "rate must be greater than zero")
	}
	inverse := 1 / edge.Rate
	reverse, err := tx.FindLiveEdge(ctx, edge.ToUnitID, edge.FromUnitID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			_, err := tx.InsertEdge(ctx, ConversionEdge{
				FromUnitID:  edge.ToUnitID,
				ToUnitID:    edge.FromUnitID,
				Rate:        inverse,
				Description: edge.Description,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			return err
		}
		return err
	}
	return tx.UpdateEdge(ctx, reverse.ID, inverse, edge.Description, now)
}

func (s *Service) validate(ctx context.Context, selfID int64, input SaveUnitInput) error {
	vErr := &shared.ValidationError{}
	if input.Name == "" {
		vErr.Add("name", "name is required")
	} else if len(input.Name) > 100 {
		vErr.Add("name", "name must be at most 100 characters")
	}
	if len(input.Description) > 1000 {
		vErr.Add("description", "description must be at most 1000 characters")
	}

	if input.Name != "" {
		other, err := s.repo.FindByName(ctx, input.Name)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err == nil && other.ID != selfID {
			vErr.Add("name", "another unit already uses this name")
		}
	}

	seen := make(map[int64]bool, len(input.Edges))
	for i, req := range input.Edges {
		field := fmt.Sprintf("conversions[%d]", i)
		switch {
		case req.ToUnitID <= 0:
			vErr.Add(field+".to_unit_id", "target unit is required")
		case req.ToUnitID == selfID:
			vErr.Add(field+".to_unit_id", "a unit cannot convert to itself")
		case seen[req.ToUnitID]:
			vErr.Add(field+".to_unit_id", "duplicate target unit in request")
		default:
			seen[req.ToUnitID] = true
			if _, err := s.repo.Get(ctx, req.ToUnitID); err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					vErr.Add(field+".to_unit_id", "target unit does not exist")
				} else {
					return err
				}
			}
		}
		if req.Rate <= 0 {
			vErr.Add(field+".rate", "rate must be greater than zero")
		}
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, unitID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "unit",
		EntityID: fmt.Sprintf("%d", unitID),
		Meta:     meta,
	})
}
