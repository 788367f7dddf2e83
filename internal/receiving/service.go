package receiving

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/larder-erp/larder-erp/internal/inventory"
	"github.com/larder-erp/larder-erp/internal/materials"
	"github.com/larder-erp/larder-erp/internal/shared"
	"github.com/larder-erp/larder-erp/internal/units"
	"github.com/larder-erp/larder-erp/internal/warehouses"
)

// RepositoryPort abstracts receiving-note persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters shared.ListFilters) ([]Summary, int, error)
	Get(ctx context.Context, id int64) (ReceivingNote, error)
	FindByNumber(ctx context.Context, number string) (ReceivingNote, error)
}

// TxRepository exposes the transactional operations of note creation and
// stock application. Inventory mutation lives here so the note, its details,
// and all ledger deltas commit or roll back together.
type TxRepository interface {
	InsertNote(ctx context.Context, note ReceivingNote) (int64, error)
	InsertDetail(ctx context.Context, detail ReceivingDetail) (int64, error)
	LockNote(ctx context.Context, id int64) (ReceivingNote, error)
	ListLiveDetails(ctx context.Context, noteID int64) ([]ReceivingDetail, error)
	SetStatus(ctx context.Context, id int64, status Status, now time.Time) error
	MarkStockApplied(ctx context.Context, id int64, completedAt time.Time) error

	GetInventoryForUpdate(ctx context.Context, materialID, warehouseID int64) (inventory.Inventory, error)
	InsertInventory(ctx context.Context, inv inventory.Inventory) (int64, error)
	AddInventoryStock(ctx context.Context, id int64, delta float64, now time.Time) error
}

// MaterialCatalog resolves materials referenced by detail lines.
type MaterialCatalog interface {
	Get(ctx context.Context, id int64) (materials.Material, error)
}

// UnitRegistry resolves unit existence.
type UnitRegistry interface {
	Get(ctx context.Context, id int64) (units.Unit, error)
}

// WarehouseRegistry resolves warehouse existence.
type WarehouseRegistry interface {
	Get(ctx context.Context, id int64) (warehouses.Warehouse, error)
}

// ConversionResolver converts between units, reciprocal fallback included.
type ConversionResolver interface {
	Resolve(ctx context.Context, fromUnitID, toUnitID int64) (float64, error)
}

// StockMetrics counts successful stock applications.
type StockMetrics interface {
	StockApplied()
}

// DetailInput is one requested received line.
type DetailInput struct {
	MaterialID int64
	UnitID     int64
	Quantity   float64
	UnitPrice  float64
}

// CreateNoteInput describes a receiving-note creation request.
type CreateNoteInput struct {
	NoteNumber   string
	Date         time.Time
	SupplierName string
	WarehouseID  int64
	Status       Status
	Details      []DetailInput
	ActorID      int64
}

// Service owns the receiving workflow and the inventory ledger mutations it
// triggers.
type Service struct {
	repo       RepositoryPort
	materials  MaterialCatalog
	units      UnitRegistry
	warehouses WarehouseRegistry
	resolver   ConversionResolver
	metrics    StockMetrics
	audit      shared.AuditPort
	now        func() time.Time
}

// NewService builds the Service. metrics and audit may be nil.
func NewService(repo RepositoryPort, catalog MaterialCatalog, unitRegistry UnitRegistry, warehouseRegistry WarehouseRegistry, resolver ConversionResolver, metrics StockMetrics, audit shared.AuditPort) *Service {
	return &Service{
		repo:       repo,
		materials:  catalog,
		units:      unitRegistry,
		warehouses: warehouseRegistry,
		resolver:   resolver,
		metrics:    metrics,
		audit:      audit,
		now:        time.Now,
	}
}

// List returns live note summaries.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Summary, int, error) {
	return s.repo.List(ctx, filters.Normalize())
}

// Get returns one live note with its live details.
func (s *Service) Get(ctx context.Context, id int64) (ReceivingNote, error) {
	if id <= 0 {
		return ReceivingNote{}, shared.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create validates and persists a note with its details as one atomic unit.
// Each detail's base quantity is resolved and frozen here; later edge edits
// never change it. A note requested as Completed applies stock inside the
// same transaction before it commits.
func (s *Service) Create(ctx context.Context, input CreateNoteInput) (ReceivingNote, error) {
	now := s.now().UTC()
	if input.Status == "" {
		input.Status = StatusDraft
	}
	input.NoteNumber = strings.TrimSpace(input.NoteNumber)

	details, err := s.validate(ctx, &input)
	if err != nil {
		return ReceivingNote{}, err
	}

	if input.NoteNumber == "" {
		input.NoteNumber = generateNumber("RN", now)
	} else {
		if _, err := s.repo.FindByNumber(ctx, input.NoteNumber); err == nil {
			return ReceivingNote{}, shared.Conflict("receiving note", "note number already in use")
		} else if !errors.Is(err, shared.ErrNotFound) {
			return ReceivingNote{}, err
		}
	}

	note := ReceivingNote{
		NoteNumber:   input.NoteNumber,
		Date:         input.Date,
		SupplierName: strings.TrimSpace(input.SupplierName),
		WarehouseID:  input.WarehouseID,
		Status:       input.Status,
		CreatedBy:    input.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	applied := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertNote(ctx, note)
		if err != nil {
			return err
		}
		note.ID = id
		for i := range details {
			details[i].NoteID = id
			details[i].CreatedAt = now
			details[i].UpdatedAt = now
			detailID, err := tx.InsertDetail(ctx, details[i])
			if err != nil {
				return err
			}
			details[i].ID = detailID
		}
		note.Details = details

		if note.Status == StatusCompleted {
			didApply, err := s.applyStock(ctx, tx, note, now)
			if err != nil {
				return err
			}
			applied = didApply
		}
		return nil
	})
	if err != nil {
		return ReceivingNote{}, err
	}
	if applied && s.metrics != nil {
		s.metrics.StockApplied()
	}
	s.recordAudit(ctx, input.ActorID, "RECEIVING_CREATE", note.ID, map[string]any{
		"note_number": note.NoteNumber,
		"status":      string(note.Status),
	})
	return s.repo.Get(ctx, note.ID)
}

// Complete transitions a note to Completed and applies stock exactly once.
// An already-completed, already-applied note is a no-op returning its current
// state. A cancelled note is rejected.
func (s *Service) Complete(ctx context.Context, id int64, actorID int64) (ReceivingNote, error) {
	if id <= 0 {
		return ReceivingNote{}, shared.ErrNotFound
	}
	now := s.now().UTC()

	applied := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.LockNote(ctx, id)
		if err != nil {
			return err
		}
		switch {
		case note.Status == StatusCancelled:
			return shared.Conflict("receiving note", "cancelled notes cannot be completed")
		case note.Status == StatusCompleted && note.IsStockApplied:
			return nil
		}
		if err := tx.SetStatus(ctx, id, StatusCompleted, now); err != nil {
			return err
		}
		note.Status = StatusCompleted
		didApply, err := s.applyStock(ctx, tx, note, now)
		if err != nil {
			return err
		}
		applied = didApply
		return nil
	})
	if err != nil {
		return ReceivingNote{}, err
	}
	if applied {
		if s.metrics != nil {
			s.metrics.StockApplied()
		}
		s.recordAudit(ctx, actorID, "RECEIVING_COMPLETE", id, map[string]any{
			"application_ref": applicationRef(id).String(),
		})
	}
	return s.repo.Get(ctx, id)
}

// Cancel transitions a Draft or Completed note to Cancelled. Stock already
// applied stays applied; cancelling only blocks further completion.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (ReceivingNote, error) {
	if id <= 0 {
		return ReceivingNote{}, shared.ErrNotFound
	}
	now := s.now().UTC()

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		note, err := tx.LockNote(ctx, id)
		if err != nil {
			return err
		}
		if note.Status == StatusCancelled {
			return nil
		}
		return tx.SetStatus(ctx, id, StatusCancelled, now)
	})
	if err != nil {
		return ReceivingNote{}, err
	}
	s.recordAudit(ctx, actorID, "RECEIVING_CANCEL", id, nil)
	return s.repo.Get(ctx, id)
}

// applyStock increments the inventory ledger by each live detail's frozen
// base quantity, then flips the one-way latch. The caller holds the note's
// row lock, so concurrent completions serialise here: the second transaction
// observes IsStockApplied true and mutates nothing.
func (s *Service) applyStock(ctx context.Context, tx TxRepository, note ReceivingNote, now time.Time) (bool, error) {
	if note.IsStockApplied || note.Status != StatusCompleted {
		return false, nil
	}
	details, err := tx.ListLiveDetails(ctx, note.ID)
	if err != nil {
		return false, err
	}
	for _, d := range details {
		inv, err := tx.GetInventoryForUpdate(ctx, d.MaterialID, note.WarehouseID)
		if errors.Is(err, shared.ErrNotFound) {
			_, err = tx.InsertInventory(ctx, inventory.Inventory{
				MaterialID:   d.MaterialID,
				WarehouseID:  note.WarehouseID,
				CurrentStock: d.BaseQuantity,
				LastUpdated:  now,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			if err != nil {
				return false, err
			}
			continue
		}
		if err != nil {
			return false, err
		}
		if err := tx.AddInventoryStock(ctx, inv.ID, d.BaseQuantity, now); err != nil {
			return false, err
		}
	}
	if err := tx.MarkStockApplied(ctx, note.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

// validate checks the request and returns the detail rows with their base
// quantities already resolved and frozen.
func (s *Service) validate(ctx context.Context, input *CreateNoteInput) ([]ReceivingDetail, error) {
	vErr := &shared.ValidationError{}
	if !input.Status.Valid() || input.Status == StatusCancelled {
		vErr.Add("status", "status must be DRAFT or COMPLETED")
	}
	if input.Date.IsZero() {
		vErr.Add("date", "date is required")
	}
	if len(input.NoteNumber) > 100 {
		vErr.Add("note_number", "note number must be at most 100 characters")
	}
	if len(input.SupplierName) > 200 {
		vErr.Add("supplier_name", "supplier name must be at most 200 characters")
	}
	if input.WarehouseID < 0 {
		vErr.Add("warehouse_id", "warehouse id must be positive")
	} else if input.WarehouseID > 0 {
		if _, err := s.warehouses.Get(ctx, input.WarehouseID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				vErr.Add("warehouse_id", "warehouse does not exist")
			} else {
				return nil, err
			}
		}
	}
	if len(input.Details) == 0 {
		vErr.Add("details", "at least one detail is required")
	}

	details := make([]ReceivingDetail, 0, len(input.Details))
	for i, d := range input.Details {
		field := func(name string) string { return fmt.Sprintf("details[%d].%s", i, name) }
		if d.Quantity <= 0 {
			vErr.Add(field("quantity"), "quantity must be positive")
		}
		if d.UnitPrice < 0 {
			vErr.Add(field("unit_price"), "unit price must not be negative")
		}
		material, err := s.materials.Get(ctx, d.MaterialID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				vErr.Add(field("material_id"), "material does not exist")
				continue
			}
			return nil, err
		}
		if _, err := s.units.Get(ctx, d.UnitID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				vErr.Add(field("unit_id"), "unit does not exist")
				continue
			}
			return nil, err
		}
		rate, err := s.resolver.Resolve(ctx, d.UnitID, material.BaseUnitID)
		if err != nil {
			if errors.Is(err, units.ErrNotConvertible) {
				vErr.Add(field("unit_id"), "cannot convert the chosen unit to the material's base unit")
				continue
			}
			return nil, err
		}
		details = append(details, ReceivingDetail{
			MaterialID:   d.MaterialID,
			UnitID:       d.UnitID,
			Quantity:     d.Quantity,
			UnitPrice:    d.UnitPrice,
			BaseQuantity: d.Quantity * rate,
		})
	}
	if vErr.HasErrors() {
		return nil, vErr
	}
	return details, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "receiving_note",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}

// applicationRef derives a stable identifier for a note's stock application,
// so repeated audit lookups for the same note converge on one reference.
func applicationRef(noteID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RN:%d", noteID)))
}

// generateNumber builds a timestamp-derived note number, unique at the
// instant of generation.
func generateNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, now.UnixNano())
}
