package receiving

import "time"

// Status is a receiving note's lifecycle state. Completed and Cancelled are
// terminal; a Cancelled note can never be completed.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ReceivingNote is a supplier receiving document. IsStockApplied is a one-way
// latch: once true the note's quantities have been applied to inventory and
// will never be applied again.
type ReceivingNote struct {
	ID             int64             `json:"id"`
	NoteNumber     string            `json:"note_number"`
	Date           time.Time         `json:"date"`
	SupplierName   string            `json:"supplier_name,omitempty"`
	WarehouseID    int64             `json:"warehouse_id,omitempty"`
	Status         Status            `json:"status"`
	IsStockApplied bool              `json:"is_stock_applied"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedBy      int64             `json:"created_by,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DeletedAt      *time.Time        `json:"-"`
	Details        []ReceivingDetail `json:"details,omitempty"`
}

// Active reports whether the note is live.
func (n ReceivingNote) Active() bool {
	return n.DeletedAt == nil
}

// ReceivingDetail is one received line. BaseQuantity is the quantity
// pre-converted into the material's base unit at note-creation time; it is
// frozen there and never recomputed, even if conversion edges change later.
type ReceivingDetail struct {
	ID           int64      `json:"id"`
	NoteID       int64      `json:"note_id"`
	MaterialID   int64      `json:"material_id"`
	UnitID       int64      `json:"unit_id"`
	Quantity     float64    `json:"quantity"`
	UnitPrice    float64    `json:"unit_price"`
	BaseQuantity float64    `json:"base_quantity"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Summary is the listing shape.
type Summary struct {
	ID             int64      `json:"id"`
	NoteNumber     string     `json:"note_number"`
	Date           time.Time  `json:"date"`
	SupplierName   string     `json:"supplier_name,omitempty"`
	WarehouseID    int64      `json:"warehouse_id,omitempty"`
	Status         Status     `json:"status"`
	IsStockApplied bool       `json:"is_stock_applied"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DetailCount    int        `json:"detail_count"`
}
