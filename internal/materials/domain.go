package materials

import "time"

// Material is a raw ingredient valued and stocked in its base unit.
// Code always equals the decimal string form of the material's own ID,
// assigned right after first insert.
type Material struct {
	ID           int64      `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	BaseUnitID   int64      `json:"base_unit_id"`
	MinimumStock float64    `json:"minimum_stock"`
	UnitPrice    float64    `json:"unit_price"`
	CreatedBy    int64      `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the material is live.
func (m Material) Active() bool {
	return m.DeletedAt == nil
}
