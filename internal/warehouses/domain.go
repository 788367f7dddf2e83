package warehouses

import "time"

// Warehouse is a physical stock location referenced by receiving notes and
// inventory rows.
type Warehouse struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Location  string     `json:"location,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}

// Active reports whether the warehouse is live.
func (w Warehouse) Active() bool {
	return w.DeletedAt == nil
}
