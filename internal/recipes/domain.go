package recipes

import "time"

// Recipe consumes materials to produce one sellable item, expressed in an
// output unit. Its cost is always derived from current material prices and
// conversion rates, never stored.
type Recipe struct {
	ID              int64          `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	OutputUnitID    int64          `json:"output_unit_id"`
	PreparationTime int            `json:"preparation_time"`
	CreatedBy       int64          `json:"created_by,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"-"`
	Details         []RecipeDetail `json:"details,omitempty"`
}

// Active reports whether the recipe is live.
func (r Recipe) Active() bool {
	return r.DeletedAt == nil
}

// RecipeDetail is one material line of a recipe. Quantity is expressed in the
// line's own unit; conversion to the material's base unit happens at cost time.
type RecipeDetail struct {
	ID         int64      `json:"id"`
	RecipeID   int64      `json:"recipe_id"`
	MaterialID int64      `json:"material_id"`
	UnitID     int64      `json:"unit_id"`
	Quantity   float64    `json:"quantity"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"-"`
}

// Summary is the listing shape. Costs are deliberately absent so listings can
// be cached without going stale when material prices move.
type Summary struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	OutputUnitID    int64     `json:"output_unit_id"`
	PreparationTime int       `json:"preparation_time"`
	DetailCount     int       `json:"detail_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CostLine is the derived cost of one recipe detail.
type CostLine struct {
	MaterialID        int64   `json:"material_id"`
	MaterialName      string  `json:"material_name"`
	UnitID            int64   `json:"unit_id"`
	Quantity          float64 `json:"quantity"`
	Rate              float64 `json:"rate"`
	ConvertedQuantity float64 `json:"converted_quantity"`
	UnitPrice         float64 `json:"unit_price"`
	LineCost          float64 `json:"line_cost"`
}

// CostBreakdown is a recipe's derived total with per-line contributions.
type CostBreakdown struct {
	Lines []CostLine `json:"lines"`
	Total float64    `json:"total"`
}
