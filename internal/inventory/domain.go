package inventory

import "time"

// Inventory is the stock ledger row for one (material, warehouse) pair.
// WarehouseID zero means "no specific warehouse". Rows are created lazily by
// the first stock application and only mutated inside receiving transactions.
type Inventory struct {
	ID           int64      `json:"id"`
	MaterialID   int64      `json:"material_id"`
	WarehouseID  int64      `json:"warehouse_id,omitempty"`
	CurrentStock float64    `json:"current_stock"`
	LastUpdated  time.Time  `json:"last_updated"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// LowStockRow joins an inventory row against its material's minimum stock
// level for the low-stock scan.
type LowStockRow struct {
	MaterialID   int64   `json:"material_id"`
	MaterialName string  `json:"material_name"`
	WarehouseID  int64   `json:"warehouse_id,omitempty"`
	CurrentStock float64 `json:"current_stock"`
	MinimumStock float64 `json:"minimum_stock"`
}
