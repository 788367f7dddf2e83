package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan is the task type for the inventory low-stock scan.
	TaskLowStockScan = "inventory:low_stock_scan"
)

// LowStockScanPayload tunes one scan run. Zero values mean "scan everything".
type LowStockScanPayload struct {
	WarehouseID int64 `json:"warehouse_id,omitempty"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}
