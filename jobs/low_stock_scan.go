package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/larder-erp/larder-erp/internal/inventory"
	jobmetrics "github.com/larder-erp/larder-erp/internal/jobs"
)

// LowStockSource lists materials whose stock fell below their minimum.
type LowStockSource interface {
	ListBelowMinimum(ctx context.Context) ([]inventory.LowStockRow, error)
}

// LowStockScanJob walks the inventory ledger and reports materials whose
// current stock fell below the material's configured minimum.
type LowStockScanJob struct {
	Source  LowStockSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockScanJob initialises the low-stock scan handler.
func NewLowStockScanJob(source LowStockSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{Source: source, Logger: logger, Metrics: metrics}
}

// Handle executes one scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskLowStockScan)
	var resultErr error
	defer func() {
		_ = tracker.End(resultErr)
	}()

	rows, err := j.Source.ListBelowMinimum(ctx)
	if err != nil {
		resultErr = err
		return err
	}
	if payload.WarehouseID > 0 {
		filtered := rows[:0]
		for _, row := range rows {
			if row.WarehouseID == payload.WarehouseID {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	for _, row := range rows {
		j.Logger.Warn("material below minimum stock",
			slog.Int64("material_id", row.MaterialID),
			slog.String("material", row.MaterialName),
			slog.Int64("warehouse_id", row.WarehouseID),
			slog.Float64("current_stock", row.CurrentStock),
			slog.Float64("minimum_stock", row.MinimumStock),
		)
	}
	j.Metrics.SetLowStockCount(len(rows))
	j.Logger.Info("low stock scan finished", slog.Int("below_minimum", len(rows)))
	return nil
}
