package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/larder-erp/larder-erp/internal/inventory"
	jobmetrics "github.com/larder-erp/larder-erp/internal/jobs"
)

type stubLowStockSource struct {
	rows []inventory.LowStockRow
	err  error

	calls int
}

func (s *stubLowStockSource) ListBelowMinimum(ctx context.Context) ([]inventory.LowStockRow, error) {
	s.calls++
	return s.rows, s.err
}

func newScanJob(source *stubLowStockSource) *LowStockScanJob {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	return NewLowStockScanJob(source, logger, metrics)
}

func mustTask(t *testing.T, payload LowStockScanPayload) *asynq.Task {
	t.Helper()
	task, err := NewLowStockScanTask(payload)
	require.NoError(t, err)
	return task
}

func TestLowStockScanReportsRows(t *testing.T) {
	source := &stubLowStockSource{rows: []inventory.LowStockRow{
		{MaterialID: 1, MaterialName: "Flour", WarehouseID: 5, CurrentStock: 2, MinimumStock: 10},
		{MaterialID: 2, MaterialName: "Oil", WarehouseID: 7, CurrentStock: 0.5, MinimumStock: 3},
	}}
	job := newScanJob(source)

	err := job.Handle(context.Background(), mustTask(t, LowStockScanPayload{}))
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)
}

func TestLowStockScanFiltersByWarehouse(t *testing.T) {
	source := &stubLowStockSource{rows: []inventory.LowStockRow{
		{MaterialID: 1, MaterialName: "Flour", WarehouseID: 5},
		{MaterialID: 2, MaterialName: "Oil", WarehouseID: 7},
	}}
	job := newScanJob(source)

	err := job.Handle(context.Background(), mustTask(t, LowStockScanPayload{WarehouseID: 7}))
	require.NoError(t, err)
}

func TestLowStockScanPropagatesSourceError(t *testing.T) {
	source := &stubLowStockSource{err: errors.New("db down")}
	job := newScanJob(source)

	err := job.Handle(context.Background(), mustTask(t, LowStockScanPayload{}))
	require.Error(t, err)
}

func TestLowStockScanSkipsRetryOnBadPayload(t *testing.T) {
	job := newScanJob(&stubLowStockSource{})

	task := asynq.NewTask(TaskLowStockScan, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
