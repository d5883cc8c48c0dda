// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"snoopflow/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Candles
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error)
	GetCoverage(ctx context.Context, symbol, timeframe string) (from, to time.Time, ok bool, err error)
	SetCoverage(ctx context.Context, symbol, timeframe string, from, to time.Time) error

	// Backtests
	SaveBacktestResult(ctx context.Context, result *models.BacktestResult) error
	GetBacktestResult(ctx context.Context, id string) (*models.BacktestResult, error)
	ListBacktestResults(ctx context.Context, limit int) ([]BacktestRecord, error)

	// Sweeps
	SaveSweep(ctx context.Context, sweep *models.Sweep) error
	ListSweeps(ctx context.Context, filter SweepFilter) ([]models.Sweep, error)

	// Alert configs
	SaveAlertConfig(ctx context.Context, cfg *models.SnoopAlertConfig) error
	GetAlertConfig(ctx context.Context, id string) (*models.SnoopAlertConfig, error)
	ListAlertConfigs(ctx context.Context, enabledOnly bool) ([]models.SnoopAlertConfig, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// BacktestRecord is the headline row of a stored backtest.
type BacktestRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Symbols     []string  `json:"symbols"`
	StartedAt   time.Time `json:"started_at"`
	TotalTrades int       `json:"total_trades"`
	SuccessRate float64   `json:"success_rate"`
	AvgMovement float64   `json:"avg_movement"`
}

// SweepFilter represents filters for querying sweeps.
type SweepFilter struct {
	Symbol     string
	Since      time.Time
	MinPremium float64
	Limit      int
}

// Sync data types recorded in sync_status.
const (
	SyncBlockScan = "block_scan"
	SyncSweepFeed = "sweep_feed"
)
