package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"snoopflow/internal/errors"
	"snoopflow/internal/models"
)

var _ DataStore = (*SQLiteStore)(nil)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Daily and intraday aggregates for underlyings and contracts
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		vwap REAL DEFAULT 0,
		transactions INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Date range known to be fully cached per symbol/timeframe
	CREATE TABLE IF NOT EXISTS candle_coverage (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		from_date DATETIME NOT NULL,
		to_date DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(symbol, timeframe)
	);

	-- Backtest runs: headline columns plus the full result as JSON
	CREATE TABLE IF NOT EXISTS backtest_results (
		id TEXT PRIMARY KEY,
		name TEXT,
		symbols TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		total_trades INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		avg_movement REAL NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Sweeps detected from the live feed
	CREATE TABLE IF NOT EXISTS sweeps (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		contract TEXT NOT NULL,
		type TEXT NOT NULL,
		strike REAL NOT NULL,
		expiration DATETIME,
		side TEXT NOT NULL,
		total_size INTEGER NOT NULL,
		premium REAL NOT NULL,
		avg_price REAL NOT NULL,
		prints INTEGER NOT NULL,
		exchanges TEXT,
		sentiment TEXT,
		first_at DATETIME NOT NULL,
		last_at DATETIME NOT NULL,
		block_trade INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Sweep alert preferences
	CREATE TABLE IF NOT EXISTS alert_configs (
		id TEXT PRIMARY KEY,
		symbols TEXT,
		min_premium REAL DEFAULT 0,
		option_types TEXT,
		enabled INTEGER DEFAULT 1,
		updated_at DATETIME NOT NULL
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_tf ON candles(symbol, timeframe, timestamp);
	CREATE INDEX IF NOT EXISTS idx_backtest_started ON backtest_results(started_at);
	CREATE INDEX IF NOT EXISTS idx_sweeps_symbol ON sweeps(symbol, last_at);
	CREATE INDEX IF NOT EXISTS idx_sweeps_last_at ON sweeps(last_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume, vwap, transactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, c.VWAP, c.Transactions)
		if err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCandles retrieves candles from the database.
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, vwap, transactions
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.VWAP, &c.Transactions); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent candle.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var timestamp sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&timestamp)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get candles freshness: %w", err)
	}
	if !timestamp.Valid {
		return time.Time{}, nil
	}
	return parseTimestamp(timestamp.String)
}

// GetCoverage returns the cached date range for a symbol/timeframe.
func (s *SQLiteStore) GetCoverage(ctx context.Context, symbol, timeframe string) (time.Time, time.Time, bool, error) {
	var from, to time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT from_date, to_date FROM candle_coverage WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&from, &to)
	if err == sql.ErrNoRows {
		return time.Time{}, time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to get coverage: %w", err)
	}
	return from, to, true, nil
}

// SetCoverage records the cached date range for a symbol/timeframe.
func (s *SQLiteStore) SetCoverage(ctx context.Context, symbol, timeframe string, from, to time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO candle_coverage (symbol, timeframe, from_date, to_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, symbol, timeframe, from.UTC(), to.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set coverage: %w", err)
	}
	return nil
}

// ============================================================================
// Backtest Methods
// ============================================================================

// SaveBacktestResult stores a backtest run. The result must carry an ID.
func (s *SQLiteStore) SaveBacktestResult(ctx context.Context, result *models.BacktestResult) error {
	if result.ID == "" {
		return errors.NewValidationError("id", "", "backtest result has no id")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode backtest result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO backtest_results (id, name, symbols, started_at, total_trades, success_rate, avg_movement, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, result.ID, result.Config.Name, strings.Join(result.Config.Symbols, ","), result.StartedAt.UTC(),
		result.Summary.TotalTrades, result.Summary.SuccessRate, result.Summary.AvgMovement, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save backtest result: %w", err)
	}
	return nil
}

// GetBacktestResult loads a stored backtest run by ID.
func (s *SQLiteStore) GetBacktestResult(ctx context.Context, id string) (*models.BacktestResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM backtest_results WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "backtest %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest result: %w", err)
	}

	var result models.BacktestResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode backtest result: %w", err)
	}
	return &result, nil
}

// ListBacktestResults returns the most recent backtests first.
func (s *SQLiteStore) ListBacktestResults(ctx context.Context, limit int) ([]BacktestRecord, error) {
	query := `SELECT id, name, symbols, started_at, total_trades, success_rate, avg_movement
		FROM backtest_results ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest results: %w", err)
	}
	defer rows.Close()

	var records []BacktestRecord
	for rows.Next() {
		var r BacktestRecord
		var name sql.NullString
		var symbols string
		if err := rows.Scan(&r.ID, &name, &symbols, &r.StartedAt, &r.TotalTrades, &r.SuccessRate, &r.AvgMovement); err != nil {
			return nil, fmt.Errorf("failed to scan backtest result: %w", err)
		}
		r.Name = name.String
		if symbols != "" {
			r.Symbols = strings.Split(symbols, ",")
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// ============================================================================
// Sweep Methods
// ============================================================================

// SaveSweep saves a detected sweep.
func (s *SQLiteStore) SaveSweep(ctx context.Context, sweep *models.Sweep) error {
	exchanges, _ := json.Marshal(sweep.Exchanges)
	block := 0
	if sweep.BlockTrade {
		block = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sweeps (id, symbol, contract, type, strike, expiration, side, total_size, premium, avg_price, prints, exchanges, sentiment, first_at, last_at, block_trade)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sweep.ID, sweep.Symbol, sweep.Contract, sweep.Type, sweep.Strike, sweep.Expiration.UTC(), sweep.Side,
		sweep.TotalSize, sweep.Premium, sweep.AvgPrice, sweep.Prints, string(exchanges), sweep.Sentiment,
		sweep.FirstAt.UTC(), sweep.LastAt.UTC(), block)
	if err != nil {
		return fmt.Errorf("failed to save sweep: %w", err)
	}
	return nil
}

// ListSweeps retrieves sweeps, newest first.
func (s *SQLiteStore) ListSweeps(ctx context.Context, filter SweepFilter) ([]models.Sweep, error) {
	query := "SELECT id, symbol, contract, type, strike, expiration, side, total_size, premium, avg_price, prints, exchanges, sentiment, first_at, last_at, block_trade FROM sweeps WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	if !filter.Since.IsZero() {
		query += " AND last_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.MinPremium > 0 {
		query += " AND premium >= ?"
		args = append(args, filter.MinPremium)
	}

	query += " ORDER BY last_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []models.Sweep
	for rows.Next() {
		var sw models.Sweep
		var exchangesJSON, sentiment sql.NullString
		var block int

		if err := rows.Scan(&sw.ID, &sw.Symbol, &sw.Contract, &sw.Type, &sw.Strike, &sw.Expiration, &sw.Side,
			&sw.TotalSize, &sw.Premium, &sw.AvgPrice, &sw.Prints, &exchangesJSON, &sentiment,
			&sw.FirstAt, &sw.LastAt, &block); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}

		if exchangesJSON.Valid {
			json.Unmarshal([]byte(exchangesJSON.String), &sw.Exchanges)
		}
		sw.Sentiment = models.Sentiment(sentiment.String)
		sw.BlockTrade = block == 1
		sweeps = append(sweeps, sw)
	}

	return sweeps, rows.Err()
}

// ============================================================================
// Alert Config Methods
// ============================================================================

// SaveAlertConfig inserts or replaces an alert config by ID.
func (s *SQLiteStore) SaveAlertConfig(ctx context.Context, cfg *models.SnoopAlertConfig) error {
	if cfg.ID == "" {
		return errors.NewValidationError("id", "", "alert config has no id")
	}
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now()
	}
	symbols, _ := json.Marshal(cfg.Symbols)
	types, _ := json.Marshal(cfg.OptionTypes)
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alert_configs (id, symbols, min_premium, option_types, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cfg.ID, string(symbols), cfg.MinPremium, string(types), enabled, cfg.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save alert config: %w", err)
	}
	return nil
}

// GetAlertConfig loads an alert config by ID.
func (s *SQLiteStore) GetAlertConfig(ctx context.Context, id string) (*models.SnoopAlertConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbols, min_premium, option_types, enabled, updated_at FROM alert_configs WHERE id = ?
	`, id)
	cfg, err := scanAlertConfig(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "alert config %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert config: %w", err)
	}
	return cfg, nil
}

// ListAlertConfigs returns all alert configs, optionally only enabled ones.
func (s *SQLiteStore) ListAlertConfigs(ctx context.Context, enabledOnly bool) ([]models.SnoopAlertConfig, error) {
	query := "SELECT id, symbols, min_premium, option_types, enabled, updated_at FROM alert_configs"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert configs: %w", err)
	}
	defer rows.Close()

	var configs []models.SnoopAlertConfig
	for rows.Next() {
		cfg, err := scanAlertConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert config: %w", err)
		}
		configs = append(configs, *cfg)
	}

	return configs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertConfig(row scanner) (*models.SnoopAlertConfig, error) {
	var cfg models.SnoopAlertConfig
	var symbols, types sql.NullString
	var enabled int
	if err := row.Scan(&cfg.ID, &symbols, &cfg.MinPremium, &types, &enabled, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	if symbols.Valid {
		if err := json.Unmarshal([]byte(symbols.String), &cfg.Symbols); err != nil {
			return nil, fmt.Errorf("alert config %s: decode symbols: %w", cfg.ID, err)
		}
	}
	if types.Valid {
		if err := json.Unmarshal([]byte(types.String), &cfg.OptionTypes); err != nil {
			return nil, fmt.Errorf("alert config %s: decode option types: %w", cfg.ID, err)
		}
	}
	cfg.Enabled = enabled == 1
	return &cfg, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t.UTC()
	s.mu.Unlock()

	return nil
}

// parseTimestamp reads a timestamp returned by an aggregate, which the driver
// hands back as text rather than time.Time.
func parseTimestamp(v string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q", v)
}
