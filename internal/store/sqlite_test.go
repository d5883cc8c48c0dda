package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoopflow/internal/errors"
	"snoopflow/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snoopflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCoverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.GetCoverage(ctx, "AAPL", "1d")
	require.NoError(t, err)
	assert.False(t, ok)

	from := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCoverage(ctx, "AAPL", "1d", from, to))
	require.NoError(t, s.SetCoverage(ctx, "AAPL", "1d", from, to.AddDate(0, 0, 3)))

	gotFrom, gotTo, ok, err := s.GetCoverage(ctx, "AAPL", "1d")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, gotFrom.Equal(from))
	assert.True(t, gotTo.Equal(to.AddDate(0, 0, 3)))
}

func TestCandlesFreshness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fresh, err := s.GetCandlesFreshness(ctx, "SPY", "1d")
	require.NoError(t, err)
	assert.True(t, fresh.IsZero())

	candles := generateTestCandles(3, 500, 1000)
	require.NoError(t, s.SaveCandles(ctx, "SPY", "1d", candles))

	fresh, err = s.GetCandlesFreshness(ctx, "SPY", "1d")
	require.NoError(t, err)
	assert.True(t, fresh.Equal(candles[2].Timestamp), "got %s", fresh)
}

func TestBacktestResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &models.BacktestResult{
		ID:        "bt-1",
		Config:    models.BacktestConfig{Name: "calls", Symbols: []string{"AAPL", "NVDA"}, TargetMovement: 3, TimeHorizon: 5},
		StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Summary:   models.BacktestSummary{TotalTrades: 4, Successes: 3, SuccessRate: 75, AvgMovement: 2.5},
		Trades: []models.BacktestTrade{
			{Activity: models.OptionsActivity{Contract: "O:AAPL250117C00105000", Premium: 300_000}, StockMovement: 7, TargetReached: true},
		},
	}
	newer := &models.BacktestResult{
		ID:        "bt-2",
		Config:    models.BacktestConfig{Name: "puts", Symbols: []string{"SPY"}},
		StartedAt: older.StartedAt.Add(time.Hour),
	}
	require.NoError(t, s.SaveBacktestResult(ctx, older))
	require.NoError(t, s.SaveBacktestResult(ctx, newer))

	got, err := s.GetBacktestResult(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, "calls", got.Config.Name)
	require.Len(t, got.Trades, 1)
	assert.Equal(t, 300_000.0, got.Trades[0].Activity.Premium)
	assert.Equal(t, 75.0, got.Summary.SuccessRate)

	_, err = s.GetBacktestResult(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	records, err := s.ListBacktestResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "bt-2", records[0].ID)
	assert.Equal(t, []string{"AAPL", "NVDA"}, records[1].Symbols)
	assert.Equal(t, 4, records[1].TotalTrades)

	records, err = s.ListBacktestResults(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.ErrorIs(t, s.SaveBacktestResult(ctx, &models.BacktestResult{}), errors.ErrInputValidation)
}

func TestSweeps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

	sweeps := []models.Sweep{
		{ID: "s1", Symbol: "AAPL", Contract: "O:AAPL250321C00230000", Type: models.OptionCall, Strike: 230,
			Expiration: time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), Side: models.SideBuy, TotalSize: 400,
			Premium: 120_000, AvgPrice: 3, Prints: 4, Exchanges: []int{302, 303, 309}, Sentiment: models.SentimentBullish,
			FirstAt: base, LastAt: base.Add(400 * time.Millisecond), BlockTrade: true},
		{ID: "s2", Symbol: "AAPL", Contract: "O:AAPL250321P00220000", Type: models.OptionPut, Strike: 220,
			Side: models.SideSell, TotalSize: 50, Premium: 10_000, AvgPrice: 2, Prints: 3,
			FirstAt: base.Add(time.Minute), LastAt: base.Add(time.Minute)},
		{ID: "s3", Symbol: "NVDA", Contract: "O:NVDA250321C00120000", Type: models.OptionCall, Strike: 120,
			Side: models.SideBuy, TotalSize: 1000, Premium: 500_000, AvgPrice: 5, Prints: 6,
			FirstAt: base.Add(2 * time.Minute), LastAt: base.Add(2 * time.Minute)},
	}
	for i := range sweeps {
		require.NoError(t, s.SaveSweep(ctx, &sweeps[i]))
	}

	all, err := s.ListSweeps(ctx, SweepFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID, "newest first")

	aapl, err := s.ListSweeps(ctx, SweepFilter{Symbol: "aapl"})
	require.NoError(t, err)
	require.Len(t, aapl, 2)
	first := aapl[1]
	assert.Equal(t, []int{302, 303, 309}, first.Exchanges)
	assert.True(t, first.BlockTrade)
	assert.Equal(t, models.SentimentBullish, first.Sentiment)
	assert.True(t, first.Expiration.Equal(sweeps[0].Expiration))

	big, err := s.ListSweeps(ctx, SweepFilter{MinPremium: 100_000, Since: base.Add(time.Second), Limit: 5})
	require.NoError(t, err)
	require.Len(t, big, 1)
	assert.Equal(t, "s3", big[0].ID)
}

func TestAlertConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := &models.SnoopAlertConfig{ID: "default", Symbols: []string{"AAPL"}, MinPremium: 50_000,
		OptionTypes: []models.OptionType{models.OptionCall}, Enabled: true}
	require.NoError(t, s.SaveAlertConfig(ctx, cfg))
	assert.False(t, cfg.UpdatedAt.IsZero())

	cfg.MinPremium = 75_000
	require.NoError(t, s.SaveAlertConfig(ctx, cfg))
	require.NoError(t, s.SaveAlertConfig(ctx, &models.SnoopAlertConfig{ID: "muted"}))

	got, err := s.GetAlertConfig(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 75_000.0, got.MinPremium)
	assert.Equal(t, []string{"AAPL"}, got.Symbols)
	assert.Equal(t, []models.OptionType{models.OptionCall}, got.OptionTypes)
	assert.True(t, got.Enabled)

	_, err = s.GetAlertConfig(ctx, "nope")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	all, err := s.ListAlertConfigs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := s.ListAlertConfigs(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "default", enabled[0].ID)
}

func TestAlertConfigCorruptRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO alert_configs (id, symbols, min_premium, option_types, enabled, updated_at)
		VALUES ('broken', '["AAPL"', 0, '["call"]', 1, ?)`, time.Now().UTC())
	require.NoError(t, err)

	_, err = s.GetAlertConfig(ctx, "broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrNotFound)

	_, err = s.ListAlertConfigs(ctx, true)
	assert.Error(t, err)
}

func TestLastSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)

	assert.True(t, s.GetLastSync(SyncBlockScan).IsZero())
	at := time.Date(2025, 3, 3, 21, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSync(SyncBlockScan, at))
	assert.True(t, s.GetLastSync(SyncBlockScan).Equal(at))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.GetLastSync(SyncBlockScan).Equal(at), "persisted across reopen")
}
