package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoopflow/internal/errors"
	"snoopflow/internal/marketdata"
	"snoopflow/internal/models"
	"snoopflow/internal/store"
	"snoopflow/internal/stream"
	"snoopflow/internal/sweep"
)

type fakeActivity struct {
	gotSymbols []string
	gotOpts    models.FilterOptions
	rows       []models.OptionsActivity
	candles    []models.Candle
	err        error
}

func (f *fakeActivity) UnusualActivity(_ context.Context, symbols []string, opts models.FilterOptions) (*marketdata.ActivityResult, error) {
	f.gotSymbols, f.gotOpts = symbols, opts
	if f.err != nil {
		return nil, f.err
	}
	return &marketdata.ActivityResult{Activities: f.rows, FetchedAt: time.Now()}, nil
}

func (f *fakeActivity) Recent(limit int) []models.OptionsActivity {
	if limit < len(f.rows) {
		return f.rows[:limit]
	}
	return f.rows
}

func (f *fakeActivity) EOD(_ context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	if to.Before(from) {
		return nil, errors.NewValidationError("to", to, "before from")
	}
	return f.candles, nil
}

type fakeMarket struct {
	gotPath  string
	gotQuery url.Values
}

func (f *fakeMarket) AnalystRatings(_ context.Context, ticker string, limit int) ([]models.AnalystRating, error) {
	if ticker == "NONE" {
		return nil, errors.ErrNoData
	}
	return []models.AnalystRating{{Ticker: ticker, Firm: "Acme", Action: "upgrade"}}, nil
}

func (f *fakeMarket) Proxy(_ context.Context, path string, query url.Values) ([]byte, error) {
	f.gotPath, f.gotQuery = path, query
	if !strings.HasPrefix(path, "/v2/aggs/") {
		return nil, errors.Wrapf(errors.ErrPathNotAllowed, "proxy %s", path)
	}
	return []byte(`{"status":"OK"}`), nil
}

type fakeBacktester struct {
	st *store.SQLiteStore
}

func (f *fakeBacktester) Run(ctx context.Context, cfg models.BacktestConfig) (*models.BacktestResult, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.NewValidationError("symbols", cfg.Symbols, "required")
	}
	res := &models.BacktestResult{
		ID:        "bt-1",
		Config:    cfg,
		StartedAt: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
		Summary:   models.BacktestSummary{TotalTrades: 4, Successes: 3, SuccessRate: 75},
	}
	return res, f.st.SaveBacktestResult(ctx, res)
}

func (f *fakeBacktester) Compare(_ context.Context, patterns []models.BacktestConfig) ([]models.PatternComparison, []*models.BacktestResult, error) {
	var out []models.PatternComparison
	for _, p := range patterns {
		out = append(out, models.PatternComparison{Name: p.Name})
	}
	return out, nil, nil
}

type fixture struct {
	srv      *Server
	activity *fakeActivity
	market   *fakeMarket
	store    *store.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		activity: &fakeActivity{},
		market:   &fakeMarket{},
		store:    st,
	}
	f.srv = New(Config{
		Port:       0,
		DevMode:    true,
		Log:        zerolog.Nop(),
		Activity:   f.activity,
		Market:     f.market,
		Backtester: &fakeBacktester{st: st},
		Store:      st,
		Hub:        stream.NewHub(),
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Stream)
	assert.Equal(t, 0, resp.Stream.Subscribers)
	assert.Nil(t, resp.Provider, "fake market has no breaker")
}

func TestActivityParsesFilters(t *testing.T) {
	f := newFixture(t)
	f.activity.rows = []models.OptionsActivity{
		{Symbol: "AAPL", Premium: 10_000, Volume: 900},
		{Symbol: "AAPL", Premium: 90_000, Volume: 100},
	}

	rec := f.do(http.MethodGet, "/api/activity?symbols=aapl,msft&min_premium=5000&types=call&sort=volume", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{"AAPL", "MSFT"}, f.activity.gotSymbols)
	assert.Nil(t, f.activity.gotOpts.Symbols)
	assert.Equal(t, 5000.0, f.activity.gotOpts.MinPremium)
	assert.Equal(t, []models.OptionType{models.OptionCall}, f.activity.gotOpts.OptionTypes)

	var res marketdata.ActivityResult
	decode(t, rec, &res)
	require.Len(t, res.Activities, 2)
	assert.Equal(t, int64(900), res.Activities[0].Volume, "sorted by volume, descending")
}

func TestActivityErrors(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/activity?types=straddle", "").Code)

	f.activity.err = errors.NewValidationError("symbols", nil, "at least one symbol is required")
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/activity", "").Code)

	f.activity.err = errors.NewProviderError("snapshot", 500, "boom", nil)
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/api/activity?symbols=SPY", "").Code)

	f.activity.err = errors.NewProviderError("snapshot", 500, "GET /v3/snapshot?apiKey=AbCdEfGhIjKlMnOpQrStUvWxYz012345", nil)
	rec := f.do(http.MethodGet, "/api/activity?symbols=SPY", "")
	assert.NotContains(t, rec.Body.String(), "AbCdEfGhIjKlMnOpQrStUvWxYz012345")
}

func TestRecentActivity(t *testing.T) {
	f := newFixture(t)
	f.activity.rows = []models.OptionsActivity{{Symbol: "A"}, {Symbol: "B"}, {Symbol: "C"}}

	rec := f.do(http.MethodGet, "/api/activity/recent?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []models.OptionsActivity
	decode(t, rec, &rows)
	assert.Len(t, rows, 2)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/activity/recent?limit=0", "").Code)
}

func TestEOD(t *testing.T) {
	f := newFixture(t)
	f.activity.candles = []models.Candle{{Close: 101}}

	rec := f.do(http.MethodGet, "/api/eod/aapl?from=2025-01-02&to=2025-01-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"AAPL"`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/eod/aapl?from=January", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/eod/aapl?from=2025-02-01&to=2025-01-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/eod/not%20a%20ticker", "").Code)
}

func TestRatings(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/ratings/nvda", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ratings []models.AnalystRating
	decode(t, rec, &ratings)
	require.Len(t, ratings, 1)
	assert.Equal(t, "NVDA", ratings[0].Ticker)

	rec = f.do(http.MethodGet, "/api/ratings/none", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestBacktestLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/backtests", `{"name":"calls at ask","symbols":["AAPL"],"target_movement":5,"time_horizon":3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/backtests", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []store.BacktestRecord
	decode(t, rec, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "bt-1", records[0].ID)
	assert.Equal(t, 75.0, records[0].SuccessRate)

	rec = f.do(http.MethodGet, "/api/backtests/bt-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.BacktestResult
	decode(t, rec, &res)
	assert.Equal(t, "calls at ask", res.Config.Name)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/backtests/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/backtests", `{"symbols":[]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/backtests", `{`).Code)
}

func TestCompareBacktests(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/backtests/compare", `{"patterns":[{"name":"a"},{"name":"b"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ranking []models.PatternComparison
	decode(t, rec, &ranking)
	assert.Len(t, ranking, 2)
}

func TestSweeps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.SaveSweep(ctx, &models.Sweep{ID: "s1", Symbol: "AAPL", Contract: "O:AAPL250321C00230000", Premium: 80_000, FirstAt: at, LastAt: at}))
	require.NoError(t, f.store.SaveSweep(ctx, &models.Sweep{ID: "s2", Symbol: "TSLA", Contract: "O:TSLA250321P00200000", Premium: 300_000, FirstAt: at, LastAt: at.Add(time.Minute)}))

	rec := f.do(http.MethodGet, "/api/sweeps?min_premium=100000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sweeps []models.Sweep
	decode(t, rec, &sweeps)
	require.Len(t, sweeps, 1)
	assert.Equal(t, "s2", sweeps[0].ID)

	rec = f.do(http.MethodGet, "/api/sweeps?symbol=nvda", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/sweeps?since=yesterday", "").Code)
}

func TestAlertConfigs(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/alerts/me", "").Code)

	rec := f.do(http.MethodPut, "/api/alerts/me", `{"symbols":["aapl"," nvda"],"min_premium":100000,"option_types":["call"],"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/alerts/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.SnoopAlertConfig
	decode(t, rec, &cfg)
	assert.Equal(t, "me", cfg.ID)
	assert.Equal(t, []string{"AAPL", "NVDA"}, cfg.Symbols)
	assert.True(t, cfg.Enabled)

	rec = f.do(http.MethodGet, "/api/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.SnoopAlertConfig
	decode(t, rec, &all)
	assert.Len(t, all, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/alerts/me", `{"min_premium":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/alerts/me", `{"symbols":["AAPL;"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/api/alerts/me", `{"option_types":["straddle"]}`).Code)
}

func TestAlertConfigTypesNormalized(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPut, "/api/alerts/calls", `{"option_types":["CALL","C"," put "],"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/alerts/calls", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.SnoopAlertConfig
	decode(t, rec, &cfg)
	assert.Equal(t, []models.OptionType{models.OptionCall, models.OptionCall, models.OptionPut}, cfg.OptionTypes)

	callSweep := models.Sweep{Symbol: "AAPL", Type: models.OptionCall, Premium: 250_000}
	assert.True(t, sweep.ShouldNotify(callSweep, []models.SnoopAlertConfig{cfg}))
}

func TestPolygonProxy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/polygon/v2/aggs/ticker/AAPL/range/1/day/2025-01-01/2025-01-31?adjusted=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"OK"}`, rec.Body.String())
	assert.Equal(t, "/v2/aggs/ticker/AAPL/range/1/day/2025-01-01/2025-01-31", f.market.gotPath)
	assert.Equal(t, "true", f.market.gotQuery.Get("adjusted"))

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/polygon/v1/admin", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/sweeps", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(errors.Wrap(errors.ErrNotFound, "backtest x")))
	assert.Equal(t, http.StatusNotFound, statusFor(errors.NewProviderError("aggs", 404, "", errors.ErrNoData)))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(errors.NewProviderError("aggs", 429, "", errors.ErrRateLimited)))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.NewProviderError("aggs", 401, "", errors.ErrInvalidAPIKey)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.ErrDatabaseError))
}
