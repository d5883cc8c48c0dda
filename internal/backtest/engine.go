// Package backtest replays history to measure how often unusual options
// activity preceded a stock move in the direction it implied.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"snoopflow/internal/classifier"
	"snoopflow/internal/errors"
	"snoopflow/internal/logging"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
	"snoopflow/internal/workers"
)

// DataSource supplies daily candles and historical options activity.
type DataSource interface {
	EOD(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
	MostActiveOptions(ctx context.Context, symbol string, date time.Time, n int) ([]models.OptionsActivity, error)
}

// ResultStore persists finished runs.
type ResultStore interface {
	SaveBacktestResult(ctx context.Context, result *models.BacktestResult) error
}

const (
	defaultLookbackDays = 3
	maxLookbackDays     = 10
	defaultTopContracts = 10
	// leadDays of history before StartDate give the first day a previous close.
	leadDays = 7
	// exitPaddingDays covers weekends and holidays after the horizon.
	exitPaddingDays = 7
)

// Options configures an Engine.
type Options struct {
	LookbackDays int
	TopContracts int
	Concurrency  int
	Store        ResultStore
	Logger       zerolog.Logger
}

// Engine runs backtests.
type Engine struct {
	data         DataSource
	store        ResultStore
	lookbackDays int
	topContracts int
	concurrency  int
	logger       zerolog.Logger
	now          func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(data DataSource, opts Options) *Engine {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultLookbackDays
	}
	if opts.TopContracts <= 0 {
		opts.TopContracts = defaultTopContracts
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Engine{
		data:         data,
		store:        opts.Store,
		lookbackDays: opts.LookbackDays,
		topContracts: opts.TopContracts,
		concurrency:  opts.Concurrency,
		logger:       logging.WithComponent(opts.Logger, "backtest"),
		now:          time.Now,
	}
}

// symbolRun is the outcome for one symbol.
type symbolRun struct {
	trades  []models.BacktestTrade
	flagged int
	err     error
}

// Run executes one backtest. Symbols are processed concurrently; a symbol
// whose candles cannot be fetched is reported in FailedSymbols.
func (e *Engine) Run(ctx context.Context, cfg models.BacktestConfig) (result *models.BacktestResult, err error) {
	start := e.now()
	defer func() { metrics.RecordBacktest(e.now().Sub(start), err) }()

	cfg, err = e.normalize(cfg)
	if err != nil {
		return nil, err
	}

	log := e.logger.With().Str("pattern", cfg.Name).Strs("symbols", cfg.Symbols).Logger()
	log.Info().
		Time("start", cfg.StartDate).
		Time("end", cfg.EndDate).
		Float64("target", cfg.TargetMovement).
		Int("horizon", cfg.TimeHorizon).
		Msg("Backtest started")

	runs := make(map[string]symbolRun, len(cfg.Symbols))
	var mu sync.Mutex
	workers.ForEach(ctx, e.concurrency, cfg.Symbols, func(ctx context.Context, symbol string) {
		r := e.runSymbol(ctx, cfg, symbol)
		mu.Lock()
		runs[symbol] = r
		mu.Unlock()
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result = &models.BacktestResult{
		Config:    cfg,
		Trades:    []models.BacktestTrade{},
		StartedAt: start.UTC(),
	}
	flagged := 0
	var firstErr error
	for _, symbol := range cfg.Symbols {
		r := runs[symbol]
		if r.err != nil {
			result.FailedSymbols = append(result.FailedSymbols, symbol)
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		flagged += r.flagged
		result.Trades = append(result.Trades, r.trades...)
	}
	if len(result.FailedSymbols) == len(cfg.Symbols) {
		return nil, errors.Wrap(firstErr, "no symbol could be backtested")
	}

	sort.SliceStable(result.Trades, func(i, j int) bool {
		return result.Trades[i].TradeDate.Before(result.Trades[j].TradeDate)
	})
	result.Summary = Summarize(result.Trades, flagged)
	result.Duration = e.now().Sub(start)

	if e.store != nil {
		result.ID = uuid.NewString()
		if err := e.store.SaveBacktestResult(ctx, result); err != nil {
			log.Warn().Err(err).Msg("Saving backtest result failed")
			result.ID = ""
		}
	}

	log.Info().
		Int("trades", result.Summary.TotalTrades).
		Float64("success_rate", result.Summary.SuccessRate).
		Dur("duration", result.Duration).
		Msg("Backtest finished")
	return result, nil
}

func (e *Engine) runSymbol(ctx context.Context, cfg models.BacktestConfig, symbol string) symbolRun {
	log := logging.WithSymbol(e.logger, symbol)

	to := cfg.EndDate.AddDate(0, 0, cfg.TimeHorizon+exitPaddingDays)
	if today := truncateDay(e.now().UTC()); to.After(today) {
		to = today
	}
	candles, err := e.data.EOD(ctx, symbol, cfg.StartDate.AddDate(0, 0, -leadDays), to)
	if err != nil {
		log.Warn().Err(err).Msg("Fetching candles failed")
		return symbolRun{err: err}
	}
	if len(candles) < 2 {
		return symbolRun{err: errors.NewDataError("candles", symbol, "need at least two daily bars", errors.ErrNoData)}
	}

	moves := FlagMoves(candles, cfg.StartDate, cfg.EndDate, cfg.TargetMovement)
	run := symbolRun{flagged: len(moves)}
	seen := make(map[string]bool)

	for _, mv := range moves {
		for back := 1; back <= cfg.LookbackDays; back++ {
			if ctx.Err() != nil {
				return run
			}
			date := mv.Date.AddDate(0, 0, -back)
			if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			acts, err := e.data.MostActiveOptions(ctx, symbol, date, cfg.TopContracts)
			if err != nil {
				if !errors.Is(err, errors.ErrNoData) {
					log.Debug().Err(err).Time("date", date).Msg("Most active options unavailable")
				}
				continue
			}

			for _, a := range acts {
				key := a.Contract + "|" + date.Format("2006-01-02")
				if seen[key] || !Qualifies(a, cfg) {
					continue
				}
				seen[key] = true

				trade, ok := evaluate(a, date, mv, candles, cfg)
				if ok {
					run.trades = append(run.trades, trade)
				}
			}
		}
	}
	return run
}

// Move is a flagged daily close-to-close move.
type Move struct {
	Date    time.Time
	Percent float64
}

// FlagMoves returns the days in [start, end] whose close moved at least
// target percent from the previous close.
func FlagMoves(candles []models.Candle, start, end time.Time, target float64) []Move {
	var moves []Move
	for i := 1; i < len(candles); i++ {
		d := truncateDay(candles[i].Timestamp)
		if d.Before(start) || d.After(end) {
			continue
		}
		prev := candles[i-1].Close
		if prev <= 0 {
			continue
		}
		pct := (candles[i].Close - prev) / prev * 100
		if abs(pct) >= target {
			moves = append(moves, Move{Date: d, Percent: pct})
		}
	}
	return moves
}

// Qualifies applies the pattern's activity filters.
func Qualifies(a models.OptionsActivity, cfg models.BacktestConfig) bool {
	if !a.Unusual {
		return false
	}
	if a.Volume < cfg.MinVolume || a.Premium < cfg.MinPremium {
		return false
	}
	if len(cfg.OptionTypes) > 0 && !containsType(cfg.OptionTypes, a.Type) {
		return false
	}
	if len(cfg.TradeLocations) > 0 && !containsLocation(cfg.TradeLocations, a.Location) {
		return false
	}
	return true
}

// TargetReached reports whether movement satisfied the directional bet.
// Neutral bets never succeed.
func TargetReached(direction models.Sentiment, movement, target float64) bool {
	switch direction {
	case models.SentimentBullish:
		return movement >= target
	case models.SentimentBearish:
		return movement <= -target
	default:
		return false
	}
}

// evaluate prices the stock at the trade date and after the horizon. It
// reports false when either price is outside the fetched candles.
func evaluate(a models.OptionsActivity, date time.Time, mv Move, candles []models.Candle, cfg models.BacktestConfig) (models.BacktestTrade, bool) {
	entryIdx := closeOnOrAfter(candles, date)
	if entryIdx < 0 {
		return models.BacktestTrade{}, false
	}
	exitIdx := closeOnOrAfter(candles, date.AddDate(0, 0, cfg.TimeHorizon))
	if exitIdx < 0 {
		return models.BacktestTrade{}, false
	}

	entry, exit := candles[entryIdx].Close, candles[exitIdx].Close
	if entry <= 0 {
		return models.BacktestTrade{}, false
	}
	movement := (exit - entry) / entry * 100
	direction := classifier.Direction(a.Type, a.Location)

	return models.BacktestTrade{
		Activity:        a,
		TradeDate:       date,
		MoveDate:        mv.Date,
		ExitDate:        truncateDay(candles[exitIdx].Timestamp),
		EntryPrice:      entry,
		ExitPrice:       exit,
		StockMovement:   movement,
		Direction:       direction,
		TargetReached:   TargetReached(direction, movement, cfg.TargetMovement),
		FlaggedMovement: mv.Percent,
	}, true
}

// closeOnOrAfter returns the index of the first candle on or after date, or -1.
func closeOnOrAfter(candles []models.Candle, date time.Time) int {
	date = truncateDay(date)
	i := sort.Search(len(candles), func(i int) bool {
		return !truncateDay(candles[i].Timestamp).Before(date)
	})
	if i == len(candles) {
		return -1
	}
	return i
}

// normalize validates cfg and fills defaults.
func (e *Engine) normalize(cfg models.BacktestConfig) (models.BacktestConfig, error) {
	var symbols []string
	seen := map[string]bool{}
	for _, s := range cfg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return cfg, errors.NewValidationError("symbols", cfg.Symbols, "at least one symbol is required")
	}
	cfg.Symbols = symbols

	if cfg.StartDate.IsZero() || cfg.EndDate.IsZero() {
		return cfg, errors.NewValidationError("start_date", cfg.StartDate, "start and end dates are required")
	}
	cfg.StartDate, cfg.EndDate = truncateDay(cfg.StartDate), truncateDay(cfg.EndDate)
	if cfg.EndDate.Before(cfg.StartDate) {
		return cfg, errors.NewValidationError("end_date", cfg.EndDate.Format("2006-01-02"), "must not be before start_date")
	}
	if cfg.EndDate.After(truncateDay(e.now().UTC())) {
		return cfg, errors.NewValidationError("end_date", cfg.EndDate.Format("2006-01-02"), "must not be in the future")
	}
	if cfg.TargetMovement <= 0 {
		return cfg, errors.NewValidationError("target_movement", cfg.TargetMovement, "must be positive")
	}
	if cfg.TimeHorizon < 1 {
		return cfg, errors.NewValidationError("time_horizon", cfg.TimeHorizon, "must be at least one day")
	}
	if cfg.MinVolume < 0 || cfg.MinPremium < 0 {
		return cfg, errors.NewValidationError("min_volume", cfg.MinVolume, "minimums must not be negative")
	}

	if cfg.LookbackDays == 0 {
		cfg.LookbackDays = e.lookbackDays
	}
	if cfg.LookbackDays < 1 || cfg.LookbackDays > maxLookbackDays {
		return cfg, errors.NewValidationError("lookback_days", cfg.LookbackDays, fmt.Sprintf("must be between 1 and %d", maxLookbackDays))
	}
	if cfg.TopContracts <= 0 {
		cfg.TopContracts = e.topContracts
	}

	cfg.OptionTypes = append([]models.OptionType(nil), cfg.OptionTypes...)
	cfg.TradeLocations = append([]models.TradeLocation(nil), cfg.TradeLocations...)
	for i, t := range cfg.OptionTypes {
		pt, ok := models.ParseOptionType(string(t))
		if !ok {
			return cfg, errors.NewValidationError("option_types", t, "must be call or put")
		}
		cfg.OptionTypes[i] = pt
	}
	for i, l := range cfg.TradeLocations {
		pl, ok := models.ParseTradeLocation(string(l))
		if !ok {
			return cfg, errors.NewValidationError("trade_locations", l, "unknown trade location")
		}
		cfg.TradeLocations[i] = pl
	}
	return cfg, nil
}

// Compare runs each pattern and ranks them by success rate, then by trade
// count. Patterns that fail are logged and left out of the ranking.
func (e *Engine) Compare(ctx context.Context, patterns []models.BacktestConfig) ([]models.PatternComparison, []*models.BacktestResult, error) {
	if len(patterns) == 0 {
		return nil, nil, errors.NewValidationError("patterns", 0, "at least one pattern is required")
	}

	var (
		comparisons []models.PatternComparison
		results     []*models.BacktestResult
	)
	for i, p := range patterns {
		if p.Name == "" {
			p.Name = fmt.Sprintf("pattern-%d", i+1)
		}
		res, err := e.Run(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			e.logger.Warn().Err(err).Str("pattern", p.Name).Msg("Pattern failed")
			continue
		}
		results = append(results, res)
		comparisons = append(comparisons, models.PatternComparison{
			Name:        p.Name,
			ResultID:    res.ID,
			TotalTrades: res.Summary.TotalTrades,
			SuccessRate: res.Summary.SuccessRate,
			AvgMovement: res.Summary.AvgMovement,
		})
	}
	if len(comparisons) == 0 {
		return nil, nil, fmt.Errorf("all %d patterns failed", len(patterns))
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		if comparisons[i].SuccessRate != comparisons[j].SuccessRate {
			return comparisons[i].SuccessRate > comparisons[j].SuccessRate
		}
		return comparisons[i].TotalTrades > comparisons[j].TotalTrades
	})
	return comparisons, results, nil
}

func containsType(list []models.OptionType, v models.OptionType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsLocation(list []models.TradeLocation, v models.TradeLocation) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
