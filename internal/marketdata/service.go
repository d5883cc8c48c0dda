// Package marketdata turns provider responses into classified options
// activity and daily candles.
package marketdata

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"snoopflow/internal/classifier"
	"snoopflow/internal/errors"
	"snoopflow/internal/filter"
	"snoopflow/internal/logging"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
	"snoopflow/internal/polygon"
	"snoopflow/internal/workers"
)

// Provider is the subset of the Polygon client the service needs.
type Provider interface {
	OptionChainSnapshot(ctx context.Context, underlying string) ([]models.OptionsActivity, error)
	DailyAggregates(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error)
	OptionContracts(ctx context.Context, underlying string, asOf time.Time, limit int) ([]polygon.Contract, error)
}

// CandleCache persists daily candles and the date range already fetched.
type CandleCache interface {
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCoverage(ctx context.Context, symbol, timeframe string) (from, to time.Time, ok bool, err error)
	SetCoverage(ctx context.Context, symbol, timeframe string, from, to time.Time) error
}

// Publisher receives newly observed activity.
type Publisher interface {
	PublishActivity(a models.OptionsActivity)
}

const (
	// DailyTimeframe keys daily bars in the candle cache.
	DailyTimeframe = "1d"

	// contractsPerLookup bounds the reference listing for a historical date.
	contractsPerLookup = 1000
	// maxCandidates bounds the per-contract bar requests for one date.
	maxCandidates = 40
	// strikeBand keeps contracts within this fraction of the underlying close.
	strikeBand = 0.15
	// maxExpiryDays keeps contracts expiring within this many days.
	maxExpiryDays = 45
)

// Options configures a Service.
type Options struct {
	Thresholds     classifier.Thresholds
	Workers        int
	RecentCapacity int
	Candles        CandleCache
	Publisher      Publisher
	Logger         zerolog.Logger
}

// Service fetches, classifies and caches market data.
type Service struct {
	provider   Provider
	thresholds classifier.Thresholds
	workers    int
	candles    CandleCache
	publisher  Publisher
	recent     *Ring[models.OptionsActivity]
	logger     zerolog.Logger

	mu       sync.Mutex
	lastSeen map[string]int64 // contract -> volume at last publish
	now      func() time.Time
}

// ActivityResult is the merged activity for a set of symbols.
type ActivityResult struct {
	Activities    []models.OptionsActivity `json:"activities"`
	FailedSymbols []string                 `json:"failed_symbols,omitempty"`
	FetchedAt     time.Time                `json:"fetched_at"`
}

// NewService creates a Service.
func NewService(provider Provider, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.RecentCapacity <= 0 {
		opts.RecentCapacity = 200
	}
	if opts.Thresholds == (classifier.Thresholds{}) {
		opts.Thresholds = classifier.Default()
	}
	return &Service{
		provider:   provider,
		thresholds: opts.Thresholds,
		workers:    opts.Workers,
		candles:    opts.Candles,
		publisher:  opts.Publisher,
		recent:     NewRing[models.OptionsActivity](opts.RecentCapacity),
		logger:     logging.WithComponent(opts.Logger, "marketdata"),
		lastSeen:   make(map[string]int64),
		now:        time.Now,
	}
}

// Thresholds returns the active classifier thresholds.
func (s *Service) Thresholds() classifier.Thresholds {
	return s.thresholds
}

// NormalizeSymbols upper-cases, trims and de-duplicates symbols, keeping order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		for _, part := range strings.Split(s, ",") {
			p := strings.ToUpper(strings.TrimSpace(part))
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// FetchActivity pulls the chain snapshot for every symbol concurrently,
// classifies each row and returns them merged by premium, largest first.
// A symbol that fails yields no rows and is listed in FailedSymbols; an error
// is returned only when every symbol failed.
func (s *Service) FetchActivity(ctx context.Context, symbols []string) (*ActivityResult, error) {
	symbols = NormalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, errors.NewValidationError("symbols", symbols, "at least one symbol is required")
	}

	var (
		mu       sync.Mutex
		all      []models.OptionsActivity
		failed   []string
		firstErr error
	)

	workers.ForEach(ctx, s.workers, symbols, func(ctx context.Context, symbol string) {
		rows, err := s.provider.OptionChainSnapshot(ctx, symbol)
		if err != nil {
			log := logging.WithSymbol(s.logger, symbol)
			log.Warn().Err(err).Msg("Chain snapshot failed")
			mu.Lock()
			failed = append(failed, symbol)
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			return
		}
		rows = s.thresholds.ClassifyAll(rows)

		mu.Lock()
		all = append(all, rows...)
		mu.Unlock()
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Strings(failed)
	filter.Sort(all, filter.SortPremium, true)
	metrics.RecordClassified(all)
	s.remember(all)

	result := &ActivityResult{
		Activities:    all,
		FailedSymbols: failed,
		FetchedAt:     s.now().UTC(),
	}
	if len(failed) == len(symbols) {
		return result, errors.Wrap(firstErr, "every symbol failed")
	}
	return result, nil
}

// UnusualActivity is FetchActivity restricted to unusual rows that also match opts.
func (s *Service) UnusualActivity(ctx context.Context, symbols []string, opts models.FilterOptions) (*ActivityResult, error) {
	res, err := s.FetchActivity(ctx, symbols)
	if res == nil {
		return nil, err
	}
	opts.UnusualOnly = true
	res.Activities = filter.Apply(res.Activities, opts)
	return res, err
}

// Recent returns up to limit of the most recently observed rows, newest first.
func (s *Service) Recent(limit int) []models.OptionsActivity {
	return s.recent.Snapshot(limit)
}

// remember records rows whose volume changed since they were last seen and
// publishes them.
func (s *Service) remember(rows []models.OptionsActivity) {
	s.mu.Lock()
	var fresh []models.OptionsActivity
	for _, a := range rows {
		if a.Volume <= 0 {
			continue
		}
		if prev, ok := s.lastSeen[a.Contract]; ok && prev == a.Volume {
			continue
		}
		s.lastSeen[a.Contract] = a.Volume
		fresh = append(fresh, a)
	}
	if len(s.lastSeen) > 100_000 {
		s.lastSeen = make(map[string]int64)
	}
	s.mu.Unlock()

	// Push oldest first so the ring's newest entry is the largest premium.
	for i := len(fresh) - 1; i >= 0; i-- {
		s.recent.Push(fresh[i])
		if s.publisher != nil {
			s.publisher.PublishActivity(fresh[i])
		}
	}
}

// EOD returns daily candles for symbol over [from, to], served from the
// candle cache when the range was fetched before and has closed.
func (s *Service) EOD(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errors.NewValidationError("symbol", symbol, "required")
	}
	from, to = truncateDay(from), truncateDay(to)
	if to.Before(from) {
		return nil, errors.NewValidationError("to", to.Format("2006-01-02"), "before from")
	}

	today := truncateDay(s.now().UTC())
	if s.candles != nil && to.Before(today) {
		cf, ct, ok, err := s.candles.GetCoverage(ctx, symbol, DailyTimeframe)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle coverage lookup failed")
		} else if ok && !cf.After(from) && !ct.Before(to) {
			cached, err := s.candles.GetCandles(ctx, symbol, DailyTimeframe, from, endOfDay(to))
			if err == nil && len(cached) > 0 {
				return cached, nil
			}
		}
	}

	candles, err := s.provider.DailyAggregates(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	if s.candles != nil {
		s.cacheCandles(ctx, symbol, from, minTime(to, today.AddDate(0, 0, -1)), candles)
	}
	return candles, nil
}

func (s *Service) cacheCandles(ctx context.Context, symbol string, from, to time.Time, candles []models.Candle) {
	var closed []models.Candle
	for _, c := range candles {
		if !truncateDay(c.Timestamp).After(to) {
			closed = append(closed, c)
		}
	}
	if len(closed) == 0 || to.Before(from) {
		return
	}
	if err := s.candles.SaveCandles(ctx, symbol, DailyTimeframe, closed); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Caching candles failed")
		return
	}

	cf, ct, ok, err := s.candles.GetCoverage(ctx, symbol, DailyTimeframe)
	if err == nil && ok && !cf.After(to.AddDate(0, 0, 1)) && !ct.Before(from.AddDate(0, 0, -1)) {
		from, to = minTime(from, cf), maxTime(to, ct)
	}
	if err := s.candles.SetCoverage(ctx, symbol, DailyTimeframe, from, to); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Recording candle coverage failed")
	}
}

// MostActiveOptions returns the n most traded contracts on symbol for a past
// date, classified from their daily bars. Location is inferred from the
// bar's close against its VWAP since historical quotes are not fetched;
// Greeks are left empty.
func (s *Service) MostActiveOptions(ctx context.Context, symbol string, date time.Time, n int) ([]models.OptionsActivity, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	date = truncateDay(date)
	if n <= 0 {
		n = 10
	}

	underlying, err := s.provider.DailyAggregates(ctx, symbol, date, date)
	if err != nil {
		return nil, err
	}
	spot := underlying[len(underlying)-1].Close

	contracts, err := s.provider.OptionContracts(ctx, symbol, date, contractsPerLookup)
	if err != nil {
		return nil, err
	}
	candidates := nearTheMoney(contracts, spot, date)
	if len(candidates) == 0 {
		return nil, errors.NewDataError("options", symbol, "no contracts near the money", errors.ErrNoData)
	}

	var (
		mu   sync.Mutex
		rows []models.OptionsActivity
	)
	workers.ForEach(ctx, s.workers, candidates, func(ctx context.Context, ct polygon.Contract) {
		bars, err := s.provider.DailyAggregates(ctx, ct.Ticker, date, date)
		if err != nil || len(bars) == 0 || bars[0].Volume == 0 {
			return
		}
		bar := bars[0]
		price := bar.VWAP
		if price <= 0 {
			price = bar.Close
		}
		a := models.OptionsActivity{
			Symbol:          symbol,
			Contract:        ct.Ticker,
			Strike:          ct.Strike,
			Expiration:      ct.Expiration(),
			Type:            ct.Type,
			Volume:          bar.Volume,
			Last:            bar.Close,
			VWAP:            bar.VWAP,
			Premium:         classifier.Premium(price, bar.Volume),
			UnderlyingPrice: spot,
			Timestamp:       date,
			Location:        classifier.InferLocation(bar.Close, bar.VWAP),
		}
		s.thresholds.Classify(&a)

		mu.Lock()
		rows = append(rows, a)
		mu.Unlock()
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Volume != rows[j].Volume {
			return rows[i].Volume > rows[j].Volume
		}
		return rows[i].Contract < rows[j].Contract
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows, nil
}

// nearTheMoney keeps live contracts close to spot, nearest strikes first.
func nearTheMoney(contracts []polygon.Contract, spot float64, date time.Time) []polygon.Contract {
	horizon := date.AddDate(0, 0, maxExpiryDays)
	var out []polygon.Contract
	for _, c := range contracts {
		exp := c.Expiration()
		if exp.Before(date) || exp.After(horizon) {
			continue
		}
		if spot > 0 && math.Abs(c.Strike-spot)/spot > strikeBand {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := math.Abs(out[i].Strike-spot), math.Abs(out[j].Strike-spot)
		if di != dj {
			return di < dj
		}
		return out[i].Expiration().Before(out[j].Expiration())
	})
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return truncateDay(t).Add(24*time.Hour - time.Nanosecond)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
