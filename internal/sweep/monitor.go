package sweep

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"snoopflow/internal/logging"
	"snoopflow/internal/marketdata"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
	"snoopflow/internal/notify"
	"snoopflow/internal/polygon"
	"snoopflow/internal/store"
	"snoopflow/internal/workers"
)

// FeedSource delivers live trades and quotes.
type FeedSource interface {
	Subscribe(contracts ...string) *polygon.Subscription
	Unsubscribe(sub *polygon.Subscription)
}

// Store persists sweeps and supplies alert preferences.
type Store interface {
	SaveSweep(ctx context.Context, sweep *models.Sweep) error
	ListAlertConfigs(ctx context.Context, enabledOnly bool) ([]models.SnoopAlertConfig, error)
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error
}

// Publisher receives sweeps for live distribution.
type Publisher interface {
	PublishSweep(s models.Sweep)
}

// Scanner fetches classified chain snapshots for the block trade scan.
type Scanner interface {
	FetchActivity(ctx context.Context, symbols []string) (*marketdata.ActivityResult, error)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Detector     DetectorConfig
	Contracts    []string
	ScanSchedule string
	ScanSymbols  []string
	Store        Store
	Notifier     notify.Notifier
	Publisher    Publisher
	Scanner      Scanner
	Workers      int
	Logger       zerolog.Logger
}

// Monitor connects the feed to the detector and hands finished sweeps to the
// store, notifier and publisher. Persistence and notification run on a worker
// pool so a slow webhook never stalls the feed.
type Monitor struct {
	feed      FeedSource
	detector  *Detector
	contracts []string
	schedule  string
	symbols   []string
	store     Store
	notifier  notify.Notifier
	publisher Publisher
	scanner   Scanner
	pool      *workers.Pool
	logger    zerolog.Logger

	mu       sync.Mutex
	detected uint64
	lastScan time.Time
}

// NewMonitor creates a monitor over feed.
func NewMonitor(feed FeedSource, opts MonitorOptions) *Monitor {
	contracts := opts.Contracts
	if len(contracts) == 0 {
		contracts = []string{polygon.AllContracts}
	}
	n := opts.Notifier
	if n == nil {
		n = notify.NewNoOpNotifier()
	}
	w := opts.Workers
	if w <= 0 {
		w = 4
	}
	m := &Monitor{
		feed:      feed,
		detector:  NewDetector(opts.Detector),
		contracts: contracts,
		schedule:  strings.TrimSpace(opts.ScanSchedule),
		symbols:   marketdata.NormalizeSymbols(opts.ScanSymbols),
		store:     opts.Store,
		notifier:  n,
		publisher: opts.Publisher,
		scanner:   opts.Scanner,
		pool:      workers.NewPool(w, 1000),
		logger:    logging.WithComponent(opts.Logger, "sweep"),
	}
	// Resume block dedupe across restarts.
	if m.store != nil {
		m.lastScan = m.store.GetLastSync(store.SyncBlockScan)
	}
	return m
}

// Run consumes the feed until ctx is cancelled. Windows still open at
// shutdown are flushed before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	sub := m.feed.Subscribe(m.contracts...)
	defer m.feed.Unsubscribe(sub)

	m.pool.Start()
	defer m.pool.Stop()

	if m.schedule != "" && m.scanner != nil && len(m.symbols) > 0 {
		c, err := m.startScanner(ctx)
		if err != nil {
			return err
		}
		defer func() { <-c.Stop().Done() }()
	}

	cfg := m.detector.Config()
	tick := cfg.Window / 2
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	m.logger.Info().
		Strs("contracts", m.contracts).
		Dur("window", cfg.Window).
		Int("min_prints", cfg.MinPrints).
		Float64("min_premium", cfg.MinPremium).
		Msg("sweep monitor started")

	// Windows are measured on feed timestamps. lastWall is when the newest
	// print arrived, so a quiet feed still advances the flush clock.
	var last, lastWall time.Time
	for {
		select {
		case <-ctx.Done():
			m.emit(m.detector.Flush(last.Add(cfg.Window + time.Nanosecond)))
			m.logger.Info().Uint64("detected", m.Detected()).Uint64("dropped", sub.Dropped()).Msg("sweep monitor stopped")
			return nil
		case q := <-sub.Quotes:
			m.detector.OnQuote(q)
		case t := <-sub.Trades:
			if t.Timestamp.After(last) {
				last = t.Timestamp
				lastWall = time.Now()
			}
			m.emit(m.detector.OnTrade(t))
		case <-ticker.C:
			if !last.IsZero() {
				m.emit(m.detector.Flush(last.Add(time.Since(lastWall))))
			}
		}
	}
}

// Detected returns the number of sweeps emitted so far.
func (m *Monitor) Detected() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detected
}

func (m *Monitor) emit(sweeps []models.Sweep) {
	for i := range sweeps {
		s := sweeps[i]
		m.mu.Lock()
		m.detected++
		m.mu.Unlock()

		metrics.RecordSweep(s)
		if m.publisher != nil {
			m.publisher.PublishSweep(s)
		}
		logging.LogSweep(m.logger, s.Symbol, s.Contract, string(s.Side), s.TotalSize, s.Premium)

		if !m.pool.Submit(func() { m.deliver(s) }) {
			m.logger.Warn().Str("contract", s.Contract).Msg("delivery queue full, sweep not persisted")
		}
	}
}

// deliver persists a sweep and notifies when an alert config matches.
func (m *Monitor) deliver(s models.Sweep) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var configs []models.SnoopAlertConfig
	if m.store != nil {
		if err := m.store.SaveSweep(ctx, &s); err != nil {
			m.logger.Error().Err(err).Str("id", s.ID).Msg("failed to save sweep")
		}
		if err := m.store.SetLastSync(store.SyncSweepFeed, s.LastAt); err != nil {
			m.logger.Debug().Err(err).Msg("failed to record sweep sync time")
		}
		var err error
		configs, err = m.store.ListAlertConfigs(ctx, true)
		if err != nil {
			m.logger.Warn().Err(err).Msg("failed to load alert configs")
		}
	}

	if !ShouldNotify(s, configs) {
		return
	}
	if err := m.notifier.SendSweep(ctx, &s); err != nil {
		m.logger.Warn().Err(err).Str("id", s.ID).Msg("sweep notification failed")
	}
}

// ShouldNotify reports whether any enabled alert config matches the sweep.
// With no configs every sweep that passed detection is notified.
func ShouldNotify(s models.Sweep, configs []models.SnoopAlertConfig) bool {
	if len(configs) == 0 {
		return true
	}
	for _, c := range configs {
		if c.Enabled && alertMatches(s, c) {
			return true
		}
	}
	return false
}

func alertMatches(s models.Sweep, c models.SnoopAlertConfig) bool {
	if s.Premium < c.MinPremium {
		return false
	}
	if len(c.Symbols) > 0 {
		found := false
		for _, sym := range c.Symbols {
			if strings.EqualFold(sym, s.Symbol) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.OptionTypes) > 0 {
		found := false
		for _, t := range c.OptionTypes {
			if t == s.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *Monitor) startScanner(ctx context.Context) (*cron.Cron, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	if _, err := c.AddFunc(m.schedule, func() {
		if _, err := m.ScanBlocks(ctx); err != nil {
			m.logger.Error().Err(err).Msg("block scan failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.logger.Info().Str("schedule", m.schedule).Strs("symbols", m.symbols).Msg("block scan scheduled")
	return c, nil
}

// ScanBlocks fetches the configured chains once and notifies about block
// trades not already reported since the previous scan.
func (m *Monitor) ScanBlocks(ctx context.Context) ([]models.OptionsActivity, error) {
	if m.scanner == nil {
		return nil, fmt.Errorf("no scanner configured")
	}
	res, err := m.scanner.FetchActivity(ctx, m.symbols)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	since := m.lastScan
	m.lastScan = res.FetchedAt
	m.mu.Unlock()

	var blocks []models.OptionsActivity
	for _, a := range res.Activities {
		if !a.BlockTrade {
			continue
		}
		if !since.IsZero() && !a.Timestamp.IsZero() && !a.Timestamp.After(since) {
			continue
		}
		blocks = append(blocks, a)
	}

	if len(blocks) > 0 {
		if err := m.notifier.SendBlockTrades(ctx, blocks); err != nil {
			m.logger.Warn().Err(err).Int("blocks", len(blocks)).Msg("block trade notification failed")
		}
	}
	if m.store != nil {
		if err := m.store.SetLastSync(store.SyncBlockScan, res.FetchedAt); err != nil {
			m.logger.Debug().Err(err).Msg("failed to record block scan time")
		}
	}
	m.logger.Info().Int("symbols", len(m.symbols)).Int("blocks", len(blocks)).
		Strs("failed", res.FailedSymbols).Msg("block scan complete")
	return blocks, nil
}
