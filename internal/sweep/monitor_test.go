package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoopflow/internal/marketdata"
	"snoopflow/internal/models"
	"snoopflow/internal/notify"
	"snoopflow/internal/polygon"
	"snoopflow/internal/store"
)

// fakeFeed hands out a subscription with unbuffered channels so sends from
// the test are observed by the monitor in order.
type fakeFeed struct {
	sub          *polygon.Subscription
	contracts    []string
	unsubscribed bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{sub: &polygon.Subscription{
		Trades: make(chan models.OptionTrade),
		Quotes: make(chan models.OptionQuote),
	}}
}

func (f *fakeFeed) Subscribe(contracts ...string) *polygon.Subscription {
	f.contracts = contracts
	return f.sub
}

func (f *fakeFeed) Unsubscribe(*polygon.Subscription) { f.unsubscribed = true }

type memStore struct {
	mu      sync.Mutex
	sweeps  []models.Sweep
	configs []models.SnoopAlertConfig
	syncs   map[string]time.Time
}

func (m *memStore) SaveSweep(_ context.Context, s *models.Sweep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps = append(m.sweeps, *s)
	return nil
}

func (m *memStore) ListAlertConfigs(context.Context, bool) ([]models.SnoopAlertConfig, error) {
	return m.configs, nil
}

func (m *memStore) GetLastSync(dataType string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs[dataType]
}

func (m *memStore) SetLastSync(dataType string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncs == nil {
		m.syncs = make(map[string]time.Time)
	}
	m.syncs[dataType] = t
	return nil
}

type captureNotifier struct {
	notify.NoOpNotifier
	mu     sync.Mutex
	sweeps []models.Sweep
	blocks [][]models.OptionsActivity
}

func (c *captureNotifier) SendSweep(_ context.Context, s *models.Sweep) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps = append(c.sweeps, *s)
	return nil
}

func (c *captureNotifier) SendBlockTrades(_ context.Context, trades []models.OptionsActivity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, trades)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	sweeps []models.Sweep
}

func (c *capturePublisher) PublishSweep(s models.Sweep) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps = append(c.sweeps, s)
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sweeps)
}

func TestMonitorDeliversSweeps(t *testing.T) {
	feed := newFakeFeed()
	st := &memStore{}
	n := &captureNotifier{}
	pub := &capturePublisher{}

	m := NewMonitor(feed, MonitorOptions{
		Detector:  DetectorConfig{Window: time.Second, MinPrints: 2, MinPremium: 50_000},
		Contracts: []string{contract},
		Store:     st,
		Notifier:  n,
		Publisher: pub,
		Logger:    zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	feed.sub.Quotes <- quote(contract, 2.90, 3.00, t0)
	feed.sub.Trades <- fill(contract, 3.00, 200, 302, t0)
	feed.sub.Trades <- fill(contract, 3.00, 200, 303, t0.Add(300*time.Millisecond))
	// Outside the window: closes the first sweep.
	feed.sub.Trades <- fill(contract, 3.00, 10, 302, t0.Add(2*time.Second))

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{contract}, feed.contracts)
	assert.True(t, feed.unsubscribed)
	assert.Equal(t, uint64(1), m.Detected())

	st.mu.Lock()
	require.Len(t, st.sweeps, 1, "pool drained before Run returned")
	assert.Equal(t, "AAPL", st.sweeps[0].Symbol)
	assert.Equal(t, t0.Add(300*time.Millisecond), st.syncs[store.SyncSweepFeed])
	st.mu.Unlock()

	n.mu.Lock()
	assert.Len(t, n.sweeps, 1)
	n.mu.Unlock()
}

func TestMonitorAlertConfigsFilterNotifications(t *testing.T) {
	feed := newFakeFeed()
	st := &memStore{configs: []models.SnoopAlertConfig{{ID: "nvda", Enabled: true, Symbols: []string{"NVDA"}}}}
	n := &captureNotifier{}

	m := NewMonitor(feed, MonitorOptions{
		Detector:  DetectorConfig{Window: time.Second, MinPrints: 2, MinPremium: 50_000},
		Contracts: []string{contract},
		Store:     st,
		Notifier:  n,
		Logger:    zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	feed.sub.Quotes <- quote(contract, 2.90, 3.00, t0)
	feed.sub.Trades <- fill(contract, 3.00, 200, 302, t0)
	feed.sub.Trades <- fill(contract, 3.00, 200, 303, t0.Add(300*time.Millisecond))
	cancel()
	require.NoError(t, <-done)

	st.mu.Lock()
	assert.Len(t, st.sweeps, 1, "open window flushed on shutdown")
	st.mu.Unlock()
	n.mu.Lock()
	assert.Empty(t, n.sweeps, "AAPL sweep does not match the NVDA alert")
	n.mu.Unlock()
}

type fakeScanner struct {
	result *marketdata.ActivityResult
	calls  []string
}

func (f *fakeScanner) FetchActivity(_ context.Context, symbols []string) (*marketdata.ActivityResult, error) {
	f.calls = append(f.calls, symbols...)
	return f.result, nil
}

func TestScanBlocks(t *testing.T) {
	at := time.Date(2025, 3, 3, 15, 30, 0, 0, time.UTC)
	scanner := &fakeScanner{result: &marketdata.ActivityResult{
		Activities: []models.OptionsActivity{
			{Symbol: "NVDA", Contract: "O:NVDA250321C00120000", Volume: 5000, Premium: 2_000_000, BlockTrade: true, Timestamp: at},
			{Symbol: "NVDA", Contract: "O:NVDA250321P00100000", Volume: 20, Premium: 4_000, Timestamp: at},
		},
		FetchedAt: at.Add(time.Second),
	}}
	st := &memStore{}
	n := &captureNotifier{}

	m := NewMonitor(newFakeFeed(), MonitorOptions{
		ScanSymbols: []string{"nvda"},
		Scanner:     scanner,
		Store:       st,
		Notifier:    n,
		Logger:      zerolog.Nop(),
	})

	blocks, err := m.ScanBlocks(context.Background())
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, []string{"NVDA"}, scanner.calls)
	require.Len(t, n.blocks, 1)
	assert.Equal(t, at.Add(time.Second), st.syncs[store.SyncBlockScan])

	blocks, err = m.ScanBlocks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocks, "already reported")
	assert.Len(t, n.blocks, 1)

	restarted := NewMonitor(newFakeFeed(), MonitorOptions{
		ScanSymbols: []string{"NVDA"},
		Scanner:     scanner,
		Store:       st,
		Notifier:    n,
		Logger:      zerolog.Nop(),
	})
	blocks, err = restarted.ScanBlocks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, blocks, "last scan time survives a restart")
}

func TestRunRejectsBadSchedule(t *testing.T) {
	m := NewMonitor(newFakeFeed(), MonitorOptions{
		ScanSchedule: "not a schedule",
		ScanSymbols:  []string{"SPY"},
		Scanner:      &fakeScanner{},
		Logger:       zerolog.Nop(),
	})
	assert.Error(t, m.Run(context.Background()))
}
