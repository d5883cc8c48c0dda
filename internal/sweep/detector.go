// Package sweep infers sweep orders from the live options feed and runs the
// scheduled block trade scan.
package sweep

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"snoopflow/internal/classifier"
	"snoopflow/internal/models"
	"snoopflow/internal/polygon"
)

// DetectorConfig holds the sweep detection parameters.
type DetectorConfig struct {
	Window     time.Duration
	MinPrints  int
	MinPremium float64
	Thresholds classifier.Thresholds
}

// DefaultDetectorConfig returns a one second window over at least two prints.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Window:     time.Second,
		MinPrints:  2,
		MinPremium: 25_000,
		Thresholds: classifier.Default(),
	}
}

// window collects aggressive prints on one contract and side.
type window struct {
	contract  string
	side      models.Side
	prints    int
	size      int64
	premium   float64
	exchanges map[int]struct{}
	first     time.Time
	last      time.Time
}

// Detector turns a stream of trades and quotes into sweeps. It keeps the
// latest NBBO per contract and groups prints executed at or through the
// quote into time windows. A Detector is not safe for concurrent use.
type Detector struct {
	cfg     DetectorConfig
	quotes  map[string]models.OptionQuote
	windows map[string]*window
	newID   func() string
}

// NewDetector creates a detector. Zero fields in cfg take default values.
func NewDetector(cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinPrints < 1 {
		cfg.MinPrints = def.MinPrints
	}
	if cfg.Thresholds == (classifier.Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	return &Detector{
		cfg:     cfg,
		quotes:  make(map[string]models.OptionQuote),
		windows: make(map[string]*window),
		newID:   uuid.NewString,
	}
}

// Config returns the effective configuration.
func (d *Detector) Config() DetectorConfig {
	return d.cfg
}

// OnQuote records the latest NBBO for a contract.
func (d *Detector) OnQuote(q models.OptionQuote) {
	if prev, ok := d.quotes[q.Contract]; ok && q.Timestamp.Before(prev.Timestamp) {
		return
	}
	d.quotes[q.Contract] = q
}

// OnTrade adds a print and returns any sweep completed by it. A print closes
// the open window on its contract when it falls outside the window or hits
// the other side of the quote. Prints inside the spread, or on a contract
// without a quote, are ignored.
func (d *Detector) OnTrade(t models.OptionTrade) []models.Sweep {
	q, ok := d.quotes[t.Contract]
	if !ok || t.Size <= 0 {
		return nil
	}
	side := classifier.LocateTrade(t.Price, q.Bid, q.Ask).Side()
	if side == models.SideUnknown {
		return nil
	}

	var out []models.Sweep
	w, open := d.windows[t.Contract]
	if open && (w.side != side || t.Timestamp.Sub(w.first) > d.cfg.Window) {
		if s, ok := d.close(w); ok {
			out = append(out, s)
		}
		open = false
	}
	if !open {
		w = &window{
			contract:  t.Contract,
			side:      side,
			exchanges: make(map[int]struct{}),
			first:     t.Timestamp,
		}
		d.windows[t.Contract] = w
	}

	w.prints++
	w.size += t.Size
	w.premium += classifier.Premium(t.Price, t.Size)
	w.exchanges[t.Exchange] = struct{}{}
	if t.Timestamp.After(w.last) {
		w.last = t.Timestamp
	}
	return out
}

// Flush closes every window that started more than one window length before
// now and returns the qualifying sweeps, oldest first.
func (d *Detector) Flush(now time.Time) []models.Sweep {
	var out []models.Sweep
	for contract, w := range d.windows {
		if now.Sub(w.first) <= d.cfg.Window {
			continue
		}
		delete(d.windows, contract)
		if s, ok := d.build(w); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstAt.Before(out[j].FirstAt) })
	return out
}

// Pending returns the number of open windows.
func (d *Detector) Pending() int {
	return len(d.windows)
}

func (d *Detector) close(w *window) (models.Sweep, bool) {
	delete(d.windows, w.contract)
	return d.build(w)
}

func (d *Detector) build(w *window) (models.Sweep, bool) {
	if w.prints < d.cfg.MinPrints || w.premium < d.cfg.MinPremium {
		return models.Sweep{}, false
	}

	s := models.Sweep{
		ID:        d.newID(),
		Symbol:    w.contract,
		Contract:  w.contract,
		Side:      w.side,
		TotalSize: w.size,
		Premium:   w.premium,
		AvgPrice:  w.premium / float64(w.size) / 100,
		Prints:    w.prints,
		FirstAt:   w.first,
		LastAt:    w.last,
	}
	if ot, err := polygon.ParseOptionTicker(w.contract); err == nil {
		s.Symbol = strings.ToUpper(ot.Underlying)
		s.Type = ot.Type
		s.Strike = ot.Strike
		s.Expiration = ot.Expiration
	}
	for x := range w.exchanges {
		s.Exchanges = append(s.Exchanges, x)
	}
	sort.Ints(s.Exchanges)

	loc := models.LocationAtAsk
	if w.side == models.SideSell {
		loc = models.LocationAtBid
	}
	s.Sentiment = classifier.Direction(s.Type, loc)
	s.BlockTrade = d.cfg.Thresholds.IsBlockTrade(s.TotalSize, s.Premium)
	return s, true
}
