package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"snoopflow/internal/errors"
	"snoopflow/internal/logging"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
)

// DefaultFeedURL is the options cluster of the Polygon WebSocket API.
const DefaultFeedURL = "wss://socket.polygon.io/options"

// AllContracts subscribes to every options contract.
const AllContracts = "*"

const maxFeedBackoff = 30 * time.Second

type wireTrade struct {
	Ev         string  `json:"ev"` // "T"
	Sym        string  `json:"sym"`
	Exchange   int     `json:"x"`
	Price      float64 `json:"p"`
	Size       int64   `json:"s"`
	Conditions []int   `json:"c"`
	Timestamp  int64   `json:"t"` // SIP ms
}

type wireQuote struct {
	Ev        string  `json:"ev"` // "Q"
	Sym       string  `json:"sym"`
	BidPrice  float64 `json:"bp"`
	BidSize   int64   `json:"bs"`
	AskPrice  float64 `json:"ap"`
	AskSize   int64   `json:"as"`
	Timestamp int64   `json:"t"`
}

type wireStatus struct {
	Ev      string `json:"ev"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Subscription receives feed events for a set of contracts.
type Subscription struct {
	Contracts []string
	Trades    chan models.OptionTrade
	Quotes    chan models.OptionQuote
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Done returns a channel closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops delivery to s.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Dropped returns the number of events discarded because s was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type feedMsg struct {
	Action string `json:"action"`
	Params string `json:"params,omitempty"`
}

func authMsg(key string) feedMsg { return feedMsg{Action: "auth", Params: key} }

func subscribeMsg(contract string) feedMsg {
	return feedMsg{Action: "subscribe", Params: "T." + contract + ",Q." + contract}
}

func unsubscribeMsg(contract string) feedMsg {
	return feedMsg{Action: "unsubscribe", Params: "T." + contract + ",Q." + contract}
}

// Feed maintains one WebSocket connection to the options cluster and fans
// trades and quotes out to subscribers. Slow subscribers lose events rather
// than stalling the reader.
type Feed struct {
	apiKey string
	url    string
	logger zerolog.Logger

	mu         sync.RWMutex
	subscribed map[string]struct{}
	watchers   map[string]map[*Subscription]struct{}
	outbound   chan feedMsg
	connected  atomic.Bool
}

// NewFeed creates a feed. url may be empty for the production endpoint.
func NewFeed(apiKey, url string, logger zerolog.Logger) *Feed {
	if strings.TrimSpace(url) == "" {
		url = DefaultFeedURL
	}
	return &Feed{
		apiKey:     apiKey,
		url:        url,
		logger:     logging.WithComponent(logger, "feed"),
		subscribed: make(map[string]struct{}),
		watchers:   make(map[string]map[*Subscription]struct{}),
		outbound:   make(chan feedMsg, 1024),
	}
}

// Connected reports whether the feed is currently authenticated.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Subscribe registers interest in contracts (or AllContracts) and returns a
// buffered subscription.
func (f *Feed) Subscribe(contracts ...string) *Subscription {
	sub := &Subscription{
		Trades: make(chan models.OptionTrade, 512),
		Quotes: make(chan models.OptionQuote, 512),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range contracts {
		c = normalizeContract(c)
		if c == "" {
			continue
		}
		sub.Contracts = append(sub.Contracts, c)
		if _, ok := f.watchers[c]; !ok {
			f.watchers[c] = make(map[*Subscription]struct{})
		}
		f.watchers[c][sub] = struct{}{}
		if _, ok := f.subscribed[c]; !ok {
			f.subscribed[c] = struct{}{}
			// Non-blocking so a large initial list never deadlocks startup;
			// the connect path resubscribes everything anyway.
			select {
			case f.outbound <- subscribeMsg(c):
			default:
			}
		}
	}
	return sub
}

// Unsubscribe closes sub and drops contracts nobody else watches.
func (f *Feed) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range sub.Contracts {
		ws := f.watchers[c]
		if ws == nil {
			continue
		}
		delete(ws, sub)
		if len(ws) == 0 {
			delete(f.watchers, c)
			delete(f.subscribed, c)
			select {
			case f.outbound <- unsubscribeMsg(c):
			default:
			}
		}
	}
}

func normalizeContract(c string) string {
	c = strings.TrimSpace(c)
	if c == AllContracts {
		return c
	}
	c = strings.ToUpper(c)
	if c != "" && !strings.HasPrefix(c, "O:") {
		c = "O:" + c
	}
	return c
}

// Run connects and reconnects with exponential backoff up to 30s until ctx
// is done. It returns early only when authentication is rejected.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		authed, err := f.runOnce(ctx)
		f.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errors.ErrInvalidAPIKey) {
			f.logger.Error().Err(err).Msg("Feed authentication rejected")
			return err
		}
		if authed {
			backoff = time.Second
		}
		f.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Feed disconnected")
		metrics.FeedReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			if backoff < maxFeedBackoff {
				backoff *= 2
				if backoff > maxFeedBackoff {
					backoff = maxFeedBackoff
				}
			}
		}
	}
}

func (f *Feed) runOnce(ctx context.Context) (bool, error) {
	if f.apiKey == "" {
		return false, errors.Wrap(errors.ErrInvalidAPIKey, "POLYGON_API_KEY is not set")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(authMsg(f.apiKey)); err != nil {
		return false, fmt.Errorf("auth write: %w", err)
	}

	var authed atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		for {
			var msgs []json.RawMessage
			if err := conn.ReadJSON(&msgs); err != nil {
				errCh <- err
				return
			}
			for _, raw := range msgs {
				if err := f.handle(raw, conn, &authed); err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	ping := time.NewTicker(45 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return authed.Load(), ctx.Err()
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		case msg := <-f.outbound:
			if authed.Load() {
				if err := conn.WriteJSON(msg); err != nil {
					return true, err
				}
			}
		case err := <-errCh:
			return authed.Load(), err
		}
	}
}

// handle decodes one event. On auth_success the reader resubscribes under
// the read lock and only then sets authed, so the writer loop never writes
// concurrently and no Subscribe call falls between the two.
func (f *Feed) handle(raw json.RawMessage, conn *websocket.Conn, authed *atomic.Bool) error {
	var ev struct {
		Ev string `json:"ev"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}

	switch ev.Ev {
	case "T":
		var t wireTrade
		if err := json.Unmarshal(raw, &t); err == nil {
			f.dispatchTrade(models.OptionTrade{
				Contract:   t.Sym,
				Price:      t.Price,
				Size:       t.Size,
				Exchange:   t.Exchange,
				Conditions: t.Conditions,
				Timestamp:  time.UnixMilli(t.Timestamp).UTC(),
			})
		}
	case "Q":
		var q wireQuote
		if err := json.Unmarshal(raw, &q); err == nil {
			f.dispatchQuote(models.OptionQuote{
				Contract:  q.Sym,
				Bid:       q.BidPrice,
				BidSize:   q.BidSize,
				Ask:       q.AskPrice,
				AskSize:   q.AskSize,
				Timestamp: time.UnixMilli(q.Timestamp).UTC(),
			})
		}
	case "status":
		var st wireStatus
		_ = json.Unmarshal(raw, &st)
		switch st.Status {
		case "auth_success":
			f.mu.RLock()
			for c := range f.subscribed {
				if err := conn.WriteJSON(subscribeMsg(c)); err != nil {
					f.mu.RUnlock()
					return err
				}
			}
			authed.Store(true)
			f.mu.RUnlock()
			f.connected.Store(true)
			f.logger.Info().Msg("Feed authenticated")
		case "auth_failed":
			return errors.Wrap(errors.ErrInvalidAPIKey, st.Message)
		default:
			f.logger.Debug().Str("status", st.Status).Str("message", st.Message).Msg("Feed status")
		}
	}
	return nil
}

func (f *Feed) targets(contract string) []*Subscription {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var subs []*Subscription
	for sub := range f.watchers[contract] {
		subs = append(subs, sub)
	}
	for sub := range f.watchers[AllContracts] {
		subs = append(subs, sub)
	}
	return subs
}

func (f *Feed) dispatchTrade(t models.OptionTrade) {
	for _, sub := range f.targets(t.Contract) {
		select {
		case <-sub.done:
		case sub.Trades <- t:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (f *Feed) dispatchQuote(q models.OptionQuote) {
	for _, sub := range f.targets(q.Contract) {
		select {
		case <-sub.done:
		case sub.Quotes <- q:
		default:
			sub.dropped.Add(1)
		}
	}
}
