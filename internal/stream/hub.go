// Package stream fans live activity and sweep events out to subscribers.
package stream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
)

// Event topics.
const (
	TopicActivity = "activity"
	TopicSweep    = "sweep"
)

// Event is one message distributed by the hub.
type Event struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub distributes events from producers to subscribers. Publishing never
// blocks: a full internal buffer or a full subscriber buffer drops the event.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	events      chan Event
	done        chan struct{}
	started     bool

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber receives events for a set of topics and symbols. An empty set
// matches everything.
type Subscriber struct {
	ID        string
	Channel   chan Event
	CreatedAt time.Time

	mu      sync.RWMutex
	topics  map[string]bool
	symbols map[string]bool
	dropped atomic.Uint64
}

// NewHub creates a new stream hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string]*Subscriber),
		events:      make(chan Event, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case e := <-h.events:
			h.received.Add(1)
			h.broadcast(e)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for id, sub := range h.subscribers {
		close(sub.Channel)
		delete(h.subscribers, id)
	}
}

// Publish queues an event for distribution.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case h.events <- e:
	default:
		h.drop(e)
	}
}

// PublishActivity queues a classified activity row.
func (h *Hub) PublishActivity(a models.OptionsActivity) {
	h.Publish(Event{Type: TopicActivity, Symbol: a.Symbol, Timestamp: a.Timestamp, Data: a})
}

// PublishSweep queues a detected sweep.
func (h *Hub) PublishSweep(s models.Sweep) {
	h.Publish(Event{Type: TopicSweep, Symbol: s.Symbol, Timestamp: s.LastAt, Data: s})
}

// Subscribe registers a subscriber for the given topics and symbols.
func (h *Hub) Subscribe(topics, symbols []string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		Channel:   make(chan Event, h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
		topics:    toSet(topics, strings.ToLower),
	}
	sub.SetSymbols(symbols)

	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub.ID]; ok {
		delete(h.subscribers, sub.ID)
		close(sub.Channel)
	}
}

func (h *Hub) broadcast(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.Wants(e) {
			continue
		}
		select {
		case sub.Channel <- e:
			h.delivered.Add(1)
		default:
			sub.dropped.Add(1)
			h.drop(e)
		}
	}
}

func (h *Hub) drop(e Event) {
	h.dropped.Add(1)
	metrics.StreamDropped.WithLabelValues(e.Type).Inc()
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HubMetrics contains hub performance metrics.
type HubMetrics struct {
	EventsReceived  uint64 `json:"events_received"`
	EventsDelivered uint64 `json:"events_delivered"`
	EventsDropped   uint64 `json:"events_dropped"`
	Subscribers     int    `json:"subscribers"`
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() HubMetrics {
	return HubMetrics{
		EventsReceived:  h.received.Load(),
		EventsDelivered: h.delivered.Load(),
		EventsDropped:   h.dropped.Load(),
		Subscribers:     h.SubscriberCount(),
	}
}

// SetSymbols replaces the subscriber's symbol filter.
func (s *Subscriber) SetSymbols(symbols []string) {
	set := toSet(symbols, strings.ToUpper)
	s.mu.Lock()
	s.symbols = set
	s.mu.Unlock()
}

// Wants reports whether the event matches the subscriber's filters.
func (s *Subscriber) Wants(e Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.topics) > 0 && !s.topics[e.Type] {
		return false
	}
	return len(s.symbols) == 0 || s.symbols[e.Symbol]
}

// Dropped returns how many events were dropped for this subscriber.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func toSet(values []string, norm func(string) string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			set[norm(v)] = true
		}
	}
	return set
}
