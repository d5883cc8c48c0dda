// Package metrics exposes Prometheus collectors for the flow service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"snoopflow/internal/models"
)

var (
	// Provider metrics
	APICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_api_calls_total",
			Help: "Total number of market data API calls",
		},
		[]string{"endpoint", "status"}, // status: HTTP code or "error"
	)

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snoopflow_api_latency_seconds",
			Help:    "Market data API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint"},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_cache_lookups_total",
			Help: "Response cache lookups",
		},
		[]string{"backend", "result"}, // result: hit|miss
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "snoopflow_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Classification metrics
	ClassifiedActivity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_classified_activity_total",
			Help: "Options activity classified, by label",
		},
		[]string{"label"}, // unusual|block|sweep|bullish|bearish|neutral
	)

	SweepsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_sweeps_detected_total",
			Help: "Sweeps detected by the live monitor",
		},
		[]string{"side"},
	)

	// Backtest metrics
	BacktestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snoopflow_backtest_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	BacktestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_backtest_runs_total",
			Help: "Backtest runs",
		},
		[]string{"status"},
	)

	// Stream metrics
	StreamDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_stream_dropped_total",
			Help: "Events dropped for slow subscribers",
		},
		[]string{"topic"},
	)

	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snoopflow_websocket_clients",
			Help: "Connected browser WebSocket clients",
		},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snoopflow_notifications_total",
			Help: "Alert deliveries by channel",
		},
		[]string{"channel", "status"}, // status: sent|failed
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snoopflow_feed_reconnects_total",
			Help: "Options feed reconnect attempts",
		},
	)
)

var initOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(APICalls)
		prometheus.MustRegister(APILatency)
		prometheus.MustRegister(CacheLookups)
		prometheus.MustRegister(CircuitState)

		prometheus.MustRegister(ClassifiedActivity)
		prometheus.MustRegister(SweepsDetected)

		prometheus.MustRegister(BacktestDuration)
		prometheus.MustRegister(BacktestRuns)

		prometheus.MustRegister(StreamDropped)
		prometheus.MustRegister(WebSocketClients)
		prometheus.MustRegister(FeedReconnects)
		prometheus.MustRegister(NotificationsSent)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPICall records one provider request. status is the HTTP status, or 0
// when no response was received.
func RecordAPICall(endpoint string, status int, latency time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	APICalls.WithLabelValues(endpoint, label).Inc()
	APILatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(backend, result).Inc()
}

// RecordCircuitState records a breaker transition.
func RecordCircuitState(name, state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	CircuitState.WithLabelValues(name).Set(v)
}

// RecordClassified counts the labels carried by classified activity.
func RecordClassified(activities []models.OptionsActivity) {
	for _, a := range activities {
		if a.Unusual {
			ClassifiedActivity.WithLabelValues("unusual").Inc()
		}
		if a.BlockTrade {
			ClassifiedActivity.WithLabelValues("block").Inc()
		}
		if a.Sweep {
			ClassifiedActivity.WithLabelValues("sweep").Inc()
		}
		if a.Sentiment != "" {
			ClassifiedActivity.WithLabelValues(string(a.Sentiment)).Inc()
		}
	}
}

// RecordSweep records a detected sweep.
func RecordSweep(s models.Sweep) {
	SweepsDetected.WithLabelValues(string(s.Side)).Inc()
}

// RecordBacktest records a finished backtest run.
func RecordBacktest(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	BacktestRuns.WithLabelValues(status).Inc()
	BacktestDuration.Observe(duration.Seconds())
}

// RecordNotification records one alert delivery attempt after retries.
func RecordNotification(channel string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	NotificationsSent.WithLabelValues(channel, status).Inc()
}
