package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoopflow/internal/config"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
)

type captured struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
	paths  []string
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.paths = append(c.paths, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

func testSweep() *models.Sweep {
	return &models.Sweep{
		ID:         "sw-1",
		Symbol:     "AAPL",
		Contract:   "O:AAPL250321C00230000",
		Type:       models.OptionCall,
		Strike:     230,
		Expiration: time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC),
		Side:       models.SideBuy,
		TotalSize:  1200,
		Premium:    360_000,
		AvgPrice:   3,
		Prints:     5,
		Exchanges:  []int{302, 303},
		Sentiment:  models.SentimentBullish,
		LastAt:     time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC),
		BlockTrade: true,
	}
}

func TestWebhookSweep(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	mn := NewMultiNotifier(&config.NotificationConfig{
		Enabled: true,
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	assert.Equal(t, []string{"webhook"}, mn.Channels())

	require.NoError(t, mn.SendSweep(context.Background(), testSweep()))
	require.Len(t, c.bodies, 1)
	body := c.bodies[0]
	assert.Equal(t, "sweep", body["type"])
	assert.Contains(t, body["title"], "AAPL")
	assert.Contains(t, body["title"], "$360.0K")
	assert.Contains(t, body["message"], "Block trade")
	assert.Equal(t, "2025-03-03T15:00:00Z", body["timestamp"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "O:AAPL250321C00230000", data["contract"])
}

func TestTelegramEscapesHTML(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "42"})
	tg.apiBase = srv.URL

	require.NoError(t, tg.Send(context.Background(), Notification{Title: "a<b>", Message: "x & y"}))
	require.Len(t, c.bodies, 1)
	assert.Equal(t, "/bottok/sendMessage", c.paths[0])
	assert.Equal(t, "42", c.bodies[0]["chat_id"])
	assert.Equal(t, "<b>a&lt;b&gt;</b>\n\nx &amp; y", c.bodies[0]["text"])
}

func TestMultiNotifierCollectsErrors(t *testing.T) {
	var ok, bad captured
	okSrv := httptest.NewServer(ok.handler(http.StatusOK))
	defer okSrv.Close()
	badSrv := httptest.NewServer(bad.handler(http.StatusInternalServerError))
	defer badSrv.Close()

	mn := NewMultiNotifier(&config.NotificationConfig{})
	assert.Empty(t, mn.Channels(), "disabled config adds no channels")
	mn.AddChannel(NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: okSrv.URL}))
	mn.AddChannel(NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: badSrv.URL}))

	err := mn.SendBlockTrades(context.Background(), []models.OptionsActivity{
		{Symbol: "NVDA", Contract: "O:NVDA250321C00120000", Volume: 5000, Premium: 2_000_000, Sentiment: models.SentimentBullish},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "webhook returned status 500"))
	assert.Len(t, ok.bodies, 1, "a failing channel does not stop the others")
	assert.Equal(t, "block", ok.bodies[0]["type"])
}

func TestSendBlockTradesEmpty(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	mn := NewMultiNotifier(&config.NotificationConfig{})
	mn.AddChannel(NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL}))
	require.NoError(t, mn.SendBlockTrades(context.Background(), nil))
	assert.Empty(t, c.bodies)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	before := testutil.ToFloat64(metrics.NotificationsSent.WithLabelValues("webhook", "sent"))
	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	require.NoError(t, wh.Send(context.Background(), Notification{Type: NotificationInfo, Title: "hi"}))
	assert.Equal(t, 2, calls)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsSent.WithLabelValues("webhook", "sent")))
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var c captured
	srv := httptest.NewServer(c.handler(http.StatusBadRequest))
	defer srv.Close()

	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	err := wh.Send(context.Background(), Notification{Type: NotificationInfo, Title: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned status 400")
	assert.Len(t, c.bodies, 1)
}
