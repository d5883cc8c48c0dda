// Package notify delivers sweep and block trade alerts to external channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"snoopflow/internal/config"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
	"snoopflow/pkg/utils"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendSweep(ctx context.Context, sweep *models.Sweep) error
	SendBlockTrades(ctx context.Context, trades []models.OptionsActivity) error
	SendError(ctx context.Context, err error, context string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationSweep NotificationType = "sweep"
	NotificationBlock NotificationType = "block"
	NotificationError NotificationType = "error"
	NotificationInfo  NotificationType = "info"
)

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
	}
	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Channels returns the names of the enabled channels.
func (mn *MultiNotifier) Channels() []string {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	var names []string
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			names = append(names, ch.Name())
		}
	}
	return names
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendSweep sends a sweep notification.
func (mn *MultiNotifier) SendSweep(ctx context.Context, sweep *models.Sweep) error {
	emoji := "🧹"
	switch sweep.Sentiment {
	case models.SentimentBullish:
		emoji = "🟢"
	case models.SentimentBearish:
		emoji = "🔴"
	}

	title := fmt.Sprintf("%s %s Sweep: %s %s", emoji, strings.ToUpper(string(sweep.Side)), sweep.Symbol, utils.FormatPremium(sweep.Premium))
	message := fmt.Sprintf(
		"Contract: %s\nStrike: %s %s\nExpiry: %s\nSize: %s @ %s\nPrints: %d across %d exchanges\nSentiment: %s",
		sweep.Contract,
		utils.FormatUSD(sweep.Strike),
		strings.ToUpper(string(sweep.Type)),
		sweep.Expiration.Format("2006-01-02"),
		utils.FormatQuantity(sweep.TotalSize),
		utils.FormatUSD(sweep.AvgPrice),
		sweep.Prints,
		len(sweep.Exchanges),
		sweep.Sentiment,
	)
	if sweep.BlockTrade {
		message += "\nBlock trade"
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationSweep,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"id":         sweep.ID,
			"symbol":     sweep.Symbol,
			"contract":   sweep.Contract,
			"side":       sweep.Side,
			"total_size": sweep.TotalSize,
			"premium":    sweep.Premium,
			"sentiment":  sweep.Sentiment,
		},
		Timestamp: sweep.LastAt,
	})
}

// SendBlockTrades sends one notification listing block trades found by a scan.
func (mn *MultiNotifier) SendBlockTrades(ctx context.Context, trades []models.OptionsActivity) error {
	if len(trades) == 0 {
		return nil
	}

	var sb strings.Builder
	total := 0.0
	for _, a := range trades {
		total += a.Premium
		sb.WriteString(fmt.Sprintf("%s %s vol %s prem %s (%s)\n",
			a.Symbol, a.Contract, utils.FormatQuantity(a.Volume), utils.FormatPremium(a.Premium), a.Sentiment))
	}

	return mn.Send(ctx, Notification{
		Type:    NotificationBlock,
		Title:   fmt.Sprintf("🧱 %d Block Trades (%s)", len(trades), utils.FormatPremium(total)),
		Message: strings.TrimRight(sb.String(), "\n"),
		Data: map[string]interface{}{
			"count":         len(trades),
			"total_premium": total,
		},
	})
}

// SendError sends an error notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, errContext string) error {
	title := "❌ Error Occurred"
	message := fmt.Sprintf("Context: %s\nError: %v\nTime: %s",
		errContext, err, time.Now().Format("15:04:05"))

	return mn.Send(ctx, Notification{
		Type:    NotificationError,
		Title:   title,
		Message: message,
		Data: map[string]interface{}{
			"context": errContext,
			"error":   err.Error(),
		},
	})
}

// statusError is a non-2xx reply from a channel endpoint.
type statusError struct {
	channel string
	status  int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.channel, e.status)
}

// retryable reports whether a delivery failure is worth another attempt:
// transport errors, 429 and 5xx replies.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// poster POSTs JSON payloads with bounded retries.
type poster struct {
	channel string
	client  *http.Client
	retry   utils.RetryConfig
}

func newPoster(channel string) poster {
	return poster{
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		retry: utils.RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2,
			ShouldRetry:   retryable,
		},
	}
}

func (p poster) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", p.channel, err)
	}

	err = utils.Retry(ctx, p.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "SnoopFlow/"+userAgentVersion)

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &statusError{channel: p.channel, status: resp.StatusCode}
		}
		return nil
	})
	metrics.RecordNotification(p.channel, err)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			return err
		}
		return fmt.Errorf("sending %s: %w", p.channel, err)
	}
	return nil
}

const userAgentVersion = "1.0"

// WebhookNotifier posts each notification as JSON to a configured URL.
type WebhookNotifier struct {
	url     string
	enabled bool
	poster  poster
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		poster:  newPoster("webhook"),
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) IsEnabled() bool { return w.enabled }

// Send posts {type, title, message, data, timestamp}.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}
	return w.poster.post(ctx, w.url, map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.UTC().Format(time.RFC3339),
	})
}

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications through the Bot API sendMessage call.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	enabled  bool
	poster   poster
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		apiBase:  telegramAPI,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		poster:   newPoster("telegram"),
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

// Send renders the title in bold above the message, HTML escaped.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}
	return t.poster.post(ctx, fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken), map[string]interface{}{
		"chat_id":                  t.chatID,
		"text":                     fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message)),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// escapeHTML escapes the characters Telegram's HTML mode reserves.
func escapeHTML(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

// NoOpNotifier is a notifier that does nothing.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendSweep does nothing.
func (n *NoOpNotifier) SendSweep(ctx context.Context, sweep *models.Sweep) error {
	return nil
}

// SendBlockTrades does nothing.
func (n *NoOpNotifier) SendBlockTrades(ctx context.Context, trades []models.OptionsActivity) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, context string) error {
	return nil
}
