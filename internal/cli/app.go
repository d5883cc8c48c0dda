package cli

import (
	"context"

	"github.com/rs/zerolog"

	"snoopflow/internal/backtest"
	"snoopflow/internal/classifier"
	"snoopflow/internal/config"
	"snoopflow/internal/errors"
	"snoopflow/internal/marketdata"
	"snoopflow/internal/notify"
	"snoopflow/internal/polygon"
	"snoopflow/internal/security"
	"snoopflow/internal/store"
)

// App holds the application dependencies. Each is built on first use so
// commands only pay for what they touch.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger

	// Publisher, when set before Service is first called, receives newly
	// observed activity.
	Publisher marketdata.Publisher

	store   *store.SQLiteStore
	client  *polygon.Client
	service *marketdata.Service
	closers []func() error
}

// Thresholds returns the configured classifier profile with overrides applied.
func (a *App) Thresholds() (classifier.Thresholds, error) {
	c := a.Config.Classifier
	return classifier.Resolve(c.Profile, classifier.Thresholds{
		UnusualVolume:  c.UnusualVolume,
		UnusualPremium: c.UnusualPremium,
		BlockVolume:    c.BlockVolume,
		BlockPremium:   c.BlockPremium,
		SentimentDelta: c.SentimentDelta,
	})
}

// Store opens the SQLite database.
func (a *App) Store() (*store.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Store.Path)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")
	a.store = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

// Client builds the Polygon client and its response cache.
func (a *App) Client(ctx context.Context) (*polygon.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if !a.Config.HasAPIKey() {
		return nil, errors.Wrap(errors.ErrInvalidAPIKey, "no Polygon API key configured (set POLYGON_API_KEY)")
	}

	pc := a.Config.Polygon
	cc := a.Config.Cache
	a.client = polygon.NewClient(polygon.Config{
		BaseURL:           pc.BaseURL,
		APIKey:            a.Config.Credentials.Polygon.APIKey,
		RequestsPerMinute: pc.RequestsPerMinute,
		Burst:             pc.Burst,
		Timeout:           pc.Timeout,
		MaxRetries:        pc.MaxRetries,
		SnapshotTTL:       cc.SnapshotTTL,
		AggregatesTTL:     cc.AggregatesTTL,
		ReferenceTTL:      cc.ReferenceTTL,
		ProxyPrefixes:     a.Config.Server.ProxyPrefixes,
		Cache:             a.cache(ctx),
		Logger:            a.Logger,
	})
	return a.client, nil
}

// cache returns the configured response cache, falling back to memory when
// Redis cannot be reached.
func (a *App) cache(ctx context.Context) polygon.Cache {
	cc := a.Config.Cache
	if cc.Backend != "redis" {
		return polygon.NewMemoryCache()
	}
	rc, err := polygon.NewRedisCache(ctx, polygon.RedisOptions{
		Addr:     cc.RedisAddr,
		Password: cc.RedisPassword,
		DB:       cc.RedisDB,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Str("addr", cc.RedisAddr).Msg("Redis unavailable, using in-memory cache")
		return polygon.NewMemoryCache()
	}
	a.closers = append(a.closers, rc.Close)
	return rc
}

// Service builds the market data service. The candle cache is skipped when
// the database cannot be opened.
func (a *App) Service(ctx context.Context) (*marketdata.Service, error) {
	if a.service != nil {
		return a.service, nil
	}
	client, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := a.Thresholds()
	if err != nil {
		return nil, err
	}

	opts := marketdata.Options{
		Thresholds:     thresholds,
		Workers:        a.Config.Polygon.Workers,
		RecentCapacity: a.Config.Cache.RecentCapacity,
		Publisher:      a.Publisher,
		Logger:         a.Logger,
	}
	if st, err := a.Store(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open store, candle caching disabled")
	} else {
		opts.Candles = st
	}

	a.service = marketdata.NewService(client, opts)
	return a.service, nil
}

// Engine builds a backtest engine that persists results.
func (a *App) Engine(ctx context.Context) (*backtest.Engine, error) {
	svc, err := a.Service(ctx)
	if err != nil {
		return nil, err
	}
	opts := backtest.Options{
		LookbackDays: a.Config.Backtest.LookbackDays,
		TopContracts: a.Config.Backtest.TopContracts,
		Concurrency:  a.Config.Backtest.Concurrency,
		Logger:       a.Logger,
	}
	if st, err := a.Store(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open store, backtest results will not be saved")
	} else {
		opts.Store = st
	}
	return backtest.NewEngine(svc, opts), nil
}

// Notifier builds the configured notification channels.
func (a *App) Notifier() *notify.MultiNotifier {
	return notify.NewMultiNotifier(&a.Config.Notifications)
}

// Close releases everything the app opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Debug().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

// symbolArgs validates positional ticker arguments.
func symbolArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, errors.NewValidationError("symbol", "", "at least one symbol is required")
	}
	return security.NormalizeSymbols(args)
}
