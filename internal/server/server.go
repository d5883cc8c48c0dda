// Package server exposes activity, backtests, sweeps and the Polygon proxy
// over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"snoopflow/internal/marketdata"
	"snoopflow/internal/metrics"
	"snoopflow/internal/models"
	"snoopflow/internal/store"
	"snoopflow/internal/stream"
)

// ActivityService serves classified activity and daily candles.
type ActivityService interface {
	UnusualActivity(ctx context.Context, symbols []string, opts models.FilterOptions) (*marketdata.ActivityResult, error)
	Recent(limit int) []models.OptionsActivity
	EOD(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
}

// MarketAPI is the subset of the Polygon client exposed directly.
type MarketAPI interface {
	AnalystRatings(ctx context.Context, ticker string, limit int) ([]models.AnalystRating, error)
	Proxy(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// Backtester runs and compares backtests.
type Backtester interface {
	Run(ctx context.Context, cfg models.BacktestConfig) (*models.BacktestResult, error)
	Compare(ctx context.Context, patterns []models.BacktestConfig) ([]models.PatternComparison, []*models.BacktestResult, error)
}

// Store is the persistence the API reads from.
type Store interface {
	GetBacktestResult(ctx context.Context, id string) (*models.BacktestResult, error)
	ListBacktestResults(ctx context.Context, limit int) ([]store.BacktestRecord, error)
	ListSweeps(ctx context.Context, filter store.SweepFilter) ([]models.Sweep, error)
	SaveAlertConfig(ctx context.Context, cfg *models.SnoopAlertConfig) error
	GetAlertConfig(ctx context.Context, id string) (*models.SnoopAlertConfig, error)
	ListAlertConfigs(ctx context.Context, enabledOnly bool) ([]models.SnoopAlertConfig, error)
}

// Config holds server configuration
type Config struct {
	Port           int
	AllowedOrigins []string
	DevMode        bool
	Log            zerolog.Logger

	Activity   ActivityService
	Market     MarketAPI
	Backtester Backtester
	Store      Store
	Hub        *stream.Hub
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	server     *http.Server
	log        zerolog.Logger
	port       int
	activity   ActivityService
	market     MarketAPI
	backtester Backtester
	store      Store
	hub        *stream.Hub
	started    time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		port:       cfg.Port,
		activity:   cfg.Activity,
		market:     cfg.Market,
		backtester: cfg.Backtester,
		store:      cfg.Store,
		hub:        cfg.Hub,
		started:    time.Now(),
	}

	s.setupMiddleware(cfg.AllowedOrigins)
	s.setupRoutes(cfg.DevMode)

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware shared by every route
func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes. The WebSocket endpoint sits outside the
// API group so the request timeout does not cut long-lived connections.
func (s *Server) setupRoutes(devMode bool) {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())
	if s.hub != nil {
		s.router.Get("/ws", s.hub.ServeWS(s.log))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !devMode {
			r.Use(middleware.Compress(5))
		}

		r.Route("/activity", func(r chi.Router) {
			r.Get("/", s.handleActivity)
			r.Get("/recent", s.handleRecentActivity)
		})
		r.Get("/eod/{symbol}", s.handleEOD)
		r.Get("/ratings/{symbol}", s.handleRatings)

		r.Route("/backtests", func(r chi.Router) {
			r.Get("/", s.handleListBacktests)
			r.Post("/", s.handleRunBacktest)
			r.Post("/compare", s.handleCompareBacktests)
			r.Get("/{id}", s.handleGetBacktest)
		})

		r.Get("/sweeps", s.handleSweeps)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Get("/{id}", s.handleGetAlert)
			r.Put("/{id}", s.handlePutAlert)
		})

		r.Get("/polygon/*", s.handleProxy)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
