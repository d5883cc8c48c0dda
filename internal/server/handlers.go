package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"snoopflow/internal/errors"
	"snoopflow/internal/filter"
	"snoopflow/internal/models"
	"snoopflow/internal/resilience"
	"snoopflow/internal/security"
	"snoopflow/internal/store"
	"snoopflow/internal/stream"
)

const dateLayout = "2006-01-02"

// HealthResponse is returned by /health. Status is "degraded" while the
// provider circuit breaker is open.
type HealthResponse struct {
	Status   string                          `json:"status"`
	Uptime   string                          `json:"uptime"`
	Stream   *stream.HubMetrics              `json:"stream,omitempty"`
	Provider *resilience.CircuitBreakerStats `json:"provider,omitempty"`
}

// breakerReporter is implemented by market clients guarded by a circuit breaker.
type breakerReporter interface {
	Breaker() *resilience.CircuitBreaker
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.hub != nil {
		m := s.hub.GetMetrics()
		resp.Stream = &m
	}
	if br, ok := s.market.(breakerReporter); ok && br.Breaker() != nil {
		st := br.Breaker().Stats()
		resp.Provider = &st
		if st.State == resilience.CircuitOpen {
			resp.Status = "degraded"
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleActivity returns unusual activity for ?symbols= restricted by the
// filter query parameters.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	opts, err := filter.FromValues(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	symbols := opts.Symbols
	opts.Symbols = nil

	res, err := s.activity.UnusualActivity(r.Context(), symbols, opts)
	if err != nil && res == nil {
		s.writeError(w, err)
		return
	}
	if key := r.URL.Query().Get("sort"); key != "" {
		filter.Sort(res.Activities, filter.SortKey(key), r.URL.Query().Get("order") != "asc")
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.activity.Recent(limit))
}

// handleEOD returns daily candles. The range defaults to the last 30 days.
func (s *Server) handleEOD(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if err := security.ValidateSymbol(symbol); err != nil {
		s.writeError(w, err)
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(dateLayout, v); err != nil {
			s.writeError(w, errors.NewValidationError("from", v, "expected YYYY-MM-DD"))
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(dateLayout, v); err != nil {
			s.writeError(w, errors.NewValidationError("to", v, "expected YYYY-MM-DD"))
			return
		}
	}

	candles, err := s.activity.EOD(r.Context(), symbol, from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"candles": candles,
	})
}

func (s *Server) handleRatings(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		s.writeError(w, err)
		return
	}
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if err := security.ValidateSymbol(symbol); err != nil {
		s.writeError(w, err)
		return
	}
	ratings, err := s.market.AnalystRatings(r.Context(), symbol, limit)
	if err != nil && !errors.Is(err, errors.ErrNoData) {
		s.writeError(w, err)
		return
	}
	if ratings == nil {
		ratings = []models.AnalystRating{}
	}
	s.writeJSON(w, http.StatusOK, ratings)
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var cfg models.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, errors.NewValidationError("body", "", "invalid JSON: "+err.Error()))
		return
	}
	res, err := s.backtester.Run(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

// compareRequest names several patterns to run side by side.
type compareRequest struct {
	Patterns []models.BacktestConfig `json:"patterns"`
}

func (s *Server) handleCompareBacktests(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.NewValidationError("body", "", "invalid JSON: "+err.Error()))
		return
	}
	ranking, _, err := s.backtester.Compare(r.Context(), req.Patterns)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		s.writeError(w, err)
		return
	}
	records, err := s.store.ListBacktestResults(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []store.BacktestRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.GetBacktestResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleSweeps lists stored sweeps, newest first.
func (s *Server) handleSweeps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.SweepFilter{Symbol: q.Get("symbol")}

	var err error
	if f.Limit, err = intParam(r, "limit", 100); err != nil {
		s.writeError(w, err)
		return
	}
	if v := q.Get("min_premium"); v != "" {
		if f.MinPremium, err = strconv.ParseFloat(v, 64); err != nil {
			s.writeError(w, errors.NewValidationError("min_premium", v, "must be a number"))
			return
		}
	}
	if v := q.Get("since"); v != "" {
		if f.Since, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, errors.NewValidationError("since", v, "expected RFC 3339 time"))
			return
		}
	}

	sweeps, err := s.store.ListSweeps(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sweeps == nil {
		sweeps = []models.Sweep{}
	}
	s.writeJSON(w, http.StatusOK, sweeps)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListAlertConfigs(r.Context(), false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if configs == nil {
		configs = []models.SnoopAlertConfig{}
	}
	s.writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetAlertConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// handlePutAlert upserts the alert config named in the path.
func (s *Server) handlePutAlert(w http.ResponseWriter, r *http.Request) {
	var cfg models.SnoopAlertConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, errors.NewValidationError("body", "", "invalid JSON: "+err.Error()))
		return
	}
	cfg.ID = chi.URLParam(r, "id")
	if err := security.ValidateID("id", cfg.ID); err != nil {
		s.writeError(w, err)
		return
	}
	if cfg.MinPremium < 0 {
		s.writeError(w, errors.NewValidationError("min_premium", cfg.MinPremium, "must be non-negative"))
		return
	}
	symbols, err := security.NormalizeSymbols(cfg.Symbols)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cfg.Symbols = symbols

	raw := make([]string, len(cfg.OptionTypes))
	for i, t := range cfg.OptionTypes {
		raw[i] = string(t)
	}
	if cfg.OptionTypes, err = filter.ParseTypes(raw); err != nil {
		s.writeError(w, err)
		return
	}
	cfg.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveAlertConfig(r.Context(), &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// handleProxy forwards a whitelisted GET to Polygon and returns the body as is.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	body, err := s.market.Proxy(r.Context(), "/"+chi.URLParam(r, "*"), r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": security.MaskSensitive(err.Error())})
}

func statusFor(err error) int {
	var pe *errors.ProviderError
	switch {
	case errors.Is(err, errors.ErrInputValidation):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrPathNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrNotFound), errors.Is(err, errors.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &pe), errors.Is(err, errors.ErrInvalidAPIKey):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.NewValidationError(key, v, "must be a positive integer")
	}
	return n, nil
}
