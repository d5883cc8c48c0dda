package polygon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoopflow/internal/errors"
	"snoopflow/internal/models"
)

func newTestClient(t *testing.T, h http.Handler, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:           srv.URL,
		APIKey:            "test-key",
		RequestsPerMinute: 60000,
		Burst:             100,
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
		AggregatesTTL:     time.Minute,
		SnapshotTTL:       time.Minute,
		ReferenceTTL:      time.Minute,
		ProxyPrefixes:     []string{"/v2/aggs/", "/v3/snapshot/options/"},
		Cache:             NewMemoryCache(),
		Logger:            zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg)
}

func TestDailyAggregates(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v2/aggs/ticker/AAPL/range/1/day/2025-01-02/2025-01-03", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("apiKey"))
		fmt.Fprint(w, `{"ticker":"AAPL","status":"OK","resultsCount":2,"results":[
			{"v":1000,"vw":150.5,"o":150,"c":151,"h":152,"l":149,"t":1735794000000,"n":10},
			{"v":2000,"vw":152.5,"o":151,"c":153,"h":154,"l":150,"t":1735880400000,"n":20}]}`)
	}))

	from := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	candles, err := c.DailyAggregates(context.Background(), "aapl", from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, 153.0, candles[1].Close)
	assert.Equal(t, int64(2000), candles[1].Volume)
	assert.Equal(t, time.UnixMilli(1735794000000).UTC(), candles[0].Timestamp)
}

func TestEmptyResultsIsNoData(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","resultsCount":0}`)
	}))

	day := time.Date(2025, 1, 4, 0, 0, 0, 0, time.UTC)
	_, err := c.DailyAggregates(context.Background(), "AAPL", day, day)
	assert.ErrorIs(t, err, errors.ErrNoData)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, errors.ErrInvalidAPIKey},
		{http.StatusForbidden, errors.ErrInvalidAPIKey},
		{http.StatusNotFound, errors.ErrNoData},
		{http.StatusTooManyRequests, errors.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			_, err := c.PreviousClose(context.Background(), "AAPL")
			assert.ErrorIs(t, err, tt.want)

			var pe *errors.ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.Status)
		})
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"results":[{"o":1,"h":2,"l":0.5,"c":1.5,"v":10,"t":1735794000000}]}`)
	}))

	candle, err := c.PreviousClose(context.Background(), "SPY")
	require.NoError(t, err)
	assert.Equal(t, 1.5, candle.Close)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.PreviousClose(context.Background(), "SPY")
	assert.ErrorIs(t, err, errors.ErrInvalidAPIKey)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResponsesAreCached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"results":[{"c":10,"t":1735794000000}]}`)
	}))

	for i := 0; i < 3; i++ {
		_, err := c.PreviousClose(context.Background(), "QQQ")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestMissingAPIKey(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler(), func(cfg *Config) { cfg.APIKey = "" })
	_, err := c.PreviousClose(context.Background(), "SPY")
	assert.ErrorIs(t, err, errors.ErrInvalidAPIKey)
}

func TestOptionContractsFollowsNextURL(t *testing.T) {
	var srvURL string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/reference/options/contracts", r.URL.Path)
		if r.URL.Query().Get("cursor") == "" {
			assert.Equal(t, "AAPL", r.URL.Query().Get("underlying_ticker"))
			assert.Equal(t, "2025-01-02", r.URL.Query().Get("as_of"))
			fmt.Fprintf(w, `{"results":[{"ticker":"O:AAPL250117C00150000","underlying_ticker":"AAPL","contract_type":"call","expiration_date":"2025-01-17","strike_price":150}],
				"next_url":"%s/v3/reference/options/contracts?cursor=abc"}`, srvURL)
			return
		}
		fmt.Fprint(w, `{"results":[{"ticker":"O:AAPL250117P00140000","underlying_ticker":"AAPL","contract_type":"put","expiration_date":"2025-01-17","strike_price":140}]}`)
	})
	srv := httptest.NewServer(h)
	defer srv.Close()
	srvURL = srv.URL

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", RequestsPerMinute: 60000, Burst: 10, Logger: zerolog.Nop()})
	contracts, err := c.OptionContracts(context.Background(), "AAPL", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), 100)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, models.OptionPut, contracts[1].Type)
	assert.Equal(t, time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC), contracts[0].Expiration())
}

func TestOptionChainSnapshot(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/snapshot/options/TSLA", r.URL.Path)
		fmt.Fprint(w, `{"status":"OK","results":[{
			"day":{"close":5.1,"volume":1200,"vwap":5.05,"last_updated":1735794000000000000},
			"details":{"contract_type":"call","expiration_date":"2025-01-17","strike_price":400,"ticker":"O:TSLA250117C00400000"},
			"greeks":{"delta":0.45,"gamma":0.01,"theta":-0.2,"vega":0.3},
			"implied_volatility":0.62,
			"last_quote":{"ask":5.2,"bid":5.0},
			"last_trade":{"price":5.2,"size":10,"sip_timestamp":1735794000000000000},
			"open_interest":3000,
			"underlying_asset":{"price":398.5,"ticker":"TSLA"}}]}`)
	}))

	rows, err := c.OptionChainSnapshot(context.Background(), "tsla")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	a := rows[0]
	assert.Equal(t, "TSLA", a.Symbol)
	assert.Equal(t, models.OptionCall, a.Type)
	assert.Equal(t, int64(1200), a.Volume)
	assert.Equal(t, int64(3000), a.OpenInterest)
	assert.Equal(t, 5.2, a.Last)
	assert.Equal(t, 0.45, a.Greeks.Delta)
	assert.Equal(t, 398.5, a.UnderlyingPrice)
	assert.Zero(t, a.Premium, "snapshot rows are not classified")
}

func TestAnalystRatings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/benzinga/v1/ratings", r.URL.Path)
		assert.Equal(t, "NVDA", r.URL.Query().Get("ticker"))
		fmt.Fprint(w, `{"results":[{"ticker":"NVDA","firm":"Acme Securities","rating_action":"upgrades","rating":"Buy","previous_rating":"Hold","price_target":180,"previous_price_target":150,"date":"2025-02-10"}]}`)
	}))

	ratings, err := c.AnalystRatings(context.Background(), "nvda", 5)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	assert.Equal(t, "upgrades", ratings[0].Action)
	assert.Equal(t, "Hold", ratings[0].RatingPrior)
	assert.Equal(t, 180.0, ratings[0].PriceTarget)
}

func TestProxyWhitelist(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("apiKey"))
		fmt.Fprint(w, `{"ok":true}`)
	}))

	body, err := c.Proxy(context.Background(), "/v2/aggs/ticker/AAPL/prev", url.Values{"apiKey": {"leak"}})
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ok"))

	_, err = c.Proxy(context.Background(), "/v1/reference/secrets", nil)
	assert.ErrorIs(t, err, errors.ErrPathNotAllowed)

	_, err = c.Proxy(context.Background(), "/v2/aggs/../../v1/x", nil)
	assert.ErrorIs(t, err, errors.ErrPathNotAllowed)
}
