package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"snoopflow/internal/errors"
	"snoopflow/internal/models"
)

const dateLayout = "2006-01-02"

// maxPages bounds next_url pagination.
const maxPages = 50

type aggBar struct {
	Volume       float64 `json:"v"`
	VWAP         float64 `json:"vw"`
	Open         float64 `json:"o"`
	Close        float64 `json:"c"`
	High         float64 `json:"h"`
	Low          float64 `json:"l"`
	Timestamp    int64   `json:"t"`
	Transactions int64   `json:"n"`
}

func (b aggBar) candle() models.Candle {
	return models.Candle{
		Timestamp:    time.UnixMilli(b.Timestamp).UTC(),
		Open:         b.Open,
		High:         b.High,
		Low:          b.Low,
		Close:        b.Close,
		Volume:       int64(b.Volume),
		VWAP:         b.VWAP,
		Transactions: b.Transactions,
	}
}

type aggsResponse struct {
	Ticker       string   `json:"ticker"`
	Status       string   `json:"status"`
	ResultsCount int      `json:"resultsCount"`
	Results      []aggBar `json:"results"`
}

// DailyAggregates returns daily bars for ticker over [from, to]. Option
// tickers (O:...) are accepted.
func (c *Client) DailyAggregates(ctx context.Context, ticker string, from, to time.Time) ([]models.Candle, error) {
	return c.aggregates(ctx, ticker, "day", from, to)
}

// MinuteAggregates returns minute bars for ticker on date.
func (c *Client) MinuteAggregates(ctx context.Context, ticker string, date time.Time) ([]models.Candle, error) {
	return c.aggregates(ctx, ticker, "minute", date, date)
}

func (c *Client) aggregates(ctx context.Context, ticker, span string, from, to time.Time) ([]models.Candle, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, errors.NewValidationError("ticker", ticker, "required")
	}
	if to.Before(from) {
		return nil, errors.NewValidationError("to", to.Format(dateLayout), "before from")
	}

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%s/%s",
		url.PathEscape(ticker), span, from.Format(dateLayout), to.Format(dateLayout))
	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", "50000")

	body, err := c.get(ctx, "/v2/aggs", path, q, c.cfg.AggregatesTTL)
	if err != nil {
		return nil, err
	}

	var resp aggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewDataError("aggregates", ticker, "decoding response", err)
	}
	if len(resp.Results) == 0 {
		return nil, errors.NewDataError("aggregates", ticker, "no bars", errors.ErrNoData)
	}

	candles := make([]models.Candle, len(resp.Results))
	for i, b := range resp.Results {
		candles[i] = b.candle()
	}
	return candles, nil
}

// DailyOpenClose is the /v1/open-close response.
type DailyOpenClose struct {
	Status     string  `json:"status"`
	From       string  `json:"from"`
	Symbol     string  `json:"symbol"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	AfterHours float64 `json:"afterHours"`
	PreMarket  float64 `json:"preMarket"`
}

// DailyOpenClose returns the official open and close for ticker on date.
func (c *Client) DailyOpenClose(ctx context.Context, ticker string, date time.Time) (*DailyOpenClose, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	path := fmt.Sprintf("/v1/open-close/%s/%s", url.PathEscape(ticker), date.Format(dateLayout))
	q := url.Values{}
	q.Set("adjusted", "true")

	body, err := c.get(ctx, "/v1/open-close", path, q, c.cfg.AggregatesTTL)
	if err != nil {
		return nil, err
	}

	var oc DailyOpenClose
	if err := json.Unmarshal(body, &oc); err != nil {
		return nil, errors.NewDataError("open-close", ticker, "decoding response", err)
	}
	if oc.Close == 0 {
		return nil, errors.NewDataError("open-close", ticker, "no close", errors.ErrNoData)
	}
	return &oc, nil
}

// PreviousClose returns the previous session's daily bar.
func (c *Client) PreviousClose(ctx context.Context, ticker string) (*models.Candle, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	path := fmt.Sprintf("/v2/aggs/ticker/%s/prev", url.PathEscape(ticker))
	q := url.Values{}
	q.Set("adjusted", "true")

	body, err := c.get(ctx, "/v2/aggs/prev", path, q, c.cfg.AggregatesTTL)
	if err != nil {
		return nil, err
	}

	var resp aggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewDataError("prev", ticker, "decoding response", err)
	}
	if len(resp.Results) == 0 {
		return nil, errors.NewDataError("prev", ticker, "no bar", errors.ErrNoData)
	}
	candle := resp.Results[0].candle()
	return &candle, nil
}

// Contract is an options contract from the reference endpoint.
type Contract struct {
	Ticker            string            `json:"ticker"`
	Underlying        string            `json:"underlying_ticker"`
	Type              models.OptionType `json:"contract_type"`
	ExpirationDate    string            `json:"expiration_date"`
	Strike            float64           `json:"strike_price"`
	SharesPerContract int               `json:"shares_per_contract"`
}

// Expiration parses ExpirationDate.
func (ct Contract) Expiration() time.Time {
	t, _ := time.Parse(dateLayout, ct.ExpirationDate)
	return t
}

// OptionContracts lists up to limit contracts on underlying that were listed
// as of asOf, following next_url pagination.
func (c *Client) OptionContracts(ctx context.Context, underlying string, asOf time.Time, limit int) ([]Contract, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" {
		return nil, errors.NewValidationError("underlying", underlying, "required")
	}
	if limit <= 0 {
		limit = 250
	}

	q := url.Values{}
	q.Set("underlying_ticker", underlying)
	q.Set("limit", strconv.Itoa(min(limit, 1000)))
	if !asOf.IsZero() {
		q.Set("as_of", asOf.Format(dateLayout))
		q.Set("expired", "true")
		q.Set("expiration_date.gte", asOf.Format(dateLayout))
	}

	contracts, err := paginate[Contract](ctx, c, "/v3/reference/options/contracts",
		"/v3/reference/options/contracts", q, c.cfg.ReferenceTTL, limit)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, errors.NewDataError("contracts", underlying, "no contracts", errors.ErrNoData)
	}
	return contracts, nil
}

type snapshotResult struct {
	Day struct {
		Close       float64 `json:"close"`
		Volume      float64 `json:"volume"`
		VWAP        float64 `json:"vwap"`
		LastUpdated int64   `json:"last_updated"`
	} `json:"day"`
	Details struct {
		ContractType   string  `json:"contract_type"`
		ExpirationDate string  `json:"expiration_date"`
		StrikePrice    float64 `json:"strike_price"`
		Ticker         string  `json:"ticker"`
	} `json:"details"`
	Greeks            models.OptionGreeks `json:"greeks"`
	ImpliedVolatility float64             `json:"implied_volatility"`
	LastQuote         struct {
		Ask float64 `json:"ask"`
		Bid float64 `json:"bid"`
	} `json:"last_quote"`
	LastTrade struct {
		Price        float64 `json:"price"`
		Size         int64   `json:"size"`
		SipTimestamp int64   `json:"sip_timestamp"`
	} `json:"last_trade"`
	OpenInterest    float64 `json:"open_interest"`
	UnderlyingAsset struct {
		Price  float64 `json:"price"`
		Ticker string  `json:"ticker"`
	} `json:"underlying_asset"`
}

func (r snapshotResult) activity(underlying string) models.OptionsActivity {
	a := models.OptionsActivity{
		Symbol:            underlying,
		Contract:          r.Details.Ticker,
		Strike:            r.Details.StrikePrice,
		Volume:            int64(r.Day.Volume),
		OpenInterest:      int64(r.OpenInterest),
		Last:              r.LastTrade.Price,
		Bid:               r.LastQuote.Bid,
		Ask:               r.LastQuote.Ask,
		VWAP:              r.Day.VWAP,
		Greeks:            r.Greeks,
		ImpliedVolatility: r.ImpliedVolatility,
		UnderlyingPrice:   r.UnderlyingAsset.Price,
	}
	if a.Last == 0 {
		a.Last = r.Day.Close
	}
	if t, ok := models.ParseOptionType(r.Details.ContractType); ok {
		a.Type = t
	}
	if exp, err := time.Parse(dateLayout, r.Details.ExpirationDate); err == nil {
		a.Expiration = exp
	}
	if a.Type == "" || a.Expiration.IsZero() {
		if ot, err := ParseOptionTicker(a.Contract); err == nil {
			a.Type, a.Expiration, a.Strike = ot.Type, ot.Expiration, ot.Strike
		}
	}
	switch {
	case r.LastTrade.SipTimestamp > 0:
		a.Timestamp = time.Unix(0, r.LastTrade.SipTimestamp).UTC()
	case r.Day.LastUpdated > 0:
		a.Timestamp = time.Unix(0, r.Day.LastUpdated).UTC()
	default:
		a.Timestamp = time.Now().UTC()
	}
	return a
}

// OptionChainSnapshot returns the current chain for underlying as
// unclassified activity, one row per contract.
func (c *Client) OptionChainSnapshot(ctx context.Context, underlying string) ([]models.OptionsActivity, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" {
		return nil, errors.NewValidationError("underlying", underlying, "required")
	}

	q := url.Values{}
	q.Set("limit", "250")
	path := "/v3/snapshot/options/" + url.PathEscape(underlying)

	results, err := paginate[snapshotResult](ctx, c, "/v3/snapshot/options", path, q, c.cfg.SnapshotTTL, 0)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.NewDataError("snapshot", underlying, "empty chain", errors.ErrNoData)
	}

	out := make([]models.OptionsActivity, 0, len(results))
	for _, r := range results {
		if r.Details.Ticker == "" {
			continue
		}
		out = append(out, r.activity(underlying))
	}
	return out, nil
}

type ratingResult struct {
	Ticker              string  `json:"ticker"`
	Firm                string  `json:"firm"`
	Analyst             string  `json:"analyst"`
	RatingAction        string  `json:"rating_action"`
	Rating              string  `json:"rating"`
	PreviousRating      string  `json:"previous_rating"`
	PriceTarget         float64 `json:"price_target"`
	PreviousPriceTarget float64 `json:"previous_price_target"`
	Date                string  `json:"date"`
}

// AnalystRatings returns the latest Benzinga analyst actions for ticker.
func (c *Client) AnalystRatings(ctx context.Context, ticker string, limit int) ([]models.AnalystRating, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, errors.NewValidationError("ticker", ticker, "required")
	}
	if limit <= 0 {
		limit = 20
	}

	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "date.desc")

	body, err := c.get(ctx, "/benzinga/v1/ratings", "/benzinga/v1/ratings", q, c.cfg.ReferenceTTL)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Results []ratingResult `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewDataError("ratings", ticker, "decoding response", err)
	}

	ratings := make([]models.AnalystRating, 0, len(resp.Results))
	for _, r := range resp.Results {
		date, _ := time.Parse(dateLayout, r.Date)
		ratings = append(ratings, models.AnalystRating{
			Ticker:        r.Ticker,
			Firm:          r.Firm,
			Analyst:       r.Analyst,
			Action:        r.RatingAction,
			RatingCurrent: r.Rating,
			RatingPrior:   r.PreviousRating,
			PriceTarget:   r.PriceTarget,
			PriorTarget:   r.PreviousPriceTarget,
			Date:          date,
		})
	}
	return ratings, nil
}

// Proxy forwards a raw GET to a whitelisted Polygon path and returns the body
// unchanged. Any apiKey in query is discarded.
func (c *Client) Proxy(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if strings.Contains(path, "..") || !c.proxyAllowed(path) {
		return nil, errors.Wrapf(errors.ErrPathNotAllowed, "proxy %s", path)
	}

	ttl := c.cfg.AggregatesTTL
	if strings.HasPrefix(path, "/v3/snapshot/") {
		ttl = c.cfg.SnapshotTTL
	}
	return c.get(ctx, "proxy", path, query, ttl)
}

func (c *Client) proxyAllowed(path string) bool {
	for _, p := range c.cfg.ProxyPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// paginate collects results across next_url pages until limit rows (0 means
// all) or the last page.
func paginate[T any](ctx context.Context, c *Client, endpoint, path string, q url.Values, ttl time.Duration, limit int) ([]T, error) {
	var out []T
	for page := 0; page < maxPages; page++ {
		body, err := c.get(ctx, endpoint, path, q, ttl)
		if err != nil {
			if page > 0 && errors.Is(err, errors.ErrNoData) {
				break
			}
			return nil, err
		}

		var resp struct {
			Results []T    `json:"results"`
			NextURL string `json:"next_url"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, errors.NewDataError(endpoint, path, "decoding response", err)
		}
		out = append(out, resp.Results...)

		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if resp.NextURL == "" {
			break
		}

		next, err := url.Parse(resp.NextURL)
		if err != nil || next.Path == "" {
			break
		}
		path, q = next.Path, next.Query()
	}
	return out, nil
}
