// Package models provides domain models for the options flow application.
package models

import (
	"strings"
	"time"
)

// OptionType is the right conveyed by an option contract.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// ParseOptionType accepts "call", "put", "C", "P" in any case.
func ParseOptionType(s string) (OptionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c", "calls":
		return OptionCall, true
	case "put", "p", "puts":
		return OptionPut, true
	}
	return "", false
}

// Sentiment is the directional read of a trade.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// Valid reports whether s is one of the three enumerated sentiments.
func (s Sentiment) Valid() bool {
	return s == SentimentBullish || s == SentimentBearish || s == SentimentNeutral
}

// TradeLocation is where a print landed relative to the quote at the time.
type TradeLocation string

const (
	LocationAboveAsk TradeLocation = "above_ask"
	LocationAtAsk    TradeLocation = "at_ask"
	LocationMid      TradeLocation = "mid"
	LocationAtBid    TradeLocation = "at_bid"
	LocationBelowBid TradeLocation = "below_bid"
	LocationUnknown  TradeLocation = "unknown"
)

// ParseTradeLocation normalizes user input such as "ask", "at-ask" or "below_bid".
func ParseTradeLocation(s string) (TradeLocation, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "above_ask":
		return LocationAboveAsk, true
	case "at_ask", "ask":
		return LocationAtAsk, true
	case "mid", "midpoint":
		return LocationMid, true
	case "at_bid", "bid":
		return LocationAtBid, true
	case "below_bid":
		return LocationBelowBid, true
	case "unknown":
		return LocationUnknown, true
	}
	return "", false
}

// Side is the inferred aggressor of a print.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// Side maps a location onto the aggressor side.
func (l TradeLocation) Side() Side {
	switch l {
	case LocationAboveAsk, LocationAtAsk:
		return SideBuy
	case LocationAtBid, LocationBelowBid:
		return SideSell
	default:
		return SideUnknown
	}
}

// Candle represents an OHLCV aggregate bar.
type Candle struct {
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       int64     `json:"volume"`
	VWAP         float64   `json:"vwap,omitempty"`
	Transactions int64     `json:"transactions,omitempty"`
}

// AnalystRating is a Benzinga analyst rating action.
type AnalystRating struct {
	Ticker        string    `json:"ticker"`
	Firm          string    `json:"firm"`
	Analyst       string    `json:"analyst,omitempty"`
	Action        string    `json:"action"`
	RatingCurrent string    `json:"rating_current"`
	RatingPrior   string    `json:"rating_prior,omitempty"`
	PriceTarget   float64   `json:"price_target,omitempty"`
	PriorTarget   float64   `json:"prior_target,omitempty"`
	Date          time.Time `json:"date"`
}
