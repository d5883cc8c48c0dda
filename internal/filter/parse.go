package filter

import (
	"net/url"
	"strconv"
	"strings"

	"snoopflow/internal/errors"
	"snoopflow/internal/models"
	"snoopflow/internal/security"
)

// ParseTypes parses option type names such as "call" or "P".
func ParseTypes(values []string) ([]models.OptionType, error) {
	var out []models.OptionType
	for _, v := range splitList(values) {
		t, ok := models.ParseOptionType(v)
		if !ok {
			return nil, errors.NewValidationError("types", v, "expected call or put")
		}
		out = append(out, t)
	}
	return out, nil
}

// ParseLocations parses trade locations such as "ask" or "below_bid".
func ParseLocations(values []string) ([]models.TradeLocation, error) {
	var out []models.TradeLocation
	for _, v := range splitList(values) {
		l, ok := models.ParseTradeLocation(v)
		if !ok {
			return nil, errors.NewValidationError("locations", v, "unknown trade location")
		}
		out = append(out, l)
	}
	return out, nil
}

// ParseSentiments parses bullish, bearish or neutral.
func ParseSentiments(values []string) ([]models.Sentiment, error) {
	var out []models.Sentiment
	for _, v := range splitList(values) {
		s := models.Sentiment(strings.ToLower(v))
		if !s.Valid() {
			return nil, errors.NewValidationError("sentiments", v, "expected bullish, bearish or neutral")
		}
		out = append(out, s)
	}
	return out, nil
}

// FromValues builds FilterOptions from query parameters. List parameters
// accept repeated keys or comma separated values.
func FromValues(q url.Values) (models.FilterOptions, error) {
	var opts models.FilterOptions
	var err error

	if syms := splitList(q["symbols"]); len(syms) > 0 {
		if opts.Symbols, err = security.NormalizeSymbols(syms); err != nil {
			return opts, err
		}
	}
	if v := q.Get("min_volume"); v != "" {
		if opts.MinVolume, err = strconv.ParseInt(v, 10, 64); err != nil || opts.MinVolume < 0 {
			return opts, errors.NewValidationError("min_volume", v, "must be a non-negative integer")
		}
	}
	if v := q.Get("min_premium"); v != "" {
		if opts.MinPremium, err = strconv.ParseFloat(v, 64); err != nil || opts.MinPremium < 0 {
			return opts, errors.NewValidationError("min_premium", v, "must be a non-negative number")
		}
	}
	if v := q.Get("max_dte"); v != "" {
		if opts.MaxDTE, err = strconv.Atoi(v); err != nil || opts.MaxDTE < 0 {
			return opts, errors.NewValidationError("max_dte", v, "must be a non-negative integer")
		}
	}
	if opts.OptionTypes, err = ParseTypes(q["types"]); err != nil {
		return opts, err
	}
	if opts.Locations, err = ParseLocations(q["locations"]); err != nil {
		return opts, err
	}
	if opts.Sentiments, err = ParseSentiments(q["sentiments"]); err != nil {
		return opts, err
	}

	flags := map[string]*bool{
		"unusual": &opts.UnusualOnly,
		"block":   &opts.BlockOnly,
		"sweep":   &opts.SweepOnly,
	}
	for key, dst := range flags {
		v := q.Get(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.NewValidationError(key, v, "must be true or false")
		}
		*dst = b
	}
	return opts, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
