// Package classifier labels options activity as unusual, block, and by sentiment.
//
// Every function here is pure. Thresholds come from a named profile so that
// the live feed, the dashboard and the backtester agree on what "unusual" means.
package classifier

import (
	"fmt"
	"math"

	"snoopflow/internal/models"
)

// halfTick is the tolerance used when comparing a print against the quote.
const halfTick = 0.005

// Thresholds holds the fixed cut-offs used for labelling.
type Thresholds struct {
	UnusualVolume  int64   `json:"unusual_volume"`
	UnusualPremium float64 `json:"unusual_premium"`
	BlockVolume    int64   `json:"block_volume"`
	BlockPremium   float64 `json:"block_premium"`
	SentimentDelta float64 `json:"sentiment_delta"`
}

var profiles = map[string]Thresholds{
	"sensitive": {
		UnusualVolume:  3,
		UnusualPremium: 25,
		BlockVolume:    50,
		BlockPremium:   25_000,
		SentimentDelta: 0.3,
	},
	"standard": {
		UnusualVolume:  500,
		UnusualPremium: 50_000,
		BlockVolume:    1_000,
		BlockPremium:   100_000,
		SentimentDelta: 0.3,
	},
	"conservative": {
		UnusualVolume:  1_000,
		UnusualPremium: 100_000,
		BlockVolume:    5_000,
		BlockPremium:   500_000,
		SentimentDelta: 0.3,
	},
}

// Default returns the standard profile.
func Default() Thresholds {
	return profiles["standard"]
}

// Profile returns the named threshold profile.
func Profile(name string) (Thresholds, error) {
	t, ok := profiles[name]
	if !ok {
		return Thresholds{}, fmt.Errorf("unknown classifier profile %q", name)
	}
	return t, nil
}

// Resolve returns the named profile with every non-zero field of overrides applied.
func Resolve(name string, overrides Thresholds) (Thresholds, error) {
	t, err := Profile(name)
	if err != nil {
		return Thresholds{}, err
	}
	if overrides.UnusualVolume > 0 {
		t.UnusualVolume = overrides.UnusualVolume
	}
	if overrides.UnusualPremium > 0 {
		t.UnusualPremium = overrides.UnusualPremium
	}
	if overrides.BlockVolume > 0 {
		t.BlockVolume = overrides.BlockVolume
	}
	if overrides.BlockPremium > 0 {
		t.BlockPremium = overrides.BlockPremium
	}
	if overrides.SentimentDelta > 0 {
		t.SentimentDelta = overrides.SentimentDelta
	}
	return t, nil
}

// Premium returns the dollar value of volume contracts traded at price.
func Premium(price float64, volume int64) float64 {
	if price <= 0 || volume <= 0 {
		return 0
	}
	return price * float64(volume) * models.ContractMultiplier
}

// IsUnusual flags activity whose volume or premium reaches the unusual cut-off.
func (t Thresholds) IsUnusual(volume int64, premium float64) bool {
	return volume >= t.UnusualVolume || premium >= t.UnusualPremium
}

// IsBlockTrade flags activity whose volume or premium reaches the block cut-off.
func (t Thresholds) IsBlockTrade(volume int64, premium float64) bool {
	return volume >= t.BlockVolume || premium >= t.BlockPremium
}

// LocateTrade places a print relative to the prevailing bid and ask.
func LocateTrade(price, bid, ask float64) models.TradeLocation {
	if price <= 0 || (bid <= 0 && ask <= 0) {
		return models.LocationUnknown
	}
	if ask > 0 {
		if price > ask+halfTick {
			return models.LocationAboveAsk
		}
		if price >= ask-halfTick {
			return models.LocationAtAsk
		}
	}
	if bid > 0 {
		if price < bid-halfTick {
			return models.LocationBelowBid
		}
		if price <= bid+halfTick {
			return models.LocationAtBid
		}
	}
	return models.LocationMid
}

// InferLocation places a historical daily bar when no quote is available:
// a close above VWAP is read as buyers lifting the ask, below as sellers
// hitting the bid.
func InferLocation(close, vwap float64) models.TradeLocation {
	if close <= 0 || vwap <= 0 {
		return models.LocationUnknown
	}
	switch {
	case close > vwap+halfTick:
		return models.LocationAtAsk
	case close < vwap-halfTick:
		return models.LocationAtBid
	default:
		return models.LocationMid
	}
}

// Direction is the directional bet implied by the option type and aggressor
// side. Buying calls or selling puts is bullish; buying puts or selling calls is
// bearish. Without a known side the option type decides.
func Direction(typ models.OptionType, loc models.TradeLocation) models.Sentiment {
	switch loc.Side() {
	case models.SideBuy:
		if typ == models.OptionPut {
			return models.SentimentBearish
		}
		if typ == models.OptionCall {
			return models.SentimentBullish
		}
	case models.SideSell:
		if typ == models.OptionPut {
			return models.SentimentBullish
		}
		if typ == models.OptionCall {
			return models.SentimentBearish
		}
	}
	return typeDefault(typ)
}

// CalculateSentiment returns bullish for a call with delta above the cut-off,
// bearish for a put with delta below the negative cut-off, and otherwise
// derives the sentiment from type and side. Mid-market prints are neutral.
func (t Thresholds) CalculateSentiment(typ models.OptionType, delta float64, loc models.TradeLocation) models.Sentiment {
	if math.IsNaN(delta) {
		delta = 0
	}
	if typ == models.OptionCall && delta > t.SentimentDelta {
		return models.SentimentBullish
	}
	if typ == models.OptionPut && delta < -t.SentimentDelta {
		return models.SentimentBearish
	}
	if loc == models.LocationMid {
		return models.SentimentNeutral
	}
	return Direction(typ, loc)
}

func typeDefault(typ models.OptionType) models.Sentiment {
	switch typ {
	case models.OptionCall:
		return models.SentimentBullish
	case models.OptionPut:
		return models.SentimentBearish
	default:
		return models.SentimentNeutral
	}
}

// TradePrice picks the best available price for premium: last, then VWAP,
// then the quote midpoint.
func TradePrice(a *models.OptionsActivity) float64 {
	switch {
	case a.Last > 0:
		return a.Last
	case a.VWAP > 0:
		return a.VWAP
	case a.Bid > 0 && a.Ask > 0:
		return (a.Bid + a.Ask) / 2
	}
	return 0
}

// Classify fills in premium, location and every derived label on a.
func (t Thresholds) Classify(a *models.OptionsActivity) {
	if a.Premium <= 0 {
		a.Premium = Premium(TradePrice(a), a.Volume)
	}
	if a.Location == "" {
		a.Location = LocateTrade(a.Last, a.Bid, a.Ask)
	}
	a.Unusual = t.IsUnusual(a.Volume, a.Premium)
	a.BlockTrade = t.IsBlockTrade(a.Volume, a.Premium)
	a.Sentiment = t.CalculateSentiment(a.Type, a.Greeks.Delta, a.Location)
}

// ClassifyAll classifies every element in place and returns the slice.
func (t Thresholds) ClassifyAll(activities []models.OptionsActivity) []models.OptionsActivity {
	for i := range activities {
		t.Classify(&activities[i])
	}
	return activities
}
