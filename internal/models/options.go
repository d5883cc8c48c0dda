package models

import "time"

// ContractMultiplier is the number of shares per listed equity option.
const ContractMultiplier = 100

// OptionGreeks represents option Greeks.
type OptionGreeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// OptionsActivity is a single options-contract observation together with its
// derived labels. It is recomputed on every fetch.
type OptionsActivity struct {
	Symbol            string        `json:"symbol"`
	Contract          string        `json:"contract"`
	Strike            float64       `json:"strike"`
	Expiration        time.Time     `json:"expiration"`
	Type              OptionType    `json:"type"`
	Volume            int64         `json:"volume"`
	OpenInterest      int64         `json:"open_interest"`
	Last              float64       `json:"last"`
	Bid               float64       `json:"bid"`
	Ask               float64       `json:"ask"`
	VWAP              float64       `json:"vwap,omitempty"`
	Greeks            OptionGreeks  `json:"greeks"`
	ImpliedVolatility float64       `json:"implied_volatility"`
	Premium           float64       `json:"premium"`
	UnderlyingPrice   float64       `json:"underlying_price,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	Location          TradeLocation `json:"location"`

	Unusual    bool      `json:"unusual"`
	BlockTrade bool      `json:"block_trade"`
	Sweep      bool      `json:"sweep"`
	Sentiment  Sentiment `json:"sentiment"`
}

// DTE returns whole calendar days from the observation to expiration, or -1
// when either date is missing.
func (a OptionsActivity) DTE() int {
	if a.Expiration.IsZero() || a.Timestamp.IsZero() {
		return -1
	}
	d := a.Expiration.Sub(truncateDay(a.Timestamp)).Hours() / 24
	if d < 0 {
		return 0
	}
	return int(d)
}

// VolumeOIRatio returns volume over open interest, or volume when OI is zero.
func (a OptionsActivity) VolumeOIRatio() float64 {
	if a.OpenInterest <= 0 {
		return float64(a.Volume)
	}
	return float64(a.Volume) / float64(a.OpenInterest)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// OptionTrade is one print on an options contract from the live feed.
type OptionTrade struct {
	Contract   string    `json:"contract"`
	Price      float64   `json:"price"`
	Size       int64     `json:"size"`
	Exchange   int       `json:"exchange"`
	Conditions []int     `json:"conditions,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// OptionQuote is an NBBO update on an options contract from the live feed.
type OptionQuote struct {
	Contract  string    `json:"contract"`
	Bid       float64   `json:"bid"`
	BidSize   int64     `json:"bid_size"`
	Ask       float64   `json:"ask"`
	AskSize   int64     `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Sweep is an order inferred from several aggressive prints on one contract
// inside a short window.
type Sweep struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Contract   string     `json:"contract"`
	Type       OptionType `json:"type"`
	Strike     float64    `json:"strike"`
	Expiration time.Time  `json:"expiration"`
	Side       Side       `json:"side"`
	TotalSize  int64      `json:"total_size"`
	Premium    float64    `json:"premium"`
	AvgPrice   float64    `json:"avg_price"`
	Prints     int        `json:"prints"`
	Exchanges  []int      `json:"exchanges"`
	Sentiment  Sentiment  `json:"sentiment"`
	FirstAt    time.Time  `json:"first_at"`
	LastAt     time.Time  `json:"last_at"`
	BlockTrade bool       `json:"block_trade"`
}
