package models

import "time"

// FilterOptions restricts a list of activity. Zero-valued fields do not restrict.
type FilterOptions struct {
	Symbols     []string        `json:"symbols,omitempty"`
	MinVolume   int64           `json:"min_volume,omitempty"`
	MinPremium  float64         `json:"min_premium,omitempty"`
	OptionTypes []OptionType    `json:"option_types,omitempty"`
	Locations   []TradeLocation `json:"locations,omitempty"`
	Sentiments  []Sentiment     `json:"sentiments,omitempty"`
	UnusualOnly bool            `json:"unusual_only,omitempty"`
	BlockOnly   bool            `json:"block_only,omitempty"`
	SweepOnly   bool            `json:"sweep_only,omitempty"`
	MaxDTE      int             `json:"max_dte,omitempty"`
}

// SnoopAlertConfig is a persisted sweep alert preference.
type SnoopAlertConfig struct {
	ID          string       `json:"id"`
	Symbols     []string     `json:"symbols"`
	MinPremium  float64      `json:"min_premium"`
	OptionTypes []OptionType `json:"option_types"`
	Enabled     bool         `json:"enabled"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
