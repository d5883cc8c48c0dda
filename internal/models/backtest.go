package models

import "time"

// BacktestConfig describes one pattern to replay.
type BacktestConfig struct {
	Name           string          `json:"name,omitempty" yaml:"name"`
	Symbols        []string        `json:"symbols" yaml:"symbols"`
	StartDate      time.Time       `json:"start_date" yaml:"start_date"`
	EndDate        time.Time       `json:"end_date" yaml:"end_date"`
	TargetMovement float64         `json:"target_movement" yaml:"target_movement"` // percent
	TimeHorizon    int             `json:"time_horizon" yaml:"time_horizon"`       // calendar days
	LookbackDays   int             `json:"lookback_days,omitempty" yaml:"lookback_days"`
	MinVolume      int64           `json:"min_volume" yaml:"min_volume"`
	MinPremium     float64         `json:"min_premium" yaml:"min_premium"`
	OptionTypes    []OptionType    `json:"option_types" yaml:"option_types"`
	TradeLocations []TradeLocation `json:"trade_locations" yaml:"trade_locations"`
	TopContracts   int             `json:"top_contracts,omitempty" yaml:"top_contracts"`
}

// BacktestTrade pairs a historical options trade with the subsequent stock move.
type BacktestTrade struct {
	Activity        OptionsActivity `json:"activity"`
	TradeDate       time.Time       `json:"trade_date"`
	MoveDate        time.Time       `json:"move_date"`
	ExitDate        time.Time       `json:"exit_date"`
	EntryPrice      float64         `json:"entry_price"`
	ExitPrice       float64         `json:"exit_price"`
	StockMovement   float64         `json:"stock_movement"` // percent
	Direction       Sentiment       `json:"direction"`
	TargetReached   bool            `json:"target_reached"`
	FlaggedMovement float64         `json:"flagged_movement"` // percent move on the flagged day
}

// TypeBreakdown aggregates outcomes for one option type.
type TypeBreakdown struct {
	Type        OptionType `json:"type"`
	Trades      int        `json:"trades"`
	Successes   int        `json:"successes"`
	SuccessRate float64    `json:"success_rate"`
}

// PremiumBucket aggregates outcomes for a premium range [Min, Max).
// Max of zero means unbounded.
type PremiumBucket struct {
	Label       string  `json:"label"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Trades      int     `json:"trades"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
}

// BacktestSummary is the aggregate view of a run.
type BacktestSummary struct {
	TotalTrades    int             `json:"total_trades"`
	Successes      int             `json:"successes"`
	SuccessRate    float64         `json:"success_rate"`
	FlaggedMoves   int             `json:"flagged_moves"`
	AvgMovement    float64         `json:"avg_movement"`
	StdDevMovement float64         `json:"stddev_movement"`
	ByType         []TypeBreakdown `json:"by_type"`
	ByPremium      []PremiumBucket `json:"by_premium"`
	BestTrade      *BacktestTrade  `json:"best_trade,omitempty"`
	WorstTrade     *BacktestTrade  `json:"worst_trade,omitempty"`
}

// BacktestResult is the full output of a backtest run.
type BacktestResult struct {
	ID            string          `json:"id"`
	Config        BacktestConfig  `json:"config"`
	Trades        []BacktestTrade `json:"trades"`
	Summary       BacktestSummary `json:"summary"`
	FailedSymbols []string        `json:"failed_symbols,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
}

// PatternComparison ranks one named pattern among several runs.
type PatternComparison struct {
	Name        string  `json:"name"`
	ResultID    string  `json:"result_id"`
	TotalTrades int     `json:"total_trades"`
	SuccessRate float64 `json:"success_rate"`
	AvgMovement float64 `json:"avg_movement"`
}
