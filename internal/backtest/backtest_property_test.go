package backtest

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"snoopflow/internal/classifier"
	"snoopflow/internal/models"
)

// Property: targetReached follows the directional rule for each
// (type, side) combination.
// Bought call or sold put succeeds on a rise of at least target; bought put
// or sold call succeeds on a fall of at least target.
func TestProperty_TargetReachedDirectionalRule(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("targetReached agrees with type and side", prop.ForAll(
		func(typ string, loc string, movement, target float64) bool {
			ot := models.OptionType(typ)
			tl := models.TradeLocation(loc)
			direction := classifier.Direction(ot, tl)
			got := TargetReached(direction, movement, target)

			bought := tl.Side() == models.SideBuy
			bullishBet := (ot == models.OptionCall && bought) || (ot == models.OptionPut && !bought)
			if bullishBet {
				return got == (movement >= target)
			}
			return got == (movement <= -target)
		},
		gen.OneConstOf("call", "put"),
		gen.OneConstOf("above_ask", "at_ask", "at_bid", "below_bid"),
		gen.Float64Range(-30, 30),
		gen.Float64Range(0.5, 10),
	))

	properties.TestingRun(t)
}

// Property: with no aggressor side, calls are bullish and puts bearish.
func TestProperty_TargetReachedWithoutSide(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("mid and unknown fall back to the option type", prop.ForAll(
		func(typ string, loc string, movement, target float64) bool {
			ot := models.OptionType(typ)
			got := TargetReached(classifier.Direction(ot, models.TradeLocation(loc)), movement, target)
			if ot == models.OptionCall {
				return got == (movement >= target)
			}
			return got == (movement <= -target)
		},
		gen.OneConstOf("call", "put"),
		gen.OneConstOf("mid", "unknown"),
		gen.Float64Range(-30, 30),
		gen.Float64Range(0.5, 10),
	))

	properties.TestingRun(t)
}

// Property: summary counts are consistent with the trades.
func TestProperty_SummaryConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	tradeGen := gopter.CombineGens(
		gen.OneConstOf("call", "put"),
		gen.Float64Range(0, 3_000_000),
		gen.Float64Range(-20, 20),
		gen.Bool(),
	).Map(func(v []interface{}) models.BacktestTrade {
		return models.BacktestTrade{
			Activity:      models.OptionsActivity{Type: models.OptionType(v[0].(string)), Premium: v[1].(float64)},
			StockMovement: v[2].(float64),
			TargetReached: v[3].(bool),
		}
	})

	properties.Property("buckets and types partition the trades", prop.ForAll(
		func(trades []models.BacktestTrade) bool {
			s := Summarize(trades, 0)
			byType, byPremium, successes := 0, 0, 0
			for _, b := range s.ByType {
				byType += b.Trades
			}
			for _, b := range s.ByPremium {
				byPremium += b.Trades
			}
			for _, tr := range trades {
				if tr.TargetReached {
					successes++
				}
			}
			return byType == len(trades) && byPremium == len(trades) && s.Successes == successes &&
				s.SuccessRate >= 0 && s.SuccessRate <= 100
		},
		gen.SliceOf(tradeGen),
	))

	properties.TestingRun(t)
}
