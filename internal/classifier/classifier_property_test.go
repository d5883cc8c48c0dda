package classifier

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"snoopflow/internal/models"
)

// Property: IsUnusual and IsBlockTrade never flip from true to false when
// volume or premium grows, for every profile.
func TestProperty_ThresholdsMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	profileGen := gen.OneConstOf("sensitive", "standard", "conservative")

	properties.Property("labels are monotonic in volume and premium", prop.ForAll(
		func(profile string, volume, dv int64, premium, dp float64) bool {
			th, err := Profile(profile)
			if err != nil {
				return false
			}
			if th.IsUnusual(volume, premium) && !th.IsUnusual(volume+dv, premium+dp) {
				t.Logf("unusual not monotonic: %d/%.2f -> %d/%.2f", volume, premium, volume+dv, premium+dp)
				return false
			}
			if th.IsBlockTrade(volume, premium) && !th.IsBlockTrade(volume+dv, premium+dp) {
				t.Logf("block not monotonic: %d/%.2f -> %d/%.2f", volume, premium, volume+dv, premium+dp)
				return false
			}
			return true
		},
		profileGen,
		gen.Int64Range(0, 20000),
		gen.Int64Range(0, 20000),
		gen.Float64Range(0, 2_000_000),
		gen.Float64Range(0, 2_000_000),
	))

	properties.TestingRun(t)
}

// Property: CalculateSentiment returns one of the three enumerated values for
// every delta, type and location.
func TestProperty_SentimentEnumerated(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	typeGen := gen.OneConstOf("call", "put", "")
	locGen := gen.OneConstOf("above_ask", "at_ask", "mid", "at_bid", "below_bid", "unknown", "")

	properties.Property("sentiment is bullish, bearish or neutral", prop.ForAll(
		func(typ string, loc string, delta float64) bool {
			th := Default()
			s := th.CalculateSentiment(models.OptionType(typ), delta, models.TradeLocation(loc))
			return s.Valid()
		},
		typeGen,
		locGen,
		gen.Float64Range(-1.5, 1.5),
	))

	properties.TestingRun(t)
}

// Property: a classified activity's labels agree with the threshold functions.
func TestProperty_ClassifyConsistent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Classify agrees with IsUnusual/IsBlockTrade", prop.ForAll(
		func(volume int64, last, bid, spread float64) bool {
			th := Default()
			a := models.OptionsActivity{
				Type:   models.OptionCall,
				Volume: volume,
				Last:   last,
				Bid:    bid,
				Ask:    bid + spread,
			}
			th.Classify(&a)
			return a.Unusual == th.IsUnusual(a.Volume, a.Premium) &&
				a.BlockTrade == th.IsBlockTrade(a.Volume, a.Premium) &&
				a.Premium == Premium(last, volume) &&
				a.Sentiment.Valid()
		},
		gen.Int64Range(0, 5000),
		gen.Float64Range(0.05, 50),
		gen.Float64Range(0.01, 50),
		gen.Float64Range(0, 2),
	))

	properties.TestingRun(t)
}
