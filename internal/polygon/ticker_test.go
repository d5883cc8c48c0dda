package polygon

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoopflow/internal/models"
)

func TestParseOptionTicker(t *testing.T) {
	tests := []struct {
		in   string
		want OptionTicker
	}{
		{"O:AAPL250117C00150000", OptionTicker{"AAPL", time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC), models.OptionCall, 150}},
		{"O:SPXW250303P05825000", OptionTicker{"SPXW", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), models.OptionPut, 5825}},
		{"F250620C00012500", OptionTicker{"F", time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), models.OptionCall, 12.5}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOptionTicker(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOptionTickerRejects(t *testing.T) {
	for _, in := range []string{"", "O:AAPL", "O:AAPL251317C00150000", "O:AAPL250117X00150000", "O:AAPL250117C0015000A"} {
		_, err := ParseOptionTicker(in)
		assert.Error(t, err, in)
	}
}

// Property: String and ParseOptionTicker round-trip.
func TestProperty_TickerRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Parse(t.String()) == t", prop.ForAll(
		func(root string, days int, put bool, strikeMilli int64) bool {
			typ := models.OptionCall
			if put {
				typ = models.OptionPut
			}
			in := OptionTicker{
				Underlying: root,
				Expiration: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, days),
				Type:       typ,
				Strike:     float64(strikeMilli*5) / 1000,
			}
			out, err := ParseOptionTicker(in.String())
			return err == nil && out == in
		},
		gen.OneConstOf("AAPL", "SPY", "TSLA", "F", "SPXW"),
		gen.IntRange(0, 2000),
		gen.Bool(),
		gen.Int64Range(1, 2_000_000),
	))

	properties.TestingRun(t)
}
