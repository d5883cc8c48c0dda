package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"snoopflow/internal/models"
)

func sample() []models.OptionsActivity {
	ts := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	return []models.OptionsActivity{
		{Symbol: "AAPL", Type: models.OptionCall, Volume: 1200, Premium: 300_000, OpenInterest: 400, Unusual: true, BlockTrade: true, Sentiment: models.SentimentBullish, Location: models.LocationAtAsk, Timestamp: ts, Expiration: ts.AddDate(0, 0, 10)},
		{Symbol: "TSLA", Type: models.OptionPut, Volume: 50, Premium: 4_000, OpenInterest: 1000, Sentiment: models.SentimentBearish, Location: models.LocationMid, Timestamp: ts.Add(time.Minute), Expiration: ts.AddDate(0, 0, 45)},
		{Symbol: "SPY", Type: models.OptionPut, Volume: 800, Premium: 90_000, OpenInterest: 100, Unusual: true, Sentiment: models.SentimentBearish, Location: models.LocationAtBid, Sweep: true, Timestamp: ts.Add(2 * time.Minute), Expiration: ts.AddDate(0, 0, 2)},
	}
}

func TestApplyZeroOptionsKeepsEverything(t *testing.T) {
	in := sample()
	assert.Len(t, Apply(in, models.FilterOptions{}), len(in))
}

func TestMaxDTEPassesUnknownObservationTime(t *testing.T) {
	ts := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	undated := models.OptionsActivity{Symbol: "QQQ", Expiration: ts.AddDate(1, 0, 0)}
	dated := undated
	dated.Timestamp = ts

	opts := models.FilterOptions{MaxDTE: 30}
	assert.Equal(t, -1, undated.DTE())
	assert.True(t, Matches(undated, opts))
	assert.False(t, Matches(dated, opts))
}

func TestApplyRestrictions(t *testing.T) {
	tests := []struct {
		name string
		opts models.FilterOptions
		want []string
	}{
		{"symbols case-insensitive", models.FilterOptions{Symbols: []string{"aapl", "spy"}}, []string{"AAPL", "SPY"}},
		{"min premium", models.FilterOptions{MinPremium: 50_000}, []string{"AAPL", "SPY"}},
		{"puts only", models.FilterOptions{OptionTypes: []models.OptionType{models.OptionPut}}, []string{"TSLA", "SPY"}},
		{"unusual only", models.FilterOptions{UnusualOnly: true}, []string{"AAPL", "SPY"}},
		{"block only", models.FilterOptions{BlockOnly: true}, []string{"AAPL"}},
		{"sweep only", models.FilterOptions{SweepOnly: true}, []string{"SPY"}},
		{"max dte", models.FilterOptions{MaxDTE: 14}, []string{"AAPL", "SPY"}},
		{"location", models.FilterOptions{Locations: []models.TradeLocation{models.LocationAtBid}}, []string{"SPY"}},
		{"sentiment and volume", models.FilterOptions{Sentiments: []models.Sentiment{models.SentimentBearish}, MinVolume: 100}, []string{"SPY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, a := range Apply(sample(), tt.opts) {
				got = append(got, a.Symbol)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSort(t *testing.T) {
	in := sample()

	Sort(in, SortPremium, true)
	assert.Equal(t, "AAPL", in[0].Symbol)
	assert.Equal(t, "TSLA", in[2].Symbol)

	Sort(in, SortVolumeOI, true)
	assert.Equal(t, "SPY", in[0].Symbol)

	Sort(in, SortTimestamp, false)
	assert.Equal(t, []string{"AAPL", "TSLA", "SPY"}, []string{in[0].Symbol, in[1].Symbol, in[2].Symbol})
}
