package backtest

import (
	"gonum.org/v1/gonum/stat"

	"snoopflow/internal/models"
)

// PremiumBuckets are the premium ranges reported in every summary.
func PremiumBuckets() []models.PremiumBucket {
	return []models.PremiumBucket{
		{Label: "<50K", Min: 0, Max: 50_000},
		{Label: "50K-100K", Min: 50_000, Max: 100_000},
		{Label: "100K-250K", Min: 100_000, Max: 250_000},
		{Label: "250K-1M", Min: 250_000, Max: 1_000_000},
		{Label: "1M+", Min: 1_000_000},
	}
}

// Summarize aggregates trades. flagged is the number of qualifying stock
// moves found, whether or not any activity preceded them.
func Summarize(trades []models.BacktestTrade, flagged int) models.BacktestSummary {
	sum := models.BacktestSummary{
		TotalTrades:  len(trades),
		FlaggedMoves: flagged,
		ByType: []models.TypeBreakdown{
			{Type: models.OptionCall},
			{Type: models.OptionPut},
		},
		ByPremium: PremiumBuckets(),
	}
	if len(trades) == 0 {
		return sum
	}

	movements := make([]float64, len(trades))
	best, worst := -1, -1
	for i, t := range trades {
		movements[i] = t.StockMovement
		if t.TargetReached {
			sum.Successes++
		}

		for j := range sum.ByType {
			if sum.ByType[j].Type == t.Activity.Type {
				sum.ByType[j].Trades++
				if t.TargetReached {
					sum.ByType[j].Successes++
				}
			}
		}

		for j := range sum.ByPremium {
			b := &sum.ByPremium[j]
			if t.Activity.Premium >= b.Min && (b.Max == 0 || t.Activity.Premium < b.Max) {
				b.Trades++
				if t.TargetReached {
					b.Successes++
				}
				break
			}
		}

		r := directionalReturn(t)
		if best < 0 || r > directionalReturn(trades[best]) {
			best = i
		}
		if worst < 0 || r < directionalReturn(trades[worst]) {
			worst = i
		}
	}

	sum.SuccessRate = rate(sum.Successes, sum.TotalTrades)
	for j := range sum.ByType {
		sum.ByType[j].SuccessRate = rate(sum.ByType[j].Successes, sum.ByType[j].Trades)
	}
	for j := range sum.ByPremium {
		sum.ByPremium[j].SuccessRate = rate(sum.ByPremium[j].Successes, sum.ByPremium[j].Trades)
	}

	sum.AvgMovement = stat.Mean(movements, nil)
	if len(movements) > 1 {
		sum.StdDevMovement = stat.StdDev(movements, nil)
	}

	bt, wt := trades[best], trades[worst]
	sum.BestTrade, sum.WorstTrade = &bt, &wt
	return sum
}

// directionalReturn is the stock move signed in favour of the trade's bet.
func directionalReturn(t models.BacktestTrade) float64 {
	if t.Direction == models.SentimentBearish {
		return -t.StockMovement
	}
	return t.StockMovement
}

// rate returns a percentage, zero when n is zero.
func rate(k, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(k) / float64(n) * 100
}
