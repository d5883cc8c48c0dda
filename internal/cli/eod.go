package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snoopflow/internal/errors"
	"snoopflow/internal/marketdata"
	"snoopflow/internal/security"
	"snoopflow/pkg/utils"
)

const dateLayout = "2006-01-02"

// parseDateRange resolves --from/--to/--days into a closed date range.
func parseDateRange(from, to string, days int, now time.Time) (time.Time, time.Time, error) {
	end := now.UTC().Truncate(24 * time.Hour)
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewValidationError("to", to, "expected YYYY-MM-DD")
		}
		end = t
	}
	start := end.AddDate(0, 0, -days)
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewValidationError("from", from, "expected YYYY-MM-DD")
		}
		start = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.NewValidationError("to", to, "before from")
	}
	return start, end, nil
}

func newEODCmd(app *App) *cobra.Command {
	var from, to string
	var days int

	cmd := &cobra.Command{
		Use:   "eod SYMBOL",
		Short: "Show daily candles for a stock",
		Long: `Show end-of-day aggregates for a symbol. Closed days are cached in the
local database so repeated requests do not reach Polygon.`,
		Example: `  snoopflow eod AAPL --days 10
  snoopflow eod TSLA --from 2025-01-02 --to 2025-01-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseDateRange(from, to, days, time.Now())
			if err != nil {
				return err
			}
			svc, err := app.Service(cmd.Context())
			if err != nil {
				return err
			}

			symbol := strings.ToUpper(args[0])
			if err := security.ValidateSymbol(symbol); err != nil {
				return err
			}
			candles, err := svc.EOD(cmd.Context(), symbol, start, end)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": symbol, "candles": candles})
			}

			output.Bold("%s daily %s to %s", symbol, FormatDate(start), FormatDate(end))
			if len(candles) == 0 {
				output.Dim("No candles in range.")
				return nil
			}
			table := NewTable(output, "DATE", "OPEN", "HIGH", "LOW", "CLOSE", "CHANGE", "VOLUME", "VWAP")
			for i, c := range candles {
				change := "-"
				if i > 0 && candles[i-1].Close > 0 {
					change = output.FormatPercent((c.Close - candles[i-1].Close) / candles[i-1].Close * 100)
				}
				table.AddRow(
					FormatDate(c.Timestamp),
					FormatPrice(c.Open),
					FormatPrice(c.High),
					FormatPrice(c.Low),
					FormatPrice(c.Close),
					change,
					utils.FormatQuantity(c.Volume),
					FormatPrice(c.VWAP),
				)
			}
			table.Render()
			output.Printf("Last    %s\n", FormatOHLC(candles[len(candles)-1]))

			if st, err := app.Store(); err == nil {
				if fresh, err := st.GetCandlesFreshness(cmd.Context(), symbol, marketdata.DailyTimeframe); err == nil && !fresh.IsZero() {
					output.Dim("Cached through %s", FormatDate(fresh))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&days, "days", 30, "calendar days back from --to when --from is not set")
	return cmd
}

func newRatingsCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ratings SYMBOL",
		Short: "Show recent analyst rating actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			if err := security.ValidateSymbol(symbol); err != nil {
				return err
			}
			client, err := app.Client(cmd.Context())
			if err != nil {
				return err
			}
			ratings, err := client.AnalystRatings(cmd.Context(), symbol, limit)
			if err != nil && !errors.Is(err, errors.ErrNoData) {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(ratings)
			}
			if len(ratings) == 0 {
				output.Dim("No analyst ratings for %s.", symbol)
				return nil
			}
			table := NewTable(output, "DATE", "FIRM", "ACTION", "RATING", "TARGET")
			for _, r := range ratings {
				rating := r.RatingCurrent
				if r.RatingPrior != "" && r.RatingPrior != r.RatingCurrent {
					rating = r.RatingPrior + " → " + r.RatingCurrent
				}
				target := "-"
				if r.PriceTarget > 0 {
					target = fmt.Sprintf("$%.2f", r.PriceTarget)
					if r.PriorTarget > 0 && r.PriorTarget != r.PriceTarget {
						target = fmt.Sprintf("$%.2f → $%.2f", r.PriorTarget, r.PriceTarget)
					}
				}
				table.AddRow(FormatDate(r.Date), TruncateString(r.Firm, 28), r.Action, rating, target)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum ratings to show")
	return cmd
}
