package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snoopflow/internal/backtest"
	"snoopflow/internal/filter"
	"snoopflow/internal/models"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay history to score unusual activity patterns",
		Long: `Find days where a stock moved at least the target percentage, look back
at the most active options in the days before, and measure how often the
qualifying activity pointed the right way over the time horizon.`,
	}

	cmd.AddCommand(newBacktestRunCmd(app))
	cmd.AddCommand(newBacktestCompareCmd(app))
	cmd.AddCommand(newBacktestListCmd(app))
	cmd.AddCommand(newBacktestShowCmd(app))
	return cmd
}

func newBacktestRunCmd(app *App) *cobra.Command {
	var (
		name       string
		from, to   string
		days       int
		target     float64
		horizon    int
		lookback   int
		minVolume  int64
		minPremium float64
		types      []string
		locations  []string
		top        int
		showTrades bool
	)

	cmd := &cobra.Command{
		Use:   "run SYMBOL...",
		Short: "Run one backtest",
		Example: `  snoopflow backtest run AAPL NVDA --from 2024-01-02 --to 2024-06-28 --target 3 --horizon 5
  snoopflow backtest run TSLA --days 90 --types call --locations ask,above_ask --min-premium 100000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols, err := symbolArgs(args)
			if err != nil {
				return err
			}
			start, end, err := parseDateRange(from, to, days, time.Now().AddDate(0, 0, -1))
			if err != nil {
				return err
			}
			cfg := models.BacktestConfig{
				Name:           name,
				Symbols:        symbols,
				StartDate:      start,
				EndDate:        end,
				TargetMovement: target,
				TimeHorizon:    horizon,
				LookbackDays:   lookback,
				MinVolume:      minVolume,
				MinPremium:     minPremium,
				TopContracts:   top,
			}
			if cfg.OptionTypes, err = filter.ParseTypes(types); err != nil {
				return err
			}
			if cfg.TradeLocations, err = filter.ParseLocations(locations); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Run(ctx, cfg)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(res)
			}
			renderBacktest(output, res, showTrades)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pattern name")
	cmd.Flags().StringVar(&from, "from", "", "first date to scan for moves (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last date to scan for moves (default yesterday)")
	cmd.Flags().IntVar(&days, "days", 60, "calendar days back from --to when --from is not set")
	cmd.Flags().Float64Var(&target, "target", 5, "target stock movement in percent")
	cmd.Flags().IntVar(&horizon, "horizon", 5, "calendar days to hold after the trade")
	cmd.Flags().IntVar(&lookback, "lookback", 0, "days before a move to search for activity (default from config)")
	cmd.Flags().Int64Var(&minVolume, "min-volume", 0, "minimum contract volume")
	cmd.Flags().Float64Var(&minPremium, "min-premium", 0, "minimum premium in dollars")
	cmd.Flags().StringSliceVar(&types, "types", nil, "option types (call,put)")
	cmd.Flags().StringSliceVar(&locations, "locations", nil, "trade locations (above_ask,ask,mid,bid,below_bid)")
	cmd.Flags().IntVar(&top, "top", 0, "most active contracts per day (default from config)")
	cmd.Flags().BoolVar(&showTrades, "trades", false, "list every trade")
	return cmd
}

func newBacktestCompareCmd(app *App) *cobra.Command {
	var patternsFile string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run a set of patterns from a YAML file and rank them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if patternsFile == "" {
				patternsFile = app.Config.Backtest.PatternsFile
			}
			if patternsFile == "" {
				return fmt.Errorf("--patterns is required (or set backtest.patterns_file)")
			}
			patterns, err := backtest.LoadPatterns(patternsFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			ranking, _, err := engine.Compare(ctx, patterns)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(ranking)
			}
			output.Bold("Pattern ranking (%d of %d patterns ran)", len(ranking), len(patterns))
			table := NewTable(output, "#", "PATTERN", "TRADES", "SUCCESS", "AVG MOVE", "RESULT")
			for i, c := range ranking {
				table.AddRow(
					fmt.Sprintf("%d", i+1),
					c.Name,
					fmt.Sprintf("%d", c.TotalTrades),
					fmt.Sprintf("%.1f%%", c.SuccessRate),
					output.FormatPercent(c.AvgMovement),
					c.ResultID,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&patternsFile, "patterns", "", "YAML pattern file")
	return cmd
}

func newBacktestListCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved backtest results",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			records, err := st.ListBacktestResults(cmd.Context(), limit)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No saved backtests.")
				return nil
			}
			table := NewTable(output, "ID", "NAME", "SYMBOLS", "RUN", "TRADES", "SUCCESS", "AVG MOVE")
			for _, r := range records {
				table.AddRow(
					r.ID,
					TruncateString(r.Name, 24),
					TruncateString(fmt.Sprintf("%v", r.Symbols), 24),
					FormatDateTime(r.StartedAt),
					fmt.Sprintf("%d", r.TotalTrades),
					fmt.Sprintf("%.1f%%", r.SuccessRate),
					output.FormatPercent(r.AvgMovement),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results to show")
	return cmd
}

func newBacktestShowCmd(app *App) *cobra.Command {
	var showTrades bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a saved backtest result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			res, err := st.GetBacktestResult(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(res)
			}
			renderBacktest(output, res, showTrades)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTrades, "trades", false, "list every trade")
	return cmd
}

func renderBacktest(output *Output, res *models.BacktestResult, showTrades bool) {
	cfg := res.Config
	s := res.Summary

	title := "Backtest"
	if cfg.Name != "" {
		title = "Backtest: " + cfg.Name
	}
	lines := []string{
		fmt.Sprintf("Symbols:       %v", cfg.Symbols),
		fmt.Sprintf("Period:        %s to %s", FormatDate(cfg.StartDate), FormatDate(cfg.EndDate)),
		fmt.Sprintf("Target:        %.1f%% within %d days", cfg.TargetMovement, cfg.TimeHorizon),
		fmt.Sprintf("Flagged moves: %d", s.FlaggedMoves),
		fmt.Sprintf("Trades:        %d (%d reached target)", s.TotalTrades, s.Successes),
		fmt.Sprintf("Success rate:  %.1f%%", s.SuccessRate),
		fmt.Sprintf("Avg movement:  %s (σ %.2f)", FormatPercent(s.AvgMovement), s.StdDevMovement),
		fmt.Sprintf("Duration:      %s", FormatDuration(res.Duration)),
	}
	if res.ID != "" {
		lines = append(lines, fmt.Sprintf("Result ID:     %s", res.ID))
	}
	output.Box(title, lines)

	for _, sym := range res.FailedSymbols {
		output.Warning("%s: no data, skipped", sym)
	}
	if s.TotalTrades == 0 {
		return
	}

	output.Println()
	output.Bold("By option type")
	byType := NewTable(output, "TYPE", "TRADES", "SUCCESS")
	for _, b := range s.ByType {
		byType.AddRow(string(b.Type), fmt.Sprintf("%d", b.Trades), fmt.Sprintf("%.1f%%", b.SuccessRate))
	}
	byType.Render()

	output.Println()
	output.Bold("By premium")
	byPremium := NewTable(output, "PREMIUM", "TRADES", "SUCCESS")
	for _, b := range s.ByPremium {
		byPremium.AddRow(b.Label, fmt.Sprintf("%d", b.Trades), fmt.Sprintf("%.1f%%", b.SuccessRate))
	}
	byPremium.Render()

	output.Println()
	if s.BestTrade != nil {
		output.Printf("Best:  %s\n", describeTrade(output, *s.BestTrade))
	}
	if s.WorstTrade != nil {
		output.Printf("Worst: %s\n", describeTrade(output, *s.WorstTrade))
	}

	if !showTrades {
		return
	}
	output.Println()
	trades := NewTable(output, "DATE", "CONTRACT", "PREMIUM", "SIDE", "DIRECTION", "ENTRY", "EXIT", "MOVE", "HIT")
	for _, t := range res.Trades {
		hit := output.Red("✗")
		if t.TargetReached {
			hit = output.Green("✓")
		}
		a := t.Activity
		trades.AddRow(
			FormatDate(t.TradeDate),
			FormatContract(a.Symbol, a.Type, a.Strike, a.Expiration),
			FormatPremium(a.Premium),
			string(a.Location),
			output.Sentiment(t.Direction),
			FormatPrice(t.EntryPrice),
			FormatPrice(t.ExitPrice),
			output.FormatPercent(t.StockMovement),
			hit,
		)
	}
	trades.Render()
}

func describeTrade(output *Output, t models.BacktestTrade) string {
	a := t.Activity
	return fmt.Sprintf("%s on %s, %s %s, stock %s",
		FormatContract(a.Symbol, a.Type, a.Strike, a.Expiration),
		FormatDate(t.TradeDate),
		FormatPremium(a.Premium),
		t.Direction,
		output.FormatPercent(t.StockMovement))
}
