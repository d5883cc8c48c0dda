package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snoopflow/internal/filter"
	"snoopflow/internal/marketdata"
	"snoopflow/internal/models"
)

// activityFlags are the filter flags shared by activity commands.
type activityFlags struct {
	minVolume  int64
	minPremium float64
	types      []string
	locations  []string
	sentiments []string
	all        bool
	block      bool
	sweep      bool
	maxDTE     int
	sort       string
	asc        bool
	limit      int
	wide       bool
	watch      time.Duration
}

func (f *activityFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.minVolume, "min-volume", 0, "minimum contract volume")
	cmd.Flags().Float64Var(&f.minPremium, "min-premium", 0, "minimum premium in dollars")
	cmd.Flags().StringSliceVar(&f.types, "types", nil, "option types (call,put)")
	cmd.Flags().StringSliceVar(&f.locations, "locations", nil, "trade locations (above_ask,ask,mid,bid,below_bid)")
	cmd.Flags().StringSliceVar(&f.sentiments, "sentiments", nil, "sentiments (bullish,bearish,neutral)")
	cmd.Flags().BoolVar(&f.all, "all", false, "include activity that is not unusual")
	cmd.Flags().BoolVar(&f.block, "block", false, "block trades only")
	cmd.Flags().BoolVar(&f.sweep, "sweep", false, "sweeps only")
	cmd.Flags().IntVar(&f.maxDTE, "max-dte", 0, "maximum days to expiration")
	cmd.Flags().StringVar(&f.sort, "sort", "premium", "sort by premium, volume, timestamp or volume_oi")
	cmd.Flags().BoolVar(&f.asc, "asc", false, "sort ascending")
	cmd.Flags().IntVar(&f.limit, "limit", 25, "maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&f.wide, "wide", false, "add implied volatility and greeks columns")
	cmd.Flags().DurationVar(&f.watch, "watch", 0, "refresh at this interval until interrupted")
}

func (f *activityFlags) options() (models.FilterOptions, error) {
	opts := models.FilterOptions{
		MinVolume:   f.minVolume,
		MinPremium:  f.minPremium,
		UnusualOnly: !f.all,
		BlockOnly:   f.block,
		SweepOnly:   f.sweep,
		MaxDTE:      f.maxDTE,
	}
	var err error
	if opts.OptionTypes, err = filter.ParseTypes(f.types); err != nil {
		return opts, err
	}
	if opts.Locations, err = filter.ParseLocations(f.locations); err != nil {
		return opts, err
	}
	if opts.Sentiments, err = filter.ParseSentiments(f.sentiments); err != nil {
		return opts, err
	}
	return opts, nil
}

func newActivityCmd(app *App) *cobra.Command {
	var flags activityFlags

	cmd := &cobra.Command{
		Use:   "activity SYMBOL...",
		Short: "Scan option chains for unusual activity",
		Long: `Fetch the current option chain snapshot for each symbol, classify every
contract and list the unusual rows, largest premium first.`,
		Example: `  snoopflow activity AAPL TSLA --min-premium 100000
  snoopflow activity SPY --types put --locations ask --block
  snoopflow activity NVDA --all --sort volume --limit 50 --watch 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols, err := symbolArgs(args)
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := app.Service(ctx)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if flags.watch <= 0 {
				return scanActivity(ctx, output, svc, symbols, opts, flags)
			}

			ticker := time.NewTicker(flags.watch)
			defer ticker.Stop()
			for {
				if err := scanActivity(ctx, output, svc, symbols, opts, flags); err != nil {
					output.Error("Scan failed: %v", err)
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	flags.register(cmd)
	return cmd
}

func scanActivity(ctx context.Context, output *Output, svc *marketdata.Service, symbols []string, opts models.FilterOptions, flags activityFlags) error {
	res, err := svc.FetchActivity(ctx, symbols)
	if res == nil {
		return err
	}
	rows := filter.Apply(res.Activities, opts)
	filter.Sort(rows, filter.SortKey(flags.sort), !flags.asc)
	if flags.limit > 0 && len(rows) > flags.limit {
		rows = rows[:flags.limit]
	}

	if output.IsJSON() {
		return output.JSON(&marketdata.ActivityResult{
			Activities:    rows,
			FailedSymbols: res.FailedSymbols,
			FetchedAt:     res.FetchedAt,
		})
	}

	output.Bold("Options activity %s (%d of %d contracts)", FormatDateTime(res.FetchedAt), len(rows), len(res.Activities))
	for _, sym := range res.FailedSymbols {
		output.Warning("  %s: no data", sym)
	}
	if len(rows) == 0 {
		output.Dim("No activity matched.")
		return nil
	}
	renderActivity(output, rows, flags.wide)
	return nil
}

func renderActivity(output *Output, rows []models.OptionsActivity, wide bool) {
	headers := []string{"CONTRACT", "DTE", "VOL", "OI", "PRICE", "PREMIUM", "SIDE", "SENTIMENT", "FLAGS"}
	if wide {
		headers = append(headers, "IV", "GREEKS")
	}
	table := NewTable(output, headers...)
	for _, a := range rows {
		row := []string{
			FormatContract(a.Symbol, a.Type, a.Strike, a.Expiration),
			formatDTE(a.DTE()),
			FormatVolume(a.Volume),
			FormatVolume(a.OpenInterest),
			FormatPrice(a.Last),
			FormatPremium(a.Premium),
			string(a.Location),
			output.Sentiment(a.Sentiment),
			output.Flags(a),
		}
		if wide {
			row = append(row, FormatIV(a.ImpliedVolatility), FormatGreeks(a.Greeks))
		}
		table.AddRow(row...)
	}
	table.Render()
}
