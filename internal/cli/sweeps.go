package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snoopflow/internal/errors"
	"snoopflow/internal/filter"
	"snoopflow/internal/models"
	"snoopflow/internal/polygon"
	"snoopflow/internal/security"
	"snoopflow/internal/store"
	"snoopflow/internal/sweep"
)

// sweepOptions builds monitor options from configuration. Scanner is set
// only when scan is true since it needs the REST client.
func (a *App) sweepOptions(ctx context.Context, scan bool) (sweep.MonitorOptions, error) {
	th, err := a.Thresholds()
	if err != nil {
		return sweep.MonitorOptions{}, err
	}
	sc := a.Config.Sweep
	opts := sweep.MonitorOptions{
		Detector: sweep.DetectorConfig{
			Window:     sc.Window,
			MinPrints:  sc.MinPrints,
			MinPremium: sc.MinPremium,
			Thresholds: th,
		},
		Contracts:    sc.Contracts,
		ScanSchedule: sc.ScanSchedule,
		ScanSymbols:  sc.ScanSymbols,
		Notifier:     a.Notifier(),
		Workers:      a.Config.Polygon.Workers,
		Logger:       a.Logger,
	}
	if st, err := a.Store(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to open store, sweeps will not be saved")
	} else {
		opts.Store = st
	}
	if scan {
		svc, err := a.Service(ctx)
		if err != nil {
			return opts, err
		}
		opts.Scanner = svc
	}
	return opts, nil
}

// Feed builds the options WebSocket feed.
func (a *App) Feed() (*polygon.Feed, error) {
	if !a.Config.HasAPIKey() {
		return nil, errors.Wrap(errors.ErrInvalidAPIKey, "no Polygon API key configured (set POLYGON_API_KEY)")
	}
	return polygon.NewFeed(a.Config.Credentials.Polygon.APIKey, a.Config.Polygon.WebSocketURL, a.Logger), nil
}

func newSweepsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweeps",
		Short: "Detect, list and alert on sweep orders",
	}

	cmd.AddCommand(newSweepsListCmd(app))
	cmd.AddCommand(newSweepsWatchCmd(app))
	cmd.AddCommand(newSweepsScanCmd(app))
	cmd.AddCommand(newAlertsCmd(app))
	return cmd
}

func newSweepsListCmd(app *App) *cobra.Command {
	var (
		symbol     string
		since      time.Duration
		minPremium float64
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List detected sweeps, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			f := store.SweepFilter{Symbol: symbol, MinPremium: minPremium, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			sweeps, err := st.ListSweeps(cmd.Context(), f)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(sweeps)
			}
			if len(sweeps) == 0 {
				output.Dim("No sweeps recorded.")
				return nil
			}
			renderSweeps(output, sweeps)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "underlying symbol")
	cmd.Flags().DurationVar(&since, "since", 0, "only sweeps within this duration (e.g. 2h)")
	cmd.Flags().Float64Var(&minPremium, "min-premium", 0, "minimum premium in dollars")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sweeps to show")
	return cmd
}

// sweepPrinter writes each sweep as it is detected.
type sweepPrinter struct {
	mu     sync.Mutex
	output *Output
}

func (p *sweepPrinter) PublishSweep(s models.Sweep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.output.IsJSON() {
		p.output.JSON(s)
		return
	}
	block := ""
	if s.BlockTrade {
		block = " " + p.output.ColoredString(ColorCyan, "BLOCK")
	}
	p.output.Printf("%s  %-26s %-4s %8s x %-7s %9s  %d prints on %d venues  %s%s\n",
		FormatTime(s.LastAt),
		FormatContract(s.Symbol, s.Type, s.Strike, s.Expiration),
		s.Side,
		FormatPrice(s.AvgPrice),
		FormatVolume(s.TotalSize),
		FormatPremium(s.Premium),
		s.Prints,
		len(s.Exchanges),
		p.output.Sentiment(s.Sentiment),
		block,
	)
}

func newSweepsWatchCmd(app *App) *cobra.Command {
	var contracts []string
	var noScan bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the options feed and print sweeps as they happen",
		Example: `  snoopflow sweeps watch
  snoopflow sweeps watch --contracts O:AAPL250321C00230000,O:SPY250321P00550000 --no-scan`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			feed, err := app.Feed()
			if err != nil {
				return err
			}
			opts, err := app.sweepOptions(ctx, !noScan)
			if err != nil {
				return err
			}
			if len(contracts) > 0 {
				opts.Contracts = contracts
			}
			if noScan {
				opts.ScanSchedule = ""
			}
			output := NewOutput(cmd)
			opts.Publisher = &sweepPrinter{output: output}

			go func() {
				if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
					app.Logger.Error().Err(err).Msg("Options feed stopped")
					stop()
				}
			}()

			if !output.IsJSON() {
				output.Info("Watching %s for sweeps (window %s, min %d prints, min %s). Ctrl-C to stop.",
					strings.Join(opts.Contracts, ","), opts.Detector.Window, opts.Detector.MinPrints, FormatPremium(opts.Detector.MinPremium))
			}
			m := sweep.NewMonitor(feed, opts)
			if err := m.Run(ctx); err != nil {
				return err
			}
			if !output.IsJSON() {
				output.Dim("%d sweeps detected", m.Detected())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&contracts, "contracts", nil, "option contracts to watch (default from config, * for all)")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "disable the scheduled block trade scan")
	return cmd
}

func newSweepsScanCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [SYMBOL...]",
		Short: "Scan chain snapshots once for block trades and notify",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := app.sweepOptions(cmd.Context(), true)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				if opts.ScanSymbols, err = security.NormalizeSymbols(args); err != nil {
					return err
				}
			}
			blocks, err := sweep.NewMonitor(nil, opts).ScanBlocks(cmd.Context())
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(blocks)
			}
			if len(blocks) == 0 {
				output.Dim("No block trades.")
				return nil
			}
			filter.Sort(blocks, filter.SortPremium, true)
			renderActivity(output, blocks, false)
			return nil
		},
	}
	return cmd
}

func newAlertsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage sweep alert preferences",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List alert configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			configs, err := st.ListAlertConfigs(cmd.Context(), false)
			if err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(configs)
			}
			if len(configs) == 0 {
				output.Dim("No alert configs: every detected sweep is notified.")
				return nil
			}
			table := NewTable(output, "ID", "ENABLED", "SYMBOLS", "TYPES", "MIN PREMIUM", "UPDATED")
			for _, c := range configs {
				syms := "any"
				if len(c.Symbols) > 0 {
					syms = strings.Join(c.Symbols, ",")
				}
				types := "any"
				if len(c.OptionTypes) > 0 {
					var parts []string
					for _, t := range c.OptionTypes {
						parts = append(parts, string(t))
					}
					types = strings.Join(parts, ",")
				}
				table.AddRow(c.ID, fmt.Sprintf("%v", c.Enabled), syms, types, FormatPremium(c.MinPremium), FormatDateTime(c.UpdatedAt))
			}
			table.Render()
			return nil
		},
	})

	var (
		symbols    []string
		types      []string
		minPremium float64
		disabled   bool
	)
	set := &cobra.Command{
		Use:   "set ID",
		Short: "Create or replace an alert config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := security.ValidateID("id", args[0]); err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			cfg := models.SnoopAlertConfig{
				ID:         args[0],
				MinPremium: minPremium,
				Enabled:    !disabled,
				UpdatedAt:  time.Now().UTC(),
			}
			if cfg.Symbols, err = security.NormalizeSymbols(symbols); err != nil {
				return err
			}
			if cfg.OptionTypes, err = filter.ParseTypes(types); err != nil {
				return err
			}
			if err := st.SaveAlertConfig(cmd.Context(), &cfg); err != nil {
				return err
			}
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			output.Success("✓ Alert %q saved", cfg.ID)
			return nil
		},
	}
	set.Flags().StringSliceVar(&symbols, "symbols", nil, "underlying symbols (default any)")
	set.Flags().StringSliceVar(&types, "types", nil, "option types (default any)")
	set.Flags().Float64Var(&minPremium, "min-premium", 0, "minimum premium in dollars")
	set.Flags().BoolVar(&disabled, "disabled", false, "save the alert disabled")
	cmd.AddCommand(set)

	return cmd
}

func renderSweeps(output *Output, sweeps []models.Sweep) {
	table := NewTable(output, "TIME", "CONTRACT", "SIDE", "SIZE", "AVG", "PREMIUM", "PRINTS", "SENTIMENT", "")
	for _, s := range sweeps {
		block := ""
		if s.BlockTrade {
			block = output.ColoredString(ColorCyan, "BLOCK")
		}
		table.AddRow(
			FormatDateTime(s.LastAt),
			FormatContract(s.Symbol, s.Type, s.Strike, s.Expiration),
			string(s.Side),
			FormatVolume(s.TotalSize),
			FormatPrice(s.AvgPrice),
			FormatPremium(s.Premium),
			fmt.Sprintf("%d", s.Prints),
			output.Sentiment(s.Sentiment),
			block,
		)
	}
	table.Render()
}
