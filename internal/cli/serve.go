package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"snoopflow/internal/metrics"
	"snoopflow/internal/polygon"
	"snoopflow/internal/server"
	"snoopflow/internal/stream"
	"snoopflow/internal/sweep"
)

func newServeCmd(app *App) *cobra.Command {
	var port int
	var noSweeps bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket stream and sweep monitor",
		Long: `Serve the REST API (activity, candles, ratings, backtests, sweeps, alert
configs and the Polygon proxy), the /ws activity stream and Prometheus
metrics. Unless disabled, the sweep monitor runs alongside and publishes
to the stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			metrics.Init()
			log := app.Logger

			hub := stream.NewHub()
			hub.Start(ctx)
			defer hub.Stop()
			app.Publisher = hub

			svc, err := app.Service(ctx)
			if err != nil {
				return err
			}
			client, err := app.Client(ctx)
			if err != nil {
				return err
			}
			engine, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			st, err := app.Store()
			if err != nil {
				return err
			}

			if port == 0 {
				port = app.Config.Server.Port
			}
			srv := server.New(server.Config{
				Port:           port,
				AllowedOrigins: app.Config.Server.AllowedOrigins,
				DevMode:        app.Config.Server.DevMode,
				Log:            log,
				Activity:       svc,
				Market:         client,
				Backtester:     engine,
				Store:          st,
				Hub:            hub,
			})

			runSweeps := app.Config.Sweep.Enabled && !noSweeps
			var feed *polygon.Feed
			var opts sweep.MonitorOptions
			if runSweeps {
				if feed, err = app.Feed(); err != nil {
					return err
				}
				if opts, err = app.sweepOptions(ctx, true); err != nil {
					return err
				}
				opts.Publisher = hub
			}

			errCh := make(chan error, 2)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			monitorDone := make(chan struct{})
			if runSweeps {
				go func() {
					if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
						log.Error().Err(err).Msg("Options feed stopped")
					}
				}()
				go func() {
					defer close(monitorDone)
					if err := sweep.NewMonitor(feed, opts).Run(ctx); err != nil {
						errCh <- err
					}
				}()
			} else {
				close(monitorDone)
			}

			log.Info().Int("port", port).Bool("sweeps", runSweeps).Msg("Server started successfully")

			select {
			case <-ctx.Done():
			case err = <-errCh:
				log.Error().Err(err).Msg("Service failed")
			}
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				log.Error().Err(serr).Msg("Server forced to shutdown")
			}
			<-monitorDone
			log.Info().Msg("Server stopped")
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&noSweeps, "no-sweeps", false, "do not run the sweep monitor")
	return cmd
}
