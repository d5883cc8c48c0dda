// Package cli provides the command-line interface for SnoopFlow.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"snoopflow/internal/config"
	"snoopflow/internal/logging"
	"snoopflow/internal/security"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "snoopflow",
		Short: "Unusual options activity scanner and backtester",
		Long: `SnoopFlow pulls options chains and stock aggregates from Polygon.io,
classifies unusual, block and sweep activity with a directional read,
and replays history to score how often that activity preceded a move.

Run 'snoopflow serve' for the HTTP API, WebSocket stream and sweep monitor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.ConfigDir = dir
			if app.ConfigDir == "" {
				app.ConfigDir = config.DefaultConfigDir()
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/snoopflow)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newActivityCmd(app))
	rootCmd.AddCommand(newEODCmd(app))
	rootCmd.AddCommand(newRatingsCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newSweepsCmd(app))
	rootCmd.AddCommand(newServeCmd(app))

	return rootCmd
}

// Execute runs the root command and exits non-zero on error.
func Execute(logger zerolog.Logger) {
	if err := NewRootCmd(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("SnoopFlow v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if !app.Config.HasAPIKey() {
				output.Warning("No Polygon API key: set POLYGON_API_KEY or edit credentials.toml")
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true, "api_key": app.Config.HasAPIKey()})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Polygon")
	output.Printf("  Base URL:        %s\n", cfg.Polygon.BaseURL)
	output.Printf("  Requests/min:    %d (burst %d)\n", cfg.Polygon.RequestsPerMinute, cfg.Polygon.Burst)
	output.Printf("  Workers:         %d\n", cfg.Polygon.Workers)
	if cfg.HasAPIKey() {
		output.Printf("  API key:         %s\n", security.MaskCredential(cfg.Credentials.Polygon.APIKey))
	} else {
		output.Printf("  API key:         %s\n", output.Red("not set"))
	}
	output.Println()

	output.Bold("Classifier")
	output.Printf("  Profile:         %s\n", cfg.Classifier.Profile)
	output.Println()

	output.Bold("Cache")
	output.Printf("  Backend:         %s\n", cfg.Cache.Backend)
	if cfg.Cache.Backend == "redis" {
		output.Printf("  Redis:           %s\n", cfg.Cache.RedisAddr)
	}
	output.Printf("  Snapshot TTL:    %s\n", cfg.Cache.SnapshotTTL)
	output.Println()

	output.Bold("Sweep Monitor")
	output.Printf("  Enabled:         %v\n", cfg.Sweep.Enabled)
	output.Printf("  Window:          %s\n", cfg.Sweep.Window)
	output.Printf("  Min prints:      %d\n", cfg.Sweep.MinPrints)
	output.Printf("  Min premium:     %s\n", FormatPremium(cfg.Sweep.MinPremium))
	output.Printf("  Block scan:      %s\n", cfg.Sweep.ScanSchedule)
	output.Println()

	output.Bold("Server")
	output.Printf("  Port:            %d\n", cfg.Server.Port)
	output.Printf("  Database:        %s\n", cfg.Store.Path)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:         %v\n", cfg.Notifications.Enabled)
	output.Printf("  Webhook:         %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:        %v\n", cfg.Notifications.Telegram.Enabled)
}
