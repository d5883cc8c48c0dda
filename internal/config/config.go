// Package config provides configuration management for the options flow service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"

	"snoopflow/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Polygon       PolygonConfig      `mapstructure:"polygon"`
	Classifier    ClassifierConfig   `mapstructure:"classifier"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Backtest      BacktestConfig     `mapstructure:"backtest"`
	Sweep         SweepConfig        `mapstructure:"sweep"`
	Server        ServerConfig       `mapstructure:"server"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       logging.LogConfig  `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-" json:"-"` // Loaded separately
}

// PolygonConfig holds market data provider settings.
type PolygonConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	WebSocketURL      string        `mapstructure:"websocket_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Workers           int           `mapstructure:"workers"`
}

// ClassifierConfig selects the threshold profile. Non-zero fields override
// the profile value.
type ClassifierConfig struct {
	Profile        string  `mapstructure:"profile"` // sensitive, standard, conservative
	UnusualVolume  int64   `mapstructure:"unusual_volume"`
	UnusualPremium float64 `mapstructure:"unusual_premium"`
	BlockVolume    int64   `mapstructure:"block_volume"`
	BlockPremium   float64 `mapstructure:"block_premium"`
	SentimentDelta float64 `mapstructure:"sentiment_delta"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Backend        string        `mapstructure:"backend"` // memory, redis
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
	SnapshotTTL    time.Duration `mapstructure:"snapshot_ttl"`
	AggregatesTTL  time.Duration `mapstructure:"aggregates_ttl"`
	ReferenceTTL   time.Duration `mapstructure:"reference_ttl"`
	RecentCapacity int           `mapstructure:"recent_capacity"`
}

// BacktestConfig holds defaults for the backtesting engine.
type BacktestConfig struct {
	LookbackDays int    `mapstructure:"lookback_days"`
	TopContracts int    `mapstructure:"top_contracts"`
	Concurrency  int    `mapstructure:"concurrency"`
	PatternsFile string `mapstructure:"patterns_file"`
}

// SweepConfig holds sweep monitor settings.
type SweepConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Window       time.Duration `mapstructure:"window"`
	MinPrints    int           `mapstructure:"min_prints"`
	MinPremium   float64       `mapstructure:"min_premium"`
	Contracts    []string      `mapstructure:"contracts"` // "*" subscribes to every contract
	ScanSchedule string        `mapstructure:"scan_schedule"`
	ScanSymbols  []string      `mapstructure:"scan_symbols"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ProxyPrefixes  []string `mapstructure:"proxy_prefixes"`
	DevMode        bool     `mapstructure:"dev_mode"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// Credentials holds API credentials.
type Credentials struct {
	Polygon PolygonCredentials `mapstructure:"polygon"`
}

// PolygonCredentials holds the Polygon.io API key.
type PolygonCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// Profiles lists the accepted classifier profile names.
var Profiles = []string{"sensitive", "standard", "conservative"}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/snoopflow"
	}
	return filepath.Join(home, ".config", "snoopflow")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files are
// created from templates and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "snoopflow.db")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated only from defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("polygon.base_url", "https://api.polygon.io")
	v.SetDefault("polygon.websocket_url", "wss://socket.polygon.io/options")
	v.SetDefault("polygon.requests_per_minute", 300)
	v.SetDefault("polygon.burst", 10)
	v.SetDefault("polygon.timeout", "15s")
	v.SetDefault("polygon.max_retries", 3)
	v.SetDefault("polygon.workers", 4)

	v.SetDefault("classifier.profile", "standard")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.snapshot_ttl", "2s")
	v.SetDefault("cache.aggregates_ttl", "30s")
	v.SetDefault("cache.reference_ttl", "30s")
	v.SetDefault("cache.recent_capacity", 200)

	v.SetDefault("backtest.lookback_days", 3)
	v.SetDefault("backtest.top_contracts", 10)
	v.SetDefault("backtest.concurrency", 2)

	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.window", "1s")
	v.SetDefault("sweep.min_prints", 2)
	v.SetDefault("sweep.min_premium", 25000.0)
	v.SetDefault("sweep.contracts", []string{"*"})
	v.SetDefault("sweep.scan_schedule", "0 */5 9-16 * * 1-5")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.proxy_prefixes", []string{"/v1/open-close/", "/v2/aggs/", "/v3/reference/options/", "/v3/snapshot/options/", "/benzinga/v1/ratings"})

	def := logging.DefaultLogConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.console", def.Console)
	v.SetDefault("logging.file", def.File)
	v.SetDefault("logging.file_path", def.FilePath)
	v.SetDefault("logging.max_size", def.MaxSize)
	v.SetDefault("logging.max_backups", def.MaxBackups)
	v.SetDefault("logging.max_age", def.MaxAge)
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Credentials.Polygon.APIKey = v
	}
	if v := os.Getenv("SNOOPFLOW_CLASSIFIER_PROFILE"); v != "" {
		cfg.Classifier.Profile = v
	}
	if v := os.Getenv("SNOOPFLOW_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("SNOOPFLOW_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("SNOOPFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SNOOPFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SNOOPFLOW_DB"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	known := false
	for _, p := range Profiles {
		if c.Classifier.Profile == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("invalid classifier profile: %s (must be one of %v)", c.Classifier.Profile, Profiles)
	}
	if c.Classifier.UnusualVolume < 0 || c.Classifier.BlockVolume < 0 {
		return fmt.Errorf("classifier volume thresholds must be non-negative")
	}
	if c.Classifier.UnusualPremium < 0 || c.Classifier.BlockPremium < 0 {
		return fmt.Errorf("classifier premium thresholds must be non-negative")
	}
	if c.Classifier.SentimentDelta < 0 || c.Classifier.SentimentDelta > 1 {
		return fmt.Errorf("sentiment_delta must be between 0 and 1")
	}

	if c.Polygon.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	if c.Polygon.Workers <= 0 {
		return fmt.Errorf("polygon workers must be positive")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be 'memory' or 'redis')", c.Cache.Backend)
	}
	if c.Cache.RecentCapacity <= 0 {
		return fmt.Errorf("recent_capacity must be positive")
	}

	if c.Backtest.LookbackDays < 1 || c.Backtest.LookbackDays > 10 {
		return fmt.Errorf("backtest lookback_days must be between 1 and 10")
	}

	if c.Sweep.MinPrints < 1 {
		return fmt.Errorf("sweep min_prints must be at least 1")
	}
	if c.Sweep.Window <= 0 {
		return fmt.Errorf("sweep window must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}

// HasAPIKey reports whether a Polygon API key is configured.
func (c *Config) HasAPIKey() bool {
	return c.Credentials.Polygon.APIKey != ""
}
