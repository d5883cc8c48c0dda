package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# SnoopFlow Configuration

[polygon]
base_url = "https://api.polygon.io"
websocket_url = "wss://socket.polygon.io/options"
# Free tier allows 5 requests per minute
requests_per_minute = 300
burst = 10
timeout = "15s"
max_retries = 3
# Concurrent per-symbol fetches
workers = 4

[classifier]
# Threshold profile: sensitive, standard, conservative
profile = "standard"
# Non-zero values override the profile
unusual_volume = 0
unusual_premium = 0.0
block_volume = 0
block_premium = 0.0
sentiment_delta = 0.0

[cache]
# Cache backend: memory, redis
backend = "memory"
redis_addr = "localhost:6379"
snapshot_ttl = "2s"
aggregates_ttl = "30s"
reference_ttl = "30s"
recent_capacity = 200

[backtest]
lookback_days = 3
top_contracts = 10
concurrency = 2
patterns_file = ""

[sweep]
enabled = true
window = "1s"
min_prints = 2
min_premium = 25000.0
contracts = ["*"]
# Seconds-resolution cron expression for block trade snapshot scans
scan_schedule = "0 */5 9-16 * * 1-5"
scan_symbols = ["SPY", "QQQ", "AAPL", "TSLA", "NVDA"]

[server]
port = 8080
allowed_origins = ["*"]
dev_mode = false

[logging]
level = "info"
console = true
file = true

[notifications]
enabled = false

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# SnoopFlow Credentials

[polygon]
api_key = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}
	return nil
}
