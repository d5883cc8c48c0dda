package backtest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"snoopflow/internal/models"
)

// patternFile is the on-disk layout of a pattern set:
//
//	patterns:
//	  - name: call-sweeps-at-ask
//	    symbols: [AAPL, NVDA]
//	    start_date: 2024-01-02
//	    end_date: 2024-06-28
//	    target_movement: 3
//	    time_horizon: 5
//	    min_premium: 100000
//	    option_types: [call]
//	    trade_locations: [at_ask, above_ask]
type patternFile struct {
	Patterns []models.BacktestConfig `yaml:"patterns"`
}

// LoadPatterns reads named backtest configurations from a YAML file.
func LoadPatterns(path string) ([]models.BacktestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patterns: %w", err)
	}
	return ParsePatterns(data)
}

// ParsePatterns decodes a YAML pattern set.
func ParsePatterns(data []byte) ([]models.BacktestConfig, error) {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing patterns: %w", err)
	}
	if len(pf.Patterns) == 0 {
		return nil, fmt.Errorf("no patterns defined")
	}
	for i := range pf.Patterns {
		if pf.Patterns[i].Name == "" {
			pf.Patterns[i].Name = fmt.Sprintf("pattern-%d", i+1)
		}
	}
	return pf.Patterns, nil
}
