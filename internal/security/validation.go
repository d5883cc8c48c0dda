// Package security validates user supplied identifiers and masks credentials
// before they reach logs, terminals or API clients.
package security

import (
	"regexp"
	"strings"

	"snoopflow/internal/errors"
)

var (
	// US listed tickers: letters and digits with an optional class suffix (BRK.B, BF-B).
	symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,5}([.-][A-Z0-9]{1,2})?$`)

	// Saved record IDs: backtest UUIDs and alert config names.
	idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Patterns for detection, not validation.
	keyValuePattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|access[_-]?token|auth[_-]?token|bearer)([=:\s]+)["']?([A-Za-z0-9_\-\.]{8,})["']?`)
	longTokenPattern = regexp.MustCompile(`[A-Za-z0-9_]{32,}`)
)

// ValidateSymbol checks an underlying ticker after trimming and upper-casing.
func ValidateSymbol(symbol string) error {
	s := strings.TrimSpace(strings.ToUpper(symbol))
	if s == "" {
		return errors.NewValidationError("symbol", symbol, "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(s) {
		return errors.NewValidationError("symbol", symbol, "invalid symbol format")
	}
	return nil
}

// NormalizeSymbols validates and upper-cases symbols, dropping duplicates.
func NormalizeSymbols(symbols []string) ([]string, error) {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if err := ValidateSymbol(sym); err != nil {
			return nil, err
		}
		s := strings.TrimSpace(strings.ToUpper(sym))
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

// ValidateID checks a saved record identifier.
func ValidateID(field, id string) error {
	if !idPattern.MatchString(id) {
		return errors.NewValidationError(field, id, "expected 1-64 letters, digits, '-' or '_'")
	}
	return nil
}

// MaskSensitive masks credentials embedded in free text such as error
// messages that echo a request URL.
func MaskSensitive(input string) string {
	out := keyValuePattern.ReplaceAllStringFunc(input, func(match string) string {
		m := keyValuePattern.FindStringSubmatch(match)
		return m[1] + m[2] + MaskCredential(m[3])
	})
	return longTokenPattern.ReplaceAllStringFunc(out, MaskCredential)
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// ContainsSensitiveData reports whether input looks like it carries a credential.
func ContainsSensitiveData(input string) bool {
	return keyValuePattern.MatchString(input) || longTokenPattern.MatchString(input)
}
