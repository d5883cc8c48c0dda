// Package utils holds small helpers shared by the CLI and the services.
package utils

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// FormatUSD formats a dollar amount with thousands separators.
func FormatUSD(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return sign + "$" + humanize.CommafWithDigits(amount, 2)
}

// FormatPremium formats premium compactly: $950, $12.5K, $3.2M.
func FormatPremium(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", amount/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("$%.1fM", amount/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("$%.1fK", amount/1_000)
	default:
		return fmt.Sprintf("$%.0f", amount)
	}
}

// FormatPercent formats a percentage value with sign.
func FormatPercent(value float64) string {
	if value >= 0 {
		return fmt.Sprintf("+%.2f%%", value)
	}
	return fmt.Sprintf("%.2f%%", value)
}

// FormatQuantity formats a contract or share count with separators.
func FormatQuantity(qty int64) string {
	return humanize.Comma(qty)
}
