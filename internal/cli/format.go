package cli

import (
	"fmt"
	"strings"
	"time"

	"snoopflow/internal/models"
	"snoopflow/pkg/utils"
)

var marketTZ = loadMarketTZ()

func loadMarketTZ() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// FormatPremium formats premium compactly with a dollar sign.
func FormatPremium(amount float64) string {
	return utils.FormatPremium(amount)
}

// FormatPercent formats a percentage with sign. Zero has no sign.
func FormatPercent(value float64) string {
	if value == 0 {
		return "0.00%"
	}
	return utils.FormatPercent(value)
}

// FormatVolume formats contract volume in compact form.
func FormatVolume(volume int64) string {
	switch {
	case volume >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(volume)/1_000_000)
	case volume >= 10_000:
		return fmt.Sprintf("%.1fK", float64(volume)/1_000)
	}
	return utils.FormatQuantity(volume)
}

// FormatPrice formats an option or stock price.
func FormatPrice(price float64) string {
	if price < 1 {
		return fmt.Sprintf("%.3f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

// FormatStrike drops trailing zeros from a strike: 230, 232.5.
func FormatStrike(strike float64) string {
	s := fmt.Sprintf("%.3f", strike)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// FormatContract renders a contract as "AAPL 230C 03/21".
func FormatContract(symbol string, typ models.OptionType, strike float64, exp time.Time) string {
	letter := "C"
	if typ == models.OptionPut {
		letter = "P"
	}
	if exp.IsZero() {
		return fmt.Sprintf("%s %s%s", symbol, FormatStrike(strike), letter)
	}
	return fmt.Sprintf("%s %s%s %s", symbol, FormatStrike(strike), letter, exp.Format("01/02/06"))
}

// FormatTime formats a time in market time.
func FormatTime(t time.Time) string {
	return t.In(marketTZ).Format("15:04:05")
}

// FormatDate formats a date.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// FormatDateTime formats a datetime in market time.
func FormatDateTime(t time.Time) string {
	return t.In(marketTZ).Format("2006-01-02 15:04:05 MST")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatGreeks renders delta, gamma, theta and vega on one line. Greeks the
// snapshot did not carry print as a dash.
func FormatGreeks(g models.OptionGreeks) string {
	if g == (models.OptionGreeks{}) {
		return "-"
	}
	return fmt.Sprintf("Δ %.2f Γ %.3f Θ %.2f ν %.2f", g.Delta, g.Gamma, g.Theta, g.Vega)
}

// FormatIV renders implied volatility given as a fraction.
func FormatIV(iv float64) string {
	if iv <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", iv*100)
}

// FormatOHLC renders a candle's range on one line.
func FormatOHLC(c models.Candle) string {
	return fmt.Sprintf("O %s  H %s  L %s  C %s", FormatPrice(c.Open), FormatPrice(c.High), FormatPrice(c.Low), FormatPrice(c.Close))
}

func formatDTE(dte int) string {
	if dte < 0 {
		return "-"
	}
	return fmt.Sprintf("%dd", dte)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
