package polygon

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"snoopflow/internal/models"
)

// OptionTicker is the decoded form of an OCC-style Polygon contract ticker
// such as O:AAPL250117C00150000.
type OptionTicker struct {
	Underlying string
	Expiration time.Time
	Type       models.OptionType
	Strike     float64
}

// occSuffixLen is YYMMDD + C/P + eight strike digits.
const occSuffixLen = 15

// ParseOptionTicker decodes a Polygon option ticker. The "O:" prefix is optional.
func ParseOptionTicker(ticker string) (OptionTicker, error) {
	s := strings.TrimPrefix(strings.TrimSpace(ticker), "O:")
	if len(s) <= occSuffixLen {
		return OptionTicker{}, fmt.Errorf("option ticker %q too short", ticker)
	}

	root := s[:len(s)-occSuffixLen]
	suffix := s[len(s)-occSuffixLen:]

	exp, err := time.Parse("060102", suffix[:6])
	if err != nil {
		return OptionTicker{}, fmt.Errorf("option ticker %q: bad expiration: %w", ticker, err)
	}

	typ, ok := models.ParseOptionType(suffix[6:7])
	if !ok {
		return OptionTicker{}, fmt.Errorf("option ticker %q: bad type %q", ticker, suffix[6:7])
	}

	strikeMilli, err := strconv.ParseInt(suffix[7:], 10, 64)
	if err != nil {
		return OptionTicker{}, fmt.Errorf("option ticker %q: bad strike: %w", ticker, err)
	}

	return OptionTicker{
		Underlying: root,
		Expiration: exp,
		Type:       typ,
		Strike:     float64(strikeMilli) / 1000,
	}, nil
}

// String renders t back into Polygon's ticker format.
func (t OptionTicker) String() string {
	cp := "C"
	if t.Type == models.OptionPut {
		cp = "P"
	}
	return fmt.Sprintf("O:%s%s%s%08d", t.Underlying, t.Expiration.Format("060102"), cp, int64(math.Round(t.Strike*1000)))
}
