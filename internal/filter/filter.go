// Package filter applies FilterOptions to classified options activity.
package filter

import (
	"sort"
	"strings"

	"snoopflow/internal/models"
)

// Matches reports whether a passes every restriction in opts.
func Matches(a models.OptionsActivity, opts models.FilterOptions) bool {
	if len(opts.Symbols) > 0 && !containsFold(opts.Symbols, a.Symbol) {
		return false
	}
	if opts.MinVolume > 0 && a.Volume < opts.MinVolume {
		return false
	}
	if opts.MinPremium > 0 && a.Premium < opts.MinPremium {
		return false
	}
	if len(opts.OptionTypes) > 0 && !contains(opts.OptionTypes, a.Type) {
		return false
	}
	if len(opts.Locations) > 0 && !contains(opts.Locations, a.Location) {
		return false
	}
	if len(opts.Sentiments) > 0 && !contains(opts.Sentiments, a.Sentiment) {
		return false
	}
	if opts.UnusualOnly && !a.Unusual {
		return false
	}
	if opts.BlockOnly && !a.BlockTrade {
		return false
	}
	if opts.SweepOnly && !a.Sweep {
		return false
	}
	// Unknown DTE passes.
	if opts.MaxDTE > 0 && a.DTE() > opts.MaxDTE {
		return false
	}
	return true
}

// Apply returns the activities matching opts, preserving order. The input is
// not modified.
func Apply(activities []models.OptionsActivity, opts models.FilterOptions) []models.OptionsActivity {
	out := make([]models.OptionsActivity, 0, len(activities))
	for _, a := range activities {
		if Matches(a, opts) {
			out = append(out, a)
		}
	}
	return out
}

// SortKey names a sortable activity column.
type SortKey string

const (
	SortPremium   SortKey = "premium"
	SortVolume    SortKey = "volume"
	SortTimestamp SortKey = "timestamp"
	SortVolumeOI  SortKey = "volume_oi"
)

// Sort orders activities in place by key. Ties keep their input order.
func Sort(activities []models.OptionsActivity, key SortKey, desc bool) {
	less := func(i, j int) bool {
		a, b := activities[i], activities[j]
		switch key {
		case SortVolume:
			return a.Volume < b.Volume
		case SortTimestamp:
			return a.Timestamp.Before(b.Timestamp)
		case SortVolumeOI:
			return a.VolumeOIRatio() < b.VolumeOIRatio()
		default:
			return a.Premium < b.Premium
		}
	}
	if desc {
		sort.SliceStable(activities, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(activities, less)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}
