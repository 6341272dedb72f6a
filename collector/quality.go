package collector

import (
	"sort"
	"strings"

	"market-collector/models"
)

// QualityPolicy holds the thresholds the post-run gate checks against.
// The recollect cap is a tunable heuristic, not a hard contract.
type QualityPolicy struct {
	CoverageThreshold   float64
	FieldRatioThreshold float64
	RecollectCap        int
	RecollectRounds     int
	Watchlist           []string
}

// requiredFields are the metric subset whose completion ratio is gated.
var requiredFields = []string{"close", "volume", "market_cap", "pe_ratio"}

// EvaluateQuality compares a run's actual coverage against the known
// universe: overall ticker coverage, presence of the watch-list of
// benchmark/large entities, and field-completion ratios over the quotes
// collected this run.
func EvaluateQuality(policy QualityPolicy, universe []models.Entity, completed map[string]bool, quotes map[string]*models.RawQuote) *models.QualityReport {
	report := &models.QualityReport{
		UniverseSize:    len(universe),
		FieldCompletion: make(map[string]float64, len(requiredFields)),
	}

	collectedSymbols := make(map[string]bool)
	for _, e := range universe {
		if completed[e.Key()] {
			report.Collected++
			collectedSymbols[e.Symbol] = true
		} else {
			report.MissingSymbols = append(report.MissingSymbols, e.Key())
		}
	}
	sort.Strings(report.MissingSymbols)

	if report.UniverseSize > 0 {
		report.Coverage = float64(report.Collected) / float64(report.UniverseSize)
	}

	for _, symbol := range policy.Watchlist {
		if !collectedSymbols[strings.ToUpper(symbol)] {
			report.MissingWatchlist = append(report.MissingWatchlist, strings.ToUpper(symbol))
		}
	}
	sort.Strings(report.MissingWatchlist)

	counts := make(map[string]int, len(requiredFields))
	for _, q := range quotes {
		if !q.Close.IsZero() {
			counts["close"]++
		}
		if q.Volume > 0 {
			counts["volume"]++
		}
		if !q.MarketCap.IsZero() {
			counts["market_cap"]++
		}
		if q.PERatio != 0 {
			counts["pe_ratio"]++
		}
	}
	for _, f := range requiredFields {
		if len(quotes) > 0 {
			report.FieldCompletion[f] = float64(counts[f]) / float64(len(quotes))
		}
	}

	report.Passed = report.Coverage >= policy.CoverageThreshold && len(report.MissingWatchlist) == 0
	for _, f := range requiredFields {
		if len(quotes) > 0 && report.FieldCompletion[f] < policy.FieldRatioThreshold {
			report.Passed = false
		}
	}

	return report
}

// ShouldRecollect reports whether a failed gate warrants the single bounded
// recollection pass: some entities are missing, but few enough that
// refetching them is cheaper than failing the run.
func ShouldRecollect(policy QualityPolicy, report *models.QualityReport) bool {
	if report.Passed {
		return false
	}
	n := len(report.MissingSymbols)
	return n > 0 && n <= policy.RecollectCap
}

// MissingEntities maps the report's missing keys back onto universe entries.
func MissingEntities(universe []models.Entity, report *models.QualityReport) []models.Entity {
	missing := make(map[string]bool, len(report.MissingSymbols))
	for _, k := range report.MissingSymbols {
		missing[k] = true
	}
	out := make([]models.Entity, 0, len(report.MissingSymbols))
	for _, e := range universe {
		if missing[e.Key()] {
			out = append(out, e)
		}
	}
	return out
}
