package config

import (
	"fmt"
	"os"

	"market-collector/models"

	"gopkg.in/yaml.v3"
)

// MarketConfig describes one market's universe source.
type MarketConfig struct {
	Name         string `yaml:"name"`
	UniverseFile string `yaml:"universe_file"`
}

// MarketsFile is the on-disk markets/watchlist configuration.
type MarketsFile struct {
	Markets         []MarketConfig `yaml:"markets"`
	Watchlist       []string       `yaml:"watchlist"`
	BenchmarkSymbol string         `yaml:"benchmark_symbol"`
}

// LoadMarkets reads and validates the YAML markets file.
func LoadMarkets(path string) (*MarketsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read markets file %s: %w", path, err)
	}

	var mf MarketsFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse markets file %s: %w", path, err)
	}

	if len(mf.Markets) == 0 {
		return nil, fmt.Errorf("markets file %s defines no markets", path)
	}
	seen := make(map[string]bool, len(mf.Markets))
	for _, m := range mf.Markets {
		if _, err := models.ParseMarket(m.Name); err != nil {
			return nil, fmt.Errorf("markets file %s: %w", path, err)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("markets file %s: duplicate market %q", path, m.Name)
		}
		seen[m.Name] = true
		if m.UniverseFile == "" {
			return nil, fmt.Errorf("markets file %s: market %q has no universe_file", path, m.Name)
		}
	}

	return &mf, nil
}

// Market returns the configuration for one market, if present.
func (mf *MarketsFile) Market(name models.Market) (MarketConfig, bool) {
	for _, m := range mf.Markets {
		if m.Name == string(name) {
			return m, true
		}
	}
	return MarketConfig{}, false
}
