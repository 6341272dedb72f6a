package collector

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"market-collector/models"
	"market-collector/observability"
)

// LoadUniverse reads a market's expected entity set from its universe CSV
// (header row: symbol,name,currency[,sector]). Rows are deduplicated by
// (symbol, market); the first occurrence wins.
func LoadUniverse(path string, market models.Market) ([]models.Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read universe header from %s: %w", path, err)
	}
	cols := columnIndex(header)
	if _, ok := cols["symbol"]; !ok {
		return nil, fmt.Errorf("universe file %s has no symbol column", path)
	}

	var universe []models.Entity
	seen := make(map[string]struct{})
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read universe row %d from %s: %w", line, path, err)
		}

		symbol := strings.ToUpper(strings.TrimSpace(field(record, cols, "symbol")))
		if symbol == "" {
			observability.Debug("skipping universe row without symbol", "file", path, "line", line)
			continue
		}

		entity := models.Entity{
			Symbol:   symbol,
			Name:     strings.TrimSpace(field(record, cols, "name")),
			Market:   market,
			Currency: strings.TrimSpace(field(record, cols, "currency")),
			Sector:   strings.TrimSpace(field(record, cols, "sector")),
		}
		if entity.Currency == "" {
			entity.Currency = "USD"
		}

		if _, dup := seen[entity.Key()]; dup {
			observability.Debug("skipping duplicate universe entry", "symbol", symbol, "market", string(market))
			continue
		}
		seen[entity.Key()] = struct{}{}
		universe = append(universe, entity)
	}

	if len(universe) == 0 {
		return nil, fmt.Errorf("universe file %s contains no entities", path)
	}

	return universe, nil
}

func columnIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func field(record []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}
