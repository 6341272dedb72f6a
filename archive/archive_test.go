package archive

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"market-collector/models"

	"github.com/shopspring/decimal"
)

var archiveDate = time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

func sampleRecords() []Record {
	rsi := 55.5
	return []Record{
		{
			Quote: &models.RawQuote{
				Symbol:    "JPM",
				Market:    models.MarketNYSE,
				TradeDate: archiveDate,
				Open:      decimal.NewFromFloat(200),
				High:      decimal.NewFromFloat(205),
				Low:       decimal.NewFromFloat(199),
				Close:     decimal.NewFromFloat(204.5),
				Volume:    9_000_000,
				Source:    "alpaca+quoteboard",
			},
			Indicators: &models.IndicatorSet{
				Symbol:    "JPM",
				Market:    models.MarketNYSE,
				TradeDate: archiveDate,
				RSI14:     &rsi,
			},
		},
	}
}

func TestArchive_WriteRun(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	version, err := a.WriteRun(archiveDate, models.MarketNYSE, sampleRecords())
	if err != nil {
		t.Fatalf("WriteRun failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	dir := filepath.Join(root, "2026-08-28", "nyse", "v1")
	for _, name := range []string{"prices.csv", "metrics.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s in version dir: %v", name, err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "prices.csv"))
	if err != nil {
		t.Fatalf("failed to open prices.csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse prices.csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("prices rows = %d, want header + 1", len(rows))
	}
	if rows[1][0] != "JPM" || rows[1][1] != "2026-08-28" {
		t.Errorf("row = %v, want JPM / 2026-08-28", rows[1])
	}
	if rows[1][5] != "204.5" {
		t.Errorf("close = %v, want '204.5'", rows[1][5])
	}
}

func TestArchive_SameDayRecollectionVersions(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	v1, err := a.WriteRun(archiveDate, models.MarketNYSE, sampleRecords())
	if err != nil {
		t.Fatalf("first WriteRun failed: %v", err)
	}
	v2, err := a.WriteRun(archiveDate, models.MarketNYSE, sampleRecords())
	if err != nil {
		t.Fatalf("second WriteRun failed: %v", err)
	}

	if v1 != 1 || v2 != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", v1, v2)
	}

	// Both version dirs survive; the pointer names the newest.
	if _, err := os.Stat(filepath.Join(root, "2026-08-28", "nyse", "v1", "prices.csv")); err != nil {
		t.Error("v1 should not be overwritten by re-collection")
	}

	latest, err := a.LatestVersion(archiveDate, models.MarketNYSE)
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest != 2 {
		t.Errorf("latest = %d, want 2", latest)
	}

	data, err := os.ReadFile(filepath.Join(root, "2026-08-28", "nyse", "latest"))
	if err != nil {
		t.Fatalf("failed to read latest pointer: %v", err)
	}
	if strings.TrimSpace(string(data)) != "v2" {
		t.Errorf("latest pointer = %q, want 'v2'", strings.TrimSpace(string(data)))
	}
}

func TestArchive_MarketsAreIndependent(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	if _, err := a.WriteRun(archiveDate, models.MarketNYSE, sampleRecords()); err != nil {
		t.Fatalf("nyse WriteRun failed: %v", err)
	}

	v, err := a.NextVersion(archiveDate, models.MarketNASDAQ)
	if err != nil {
		t.Fatalf("NextVersion failed: %v", err)
	}
	if v != 1 {
		t.Errorf("nasdaq next version = %d, want 1 (independent of nyse)", v)
	}
}

func TestArchive_LatestVersionEmpty(t *testing.T) {
	a := New(t.TempDir())

	latest, err := a.LatestVersion(archiveDate, models.MarketNYSE)
	if err != nil {
		t.Fatalf("LatestVersion failed: %v", err)
	}
	if latest != 0 {
		t.Errorf("latest = %d, want 0 for unpublished date", latest)
	}
}

func TestArchive_NilIndicatorFieldsAreEmptyCells(t *testing.T) {
	root := t.TempDir()
	a := New(root)

	if _, err := a.WriteRun(archiveDate, models.MarketNYSE, sampleRecords()); err != nil {
		t.Fatalf("WriteRun failed: %v", err)
	}

	f, err := os.Open(filepath.Join(root, "2026-08-28", "nyse", "v1", "metrics.csv"))
	if err != nil {
		t.Fatalf("failed to open metrics.csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse metrics.csv: %v", err)
	}

	header, row := rows[0], rows[1]
	cells := make(map[string]string, len(header))
	for i, h := range header {
		cells[h] = row[i]
	}
	if cells["rsi_14"] == "" {
		t.Error("rsi_14 should be populated")
	}
	if cells["macd"] != "" {
		t.Errorf("macd = %q, want empty cell for nil metric", cells["macd"])
	}
	if cells["beta"] != "" {
		t.Errorf("beta = %q, want empty cell for nil metric", cells["beta"])
	}
}
