// Package archive maintains the date/version-partitioned CSV tree the
// collector publishes alongside the database: one version directory per
// run, with a `latest` pointer updated atomically last. The directory
// layout is an on-disk contract other tooling depends on.
package archive

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"market-collector/models"
	"market-collector/observability"
)

// Record is one archived (entity, date) row.
type Record struct {
	Quote      *models.RawQuote
	Indicators *models.IndicatorSet
}

// Archive writes run output under root/<yyyy-mm-dd>/<market>/v<N>/.
type Archive struct {
	root string
}

// New creates an Archive rooted at the given directory.
func New(root string) *Archive {
	return &Archive{root: root}
}

func (a *Archive) marketDir(date time.Time, market models.Market) string {
	return filepath.Join(a.root, date.Format("2006-01-02"), string(market))
}

// NextVersion returns the version the next run for (date, market) should
// write. The first collection of a trading date is v1; re-collection on the
// same date increments.
func (a *Archive) NextVersion(date time.Time, market models.Market) (int, error) {
	dir := a.marketDir(date, market)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("failed to read archive dir %s: %w", dir, err)
	}

	max := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "v") {
			continue
		}
		n, err := strconv.Atoi(e.Name()[1:])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// LatestVersion returns the version the `latest` pointer names, or 0 when
// nothing has been published for (date, market).
func (a *Archive) LatestVersion(date time.Time, market models.Market) (int, error) {
	data, err := os.ReadFile(filepath.Join(a.marketDir(date, market), "latest"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "v")))
	if err != nil {
		return 0, fmt.Errorf("malformed latest pointer: %w", err)
	}
	return n, nil
}

// WriteRun publishes a run's records as a new version directory and then
// moves the `latest` pointer — pointer last, after all file writes
// succeeded, so readers never observe a partial version.
func (a *Archive) WriteRun(date time.Time, market models.Market, records []Record) (int, error) {
	version, err := a.NextVersion(date, market)
	if err != nil {
		return 0, err
	}

	dir := filepath.Join(a.marketDir(date, market), fmt.Sprintf("v%d", version))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create archive version dir: %w", err)
	}

	if err := a.writePrices(dir, market, records); err != nil {
		return 0, err
	}
	if err := a.writeMetrics(dir, market, records); err != nil {
		return 0, err
	}

	if err := a.updateLatest(date, market, version); err != nil {
		return 0, err
	}

	observability.WithMarket(string(market)).Info("archive version published",
		"date", date.Format("2006-01-02"), "version", version, "rows", len(records))

	return version, nil
}

// updateLatest replaces the pointer via temp file + rename, which is atomic
// on POSIX filesystems.
func (a *Archive) updateLatest(date time.Time, market models.Market, version int) error {
	dir := a.marketDir(date, market)
	tmp := filepath.Join(dir, "latest.tmp")
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("v%d\n", version)), 0o644); err != nil {
		return fmt.Errorf("failed to write latest pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "latest")); err != nil {
		return fmt.Errorf("failed to publish latest pointer: %w", err)
	}
	return nil
}

var pricesHeader = []string{"symbol", "trade_date", "open", "high", "low", "close", "volume", "source"}

func (a *Archive) writePrices(dir string, market models.Market, records []Record) error {
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveArchive(string(market), "prices", len(records))

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		q := rec.Quote
		rows = append(rows, []string{
			q.Symbol,
			q.TradeDate.Format("2006-01-02"),
			q.Open.String(),
			q.High.String(),
			q.Low.String(),
			q.Close.String(),
			strconv.FormatInt(q.Volume, 10),
			q.Source,
		})
	}
	return writeCSV(filepath.Join(dir, "prices.csv"), pricesHeader, rows)
}

var metricsHeader = []string{
	"symbol", "trade_date", "market_cap", "pe_ratio", "pb_ratio", "eps",
	"dividend_yield", "week52_high", "week52_low",
	"rsi_14", "mfi_14", "macd", "macd_signal", "macd_histogram",
	"bollinger_upper", "bollinger_middle", "bollinger_lower", "percent_b",
	"sma_5", "sma_20", "sma_60", "sma_120", "beta",
}

func (a *Archive) writeMetrics(dir string, market models.Market, records []Record) error {
	timer := observability.GetMetrics().NewTimer()
	defer timer.ObserveArchive(string(market), "metrics", len(records))

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		q, ind := rec.Quote, rec.Indicators
		rows = append(rows, []string{
			q.Symbol,
			q.TradeDate.Format("2006-01-02"),
			q.MarketCap.String(),
			formatFloat(q.PERatio),
			formatFloat(q.PBRatio),
			q.EPS.String(),
			formatFloat(q.DividendYield),
			q.Week52High.String(),
			q.Week52Low.String(),
			formatPtr(ind.RSI14),
			formatPtr(ind.MFI14),
			formatPtr(ind.MACD),
			formatPtr(ind.MACDSignal),
			formatPtr(ind.MACDHistogram),
			formatPtr(ind.BollingerUpper),
			formatPtr(ind.BollingerMiddle),
			formatPtr(ind.BollingerLower),
			formatPtr(ind.PercentB),
			formatPtr(ind.SMA5),
			formatPtr(ind.SMA20),
			formatPtr(ind.SMA60),
			formatPtr(ind.SMA120),
			formatPtr(ind.Beta),
		})
	}
	return writeCSV(filepath.Join(dir, "metrics.csv"), metricsHeader, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Sync()
}

func formatFloat(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
