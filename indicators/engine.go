package indicators

import (
	"time"

	"market-collector/models"
	"market-collector/observability"
)

// Standard periods for the derived metric set.
const (
	rsiPeriod       = 14
	mfiPeriod       = 14
	macdFast        = 12
	macdSlow        = 26
	macdSignal      = 9
	bollingerPeriod = 20
	bollingerK      = 2.0
)

var smaPeriods = []int{5, 20, 60, 120}

// Compute derives the full IndicatorSet for one entity from its OHLCV
// history and the shared benchmark close series. Metrics the history cannot
// support stay nil; each skip is logged at debug with the row count so the
// reason is visible without drowning a 9,000-entity run in warnings.
func Compute(entity models.Entity, tradeDate time.Time, bars []models.OHLCV, benchmark []float64) *models.IndicatorSet {
	set := &models.IndicatorSet{
		Symbol:     entity.Symbol,
		Market:     entity.Market,
		TradeDate:  tradeDate,
		ComputedAt: time.Now(),
	}

	log := observability.WithSymbol(entity.Symbol)

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	if set.RSI14 = RSI(closes, rsiPeriod); set.RSI14 == nil {
		log.Debug("rsi skipped", "rows", len(closes), "period", rsiPeriod)
	}
	if set.MFI14 = MFI(bars, mfiPeriod); set.MFI14 == nil {
		log.Debug("mfi skipped", "rows", len(bars), "period", mfiPeriod)
	}

	if macd := MACD(closes, macdFast, macdSlow, macdSignal); macd != nil {
		set.MACD = &macd.MACD
		set.MACDSignal = &macd.Signal
		set.MACDHistogram = &macd.Histogram
	} else {
		log.Debug("macd skipped", "rows", len(closes), "need", macdSlow+macdSignal)
	}

	if boll := Bollinger(closes, bollingerPeriod, bollingerK); boll != nil {
		set.BollingerUpper = &boll.Upper
		set.BollingerMiddle = &boll.Middle
		set.BollingerLower = &boll.Lower
		set.PercentB = boll.PercentB
	} else {
		log.Debug("bollinger skipped", "rows", len(closes), "period", bollingerPeriod)
	}

	smas := []**float64{&set.SMA5, &set.SMA20, &set.SMA60, &set.SMA120}
	for i, period := range smaPeriods {
		if *smas[i] = SMA(closes, period); *smas[i] == nil {
			log.Debug("sma skipped", "rows", len(closes), "period", period)
		}
	}

	if set.Beta = Beta(closes, benchmark); set.Beta == nil {
		log.Debug("beta skipped", "rows", len(closes), "benchmark_rows", len(benchmark))
	}

	set.Week52High, set.Week52Low = Week52Extrema(bars)
	if set.Week52High == nil {
		log.Debug("52-week extrema skipped", "rows", len(bars))
	}

	return set
}
