// Package indicators derives technical metrics from ordered daily OHLCV
// history. Every function is pure and tolerates short or partial history by
// returning nil instead of raising; callers log the reason at low severity.
package indicators

import (
	"math"

	"market-collector/models"
)

// MACDResult is the dual-EMA trend/divergence triple.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// BollingerResult is the 20-period volatility band triple plus the
// normalized position of the last close within the band. PercentB is nil
// when the band has zero width.
type BollingerResult struct {
	Upper    float64
	Middle   float64
	Lower    float64
	PercentB *float64
}

// SMA computes the simple moving average of the trailing period.
func SMA(values []float64, period int) *float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	avg := sum / float64(period)
	return &avg
}

// EMASeries computes an exponential moving average over the full series,
// seeded with the first value.
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) == 0 {
		return nil
	}
	multiplier := 2.0 / float64(period+1)
	ema := make([]float64, len(values))
	ema[0] = values[0]
	for i := 1; i < len(values); i++ {
		ema[i] = (values[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema
}

// RSI computes the bounded 0-100 relative strength oscillator over the
// trailing period. A flat window has no gains or losses and yields nil
// rather than a divide-by-zero.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[len(closes)-i] - closes[len(closes)-i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgGain == 0 && avgLoss == 0 {
		return nil
	}
	if avgLoss == 0 {
		v := 100.0
		return &v
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	return &rsi
}

// MFI computes the volume-weighted oscillator variant over the trailing
// period, using typical price times volume as money flow.
func MFI(bars []models.OHLCV, period int) *float64 {
	if period <= 0 || len(bars) < period+1 {
		return nil
	}

	var positive, negative float64
	window := bars[len(bars)-period-1:]
	prevTypical := typicalPrice(window[0])
	for _, bar := range window[1:] {
		typical := typicalPrice(bar)
		flow := typical * float64(bar.Volume)
		switch {
		case typical > prevTypical:
			positive += flow
		case typical < prevTypical:
			negative += flow
		}
		prevTypical = typical
	}

	if positive == 0 && negative == 0 {
		return nil
	}
	if negative == 0 {
		v := 100.0
		return &v
	}

	ratio := positive / negative
	mfi := 100 - (100 / (1 + ratio))
	return &mfi
}

func typicalPrice(bar models.OHLCV) float64 {
	return (bar.High + bar.Low + bar.Close) / 3
}

// MACD computes the dual-EMA convergence/divergence triple.
func MACD(closes []float64, fast, slow, signal int) *MACDResult {
	if len(closes) < slow+signal {
		return nil
	}

	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)

	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}

	signalLine := EMASeries(macdLine, signal)

	macd := macdLine[len(macdLine)-1]
	sig := signalLine[len(signalLine)-1]
	return &MACDResult{
		MACD:      macd,
		Signal:    sig,
		Histogram: macd - sig,
	}
}

// Bollinger computes the volatility band triple over the trailing period
// with k standard deviations.
func Bollinger(closes []float64, period int, k float64) *BollingerResult {
	middle := SMA(closes, period)
	if middle == nil {
		return nil
	}

	var variance float64
	for _, v := range closes[len(closes)-period:] {
		d := v - *middle
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(period))

	result := &BollingerResult{
		Upper:  *middle + k*stddev,
		Middle: *middle,
		Lower:  *middle - k*stddev,
	}

	if width := result.Upper - result.Lower; width > 0 {
		pb := (closes[len(closes)-1] - result.Lower) / width
		result.PercentB = &pb
	}

	return result
}

// minBetaObservations is the fewest aligned daily returns accepted for the
// regression.
const minBetaObservations = 30

// Beta computes the regression sensitivity coefficient of the asset's daily
// returns against the benchmark's, aligned from the most recent observation
// backwards.
func Beta(assetCloses, benchCloses []float64) *float64 {
	n := len(assetCloses)
	if len(benchCloses) < n {
		n = len(benchCloses)
	}
	if n < minBetaObservations+1 {
		return nil
	}

	asset := dailyReturns(assetCloses[len(assetCloses)-n:])
	bench := dailyReturns(benchCloses[len(benchCloses)-n:])

	var meanA, meanB float64
	for i := range asset {
		meanA += asset[i]
		meanB += bench[i]
	}
	meanA /= float64(len(asset))
	meanB /= float64(len(bench))

	var covariance, variance float64
	for i := range asset {
		covariance += (asset[i] - meanA) * (bench[i] - meanB)
		variance += (bench[i] - meanB) * (bench[i] - meanB)
	}

	if variance == 0 {
		return nil
	}

	beta := covariance / variance
	return &beta
}

func dailyReturns(closes []float64) []float64 {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return returns
}

// week52Window is the number of trading days in the extrema lookback.
const week52Window = 252

// Week52Extrema returns the high and low over the trailing 52 trading
// weeks, or as much history as exists.
func Week52Extrema(bars []models.OHLCV) (high, low *float64) {
	if len(bars) == 0 {
		return nil, nil
	}
	window := bars
	if len(window) > week52Window {
		window = window[len(window)-week52Window:]
	}
	h, l := window[0].High, window[0].Low
	for _, bar := range window[1:] {
		if bar.High > h {
			h = bar.High
		}
		if bar.Low < l {
			l = bar.Low
		}
	}
	return &h, &l
}
