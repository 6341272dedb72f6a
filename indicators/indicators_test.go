package indicators

import (
	"math"
	"testing"
	"time"

	"market-collector/models"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return closes
}

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}

	sma := SMA(closes, 5)
	if sma == nil {
		t.Fatal("expected SMA for sufficient history")
	}
	if !almostEqual(*sma, 3) {
		t.Errorf("SMA = %v, want 3", *sma)
	}

	sma = SMA(closes, 2)
	if sma == nil || !almostEqual(*sma, 4.5) {
		t.Errorf("SMA(2) = %v, want 4.5", sma)
	}

	if SMA(closes, 6) != nil {
		t.Error("expected nil SMA for short history")
	}
	if SMA(closes, 0) != nil {
		t.Error("expected nil SMA for zero period")
	}
}

func TestRSI_Rising(t *testing.T) {
	rsi := RSI(risingCloses(20), 14)
	if rsi == nil {
		t.Fatal("expected RSI for sufficient history")
	}
	if *rsi != 100 {
		t.Errorf("RSI = %v, want 100 for monotonically rising closes", *rsi)
	}
}

func TestRSI_Falling(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	rsi := RSI(closes, 14)
	if rsi == nil {
		t.Fatal("expected RSI for sufficient history")
	}
	if *rsi != 0 {
		t.Errorf("RSI = %v, want 0 for monotonically falling closes", *rsi)
	}
}

func TestRSI_FlatHistory(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 50
	}
	if rsi := RSI(closes, 14); rsi != nil {
		t.Errorf("RSI = %v, want nil for flat history", *rsi)
	}
}

func TestRSI_ShortHistory(t *testing.T) {
	if rsi := RSI(risingCloses(14), 14); rsi != nil {
		t.Error("expected nil RSI when history is shorter than period+1")
	}
}

func TestMFI(t *testing.T) {
	bars := make([]models.OHLCV, 20)
	for i := range bars {
		price := 100 + float64(i)
		bars[i] = models.OHLCV{High: price + 1, Low: price - 1, Close: price, Volume: 1000}
	}

	mfi := MFI(bars, 14)
	if mfi == nil {
		t.Fatal("expected MFI for sufficient history")
	}
	if *mfi != 100 {
		t.Errorf("MFI = %v, want 100 for monotonically rising typical price", *mfi)
	}

	if MFI(bars[:10], 14) != nil {
		t.Error("expected nil MFI for short history")
	}
}

func TestMACD(t *testing.T) {
	macd := MACD(risingCloses(50), 12, 26, 9)
	if macd == nil {
		t.Fatal("expected MACD for sufficient history")
	}
	// A steady uptrend keeps the fast EMA above the slow one.
	if macd.MACD <= 0 {
		t.Errorf("MACD = %v, want positive in an uptrend", macd.MACD)
	}
	if !almostEqual(macd.Histogram, macd.MACD-macd.Signal) {
		t.Errorf("Histogram = %v, want MACD-Signal = %v", macd.Histogram, macd.MACD-macd.Signal)
	}

	if MACD(risingCloses(30), 12, 26, 9) != nil {
		t.Error("expected nil MACD when history is shorter than slow+signal")
	}
}

func TestBollinger(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i%2) // alternating 100/101
	}

	boll := Bollinger(closes, 20, 2)
	if boll == nil {
		t.Fatal("expected bands for sufficient history")
	}
	if boll.Upper <= boll.Middle || boll.Middle <= boll.Lower {
		t.Errorf("band ordering broken: upper=%v middle=%v lower=%v", boll.Upper, boll.Middle, boll.Lower)
	}
	if boll.PercentB == nil {
		t.Fatal("expected PercentB for non-zero band width")
	}
	if *boll.PercentB < 0 || *boll.PercentB > 1 {
		t.Errorf("PercentB = %v, want within [0,1] for a close inside the band", *boll.PercentB)
	}
}

func TestBollinger_ZeroWidth(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}

	boll := Bollinger(closes, 20, 2)
	if boll == nil {
		t.Fatal("expected bands even for flat history")
	}
	if boll.PercentB != nil {
		t.Errorf("PercentB = %v, want nil for zero band width", *boll.PercentB)
	}
}

func TestBeta_PerfectCorrelation(t *testing.T) {
	bench := make([]float64, 60)
	asset := make([]float64, 60)
	bench[0], asset[0] = 100, 50
	for i := 1; i < 60; i++ {
		// Asset moves at twice the benchmark's daily return.
		r := 0.01 * float64(1+i%3)
		bench[i] = bench[i-1] * (1 + r)
		asset[i] = asset[i-1] * (1 + 2*r)
	}

	beta := Beta(asset, bench)
	if beta == nil {
		t.Fatal("expected beta for sufficient history")
	}
	if math.Abs(*beta-2) > 0.01 {
		t.Errorf("Beta = %v, want ~2", *beta)
	}
}

func TestBeta_ShortHistory(t *testing.T) {
	if Beta(risingCloses(20), risingCloses(20)) != nil {
		t.Error("expected nil beta below the minimum observation count")
	}
}

func TestBeta_NoBenchmark(t *testing.T) {
	if Beta(risingCloses(60), nil) != nil {
		t.Error("expected nil beta without a benchmark series")
	}
}

func TestWeek52Extrema(t *testing.T) {
	bars := make([]models.OHLCV, 300)
	for i := range bars {
		bars[i] = models.OHLCV{High: 100, Low: 90}
	}
	// Spike outside the 252-bar window must be ignored.
	bars[10].High = 500
	bars[10].Low = 1
	// Extremes inside the window.
	bars[280].High = 150
	bars[290].Low = 80

	high, low := Week52Extrema(bars)
	if high == nil || low == nil {
		t.Fatal("expected extrema for non-empty history")
	}
	if *high != 150 {
		t.Errorf("high = %v, want 150", *high)
	}
	if *low != 80 {
		t.Errorf("low = %v, want 80", *low)
	}
}

func TestWeek52Extrema_Empty(t *testing.T) {
	high, low := Week52Extrema(nil)
	if high != nil || low != nil {
		t.Error("expected nil extrema for empty history")
	}
}

func TestCompute_ShortHistory(t *testing.T) {
	entity := models.Entity{Symbol: "AAPL", Market: models.MarketNASDAQ}
	bars := []models.OHLCV{
		{Close: 100, High: 101, Low: 99, Volume: 100},
		{Close: 101, High: 102, Low: 100, Volume: 100},
	}

	set := Compute(entity, time.Now(), bars, nil)
	if set == nil {
		t.Fatal("expected an indicator set even for short history")
	}
	if set.Symbol != "AAPL" {
		t.Errorf("Symbol = %v, want 'AAPL'", set.Symbol)
	}
	if set.RSI14 != nil {
		t.Error("expected nil RSI for two bars")
	}
	if set.MACD != nil {
		t.Error("expected nil MACD for two bars")
	}
	if set.Week52High == nil || *set.Week52High != 102 {
		t.Errorf("Week52High = %v, want 102", set.Week52High)
	}
}

func TestCompute_FullHistory(t *testing.T) {
	entity := models.Entity{Symbol: "MSFT", Market: models.MarketNASDAQ}
	bars := make([]models.OHLCV, 200)
	bench := make([]float64, 200)
	for i := range bars {
		price := 100 + float64(i)*0.5
		bars[i] = models.OHLCV{Close: price, High: price + 1, Low: price - 1, Volume: 1000}
		bench[i] = 400 + float64(i)*0.3
	}

	set := Compute(entity, time.Now(), bars, bench)
	if set.RSI14 == nil || set.MFI14 == nil || set.MACD == nil || set.BollingerMiddle == nil {
		t.Error("expected oscillator and band metrics for 200 bars")
	}
	if set.SMA5 == nil || set.SMA20 == nil || set.SMA60 == nil || set.SMA120 == nil {
		t.Error("expected all SMA windows for 200 bars")
	}
	if set.Beta == nil {
		t.Error("expected beta with a benchmark series")
	}
	if set.ComputedAt.IsZero() {
		t.Error("expected ComputedAt to be stamped")
	}
}
