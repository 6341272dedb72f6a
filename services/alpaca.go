package services

import (
	"context"
	"time"

	"market-collector/models"
	"market-collector/observability"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// AlpacaAdapter supplies daily OHLCV history from the Alpaca market data API.
// It is the primary price source for both markets.
type AlpacaAdapter struct {
	dataClient   *marketdata.Client
	lookbackDays int
}

// NewAlpacaAdapter creates a new AlpacaAdapter instance
func NewAlpacaAdapter(apiKey, apiSecret, baseURL string, lookbackDays int) *AlpacaAdapter {
	dataClient := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
		// The SDK treats RetryLimit 0 as "use the default of 10", so -1 is
		// the value that actually disables its internal 429 retry loop.
		// Retry belongs to the orchestrator's rounds, not the adapter.
		RetryLimit: -1,
	})

	return &AlpacaAdapter{
		dataClient:   dataClient,
		lookbackDays: lookbackDays,
	}
}

// Name returns the provider tag used in logs, metrics and source fields
func (a *AlpacaAdapter) Name() string {
	return BreakerAlpaca
}

// Fetch returns the lookback window of daily bars for the entity plus a
// snapshot built from the most recent bar.
func (a *AlpacaAdapter) Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(a.Name(), "bars")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(a.Name(), "bars")

	end := time.Now()
	start := end.AddDate(0, 0, -a.lookbackDays)

	bars, err := WithCircuitBreaker(ctx, BreakerAlpaca, func() ([]marketdata.Bar, error) {
		return a.dataClient.GetBars(entity.Symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
		})
	})
	if err != nil {
		ce := Classify(a.Name(), entity.Symbol, err)
		metrics.RecordExternalAPIError(a.Name(), "bars", string(ce.Class))
		return nil, ce
	}

	if len(bars) == 0 {
		ce := Classify(a.Name(), entity.Symbol, ErrNoData)
		metrics.RecordExternalAPIError(a.Name(), "bars", string(ce.Class))
		return nil, ce
	}

	history := make([]models.OHLCV, 0, len(bars))
	for _, bar := range bars {
		history = append(history, models.OHLCV{
			Date:   bar.Timestamp,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}

	latest := bars[len(bars)-1]
	quote := &models.RawQuote{
		Symbol:    entity.Symbol,
		Market:    entity.Market,
		TradeDate: latest.Timestamp.UTC().Truncate(24 * time.Hour),
		Open:      decimal.NewFromFloat(latest.Open),
		High:      decimal.NewFromFloat(latest.High),
		Low:       decimal.NewFromFloat(latest.Low),
		Close:     decimal.NewFromFloat(latest.Close),
		Volume:    int64(latest.Volume),
		Source:    a.Name(),
		FetchedAt: time.Now(),
	}

	return &models.FetchResult{Quote: quote, History: history}, nil
}
