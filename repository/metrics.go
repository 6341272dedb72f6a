package repository

import (
	"context"

	"market-collector/models"
	"market-collector/observability"

	"github.com/jackc/pgx/v5"
)

// MetricRow pairs the fundamental snapshot with its derived indicators for
// one (entity, trading date).
type MetricRow struct {
	Quote      *models.RawQuote
	Indicators *models.IndicatorSet
}

// UpsertDailyMetrics writes fundamental + indicator rows in batches of at
// most maxBatchRows, keyed by (symbol, market, trade_date). Nil indicator
// pointers persist as NULL.
func (r *Repository) UpsertDailyMetrics(ctx context.Context, rows []MetricRow) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "daily_metrics")

	for start := 0; start < len(rows); start += maxBatchRows {
		end := chunkEnd(start, len(rows))

		batch := &pgx.Batch{}
		for _, row := range rows[start:end] {
			q, ind := row.Quote, row.Indicators
			batch.Queue(`
				INSERT INTO daily_metrics (symbol, market, trade_date,
					market_cap, pe_ratio, pb_ratio, eps, dividend_yield,
					week52_high, week52_low,
					rsi_14, mfi_14, macd, macd_signal, macd_histogram,
					bollinger_upper, bollinger_middle, bollinger_lower, percent_b,
					sma_5, sma_20, sma_60, sma_120, beta, computed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
					$11, $12, $13, $14, $15, $16, $17, $18, $19,
					$20, $21, $22, $23, $24, $25)
				ON CONFLICT (symbol, market, trade_date) DO UPDATE
				SET market_cap = EXCLUDED.market_cap, pe_ratio = EXCLUDED.pe_ratio,
				    pb_ratio = EXCLUDED.pb_ratio, eps = EXCLUDED.eps,
				    dividend_yield = EXCLUDED.dividend_yield,
				    week52_high = EXCLUDED.week52_high, week52_low = EXCLUDED.week52_low,
				    rsi_14 = EXCLUDED.rsi_14, mfi_14 = EXCLUDED.mfi_14,
				    macd = EXCLUDED.macd, macd_signal = EXCLUDED.macd_signal,
				    macd_histogram = EXCLUDED.macd_histogram,
				    bollinger_upper = EXCLUDED.bollinger_upper,
				    bollinger_middle = EXCLUDED.bollinger_middle,
				    bollinger_lower = EXCLUDED.bollinger_lower,
				    percent_b = EXCLUDED.percent_b,
				    sma_5 = EXCLUDED.sma_5, sma_20 = EXCLUDED.sma_20,
				    sma_60 = EXCLUDED.sma_60, sma_120 = EXCLUDED.sma_120,
				    beta = EXCLUDED.beta, computed_at = EXCLUDED.computed_at
			`, q.Symbol, string(q.Market), q.TradeDate,
				q.MarketCap, q.PERatio, q.PBRatio, q.EPS, q.DividendYield,
				q.Week52High, q.Week52Low,
				ind.RSI14, ind.MFI14, ind.MACD, ind.MACDSignal, ind.MACDHistogram,
				ind.BollingerUpper, ind.BollingerMiddle, ind.BollingerLower, ind.PercentB,
				ind.SMA5, ind.SMA20, ind.SMA60, ind.SMA120, ind.Beta, ind.ComputedAt)
		}

		if err := r.sendBatch(ctx, batch, "daily_metrics"); err != nil {
			return err
		}
	}

	return nil
}
