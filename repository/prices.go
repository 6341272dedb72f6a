package repository

import (
	"context"

	"market-collector/models"
	"market-collector/observability"

	"github.com/jackc/pgx/v5"
)

// UpsertDailyPrices writes daily price rows in batches of at most
// maxBatchRows, keyed by (symbol, market, trade_date). Collecting the same
// trading date twice yields no duplicates.
func (r *Repository) UpsertDailyPrices(ctx context.Context, quotes []*models.RawQuote) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "daily_prices")

	for start := 0; start < len(quotes); start += maxBatchRows {
		end := chunkEnd(start, len(quotes))

		batch := &pgx.Batch{}
		for _, q := range quotes[start:end] {
			batch.Queue(`
				INSERT INTO daily_prices (symbol, market, trade_date,
					open, high, low, close, volume, source, fetched_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (symbol, market, trade_date) DO UPDATE
				SET open = EXCLUDED.open, high = EXCLUDED.high,
				    low = EXCLUDED.low, close = EXCLUDED.close,
				    volume = EXCLUDED.volume, source = EXCLUDED.source,
				    fetched_at = EXCLUDED.fetched_at
			`, q.Symbol, string(q.Market), q.TradeDate,
				q.Open, q.High, q.Low, q.Close, q.Volume, q.Source, q.FetchedAt)
		}

		if err := r.sendBatch(ctx, batch, "daily_prices"); err != nil {
			return err
		}
	}

	return nil
}
