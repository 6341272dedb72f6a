package repository

import (
	"context"
	"fmt"
	"time"

	"market-collector/models"
	"market-collector/observability"

	"github.com/jackc/pgx/v5"
)

// UpsertEntities refreshes the master entity table. Keyed by
// (symbol, market); re-running a day is a no-op apart from updated_at.
func (r *Repository) UpsertEntities(ctx context.Context, entities []models.Entity) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "stocks")

	for start := 0; start < len(entities); start += maxBatchRows {
		end := chunkEnd(start, len(entities))

		batch := &pgx.Batch{}
		now := time.Now()
		for _, e := range entities[start:end] {
			batch.Queue(`
				INSERT INTO stocks (symbol, market, name, currency, sector, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (symbol, market) DO UPDATE
				SET name = EXCLUDED.name, currency = EXCLUDED.currency,
				    sector = EXCLUDED.sector, updated_at = EXCLUDED.updated_at
			`, e.Symbol, string(e.Market), e.Name, e.Currency, e.Sector, now)
		}

		if err := r.sendBatch(ctx, batch, "stocks"); err != nil {
			return err
		}
	}

	return nil
}

// sendBatch executes a queued batch and surfaces the first row error.
func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch, table string) error {
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			observability.GetMetrics().RecordDBError("upsert", table)
			return fmt.Errorf("failed to upsert into %s: %w", table, err)
		}
	}
	return nil
}
