package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"market-collector/models"
	"market-collector/observability"

	"github.com/jackc/pgx/v5"
)

// SaveRun inserts or updates the collection run row, including the quality
// report as JSON.
func (r *Repository) SaveRun(ctx context.Context, run *models.CollectionRun) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "collection_runs")

	var qualityJSON []byte
	if run.Quality != nil {
		var err error
		qualityJSON, err = json.Marshal(run.Quality)
		if err != nil {
			return fmt.Errorf("failed to marshal quality report: %w", err)
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO collection_runs (id, market, trade_date, status,
			universe_size, completed, failed, rounds, recollected,
			archive_version, resumed, quality, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, completed = EXCLUDED.completed,
		    failed = EXCLUDED.failed, rounds = EXCLUDED.rounds,
		    recollected = EXCLUDED.recollected,
		    archive_version = EXCLUDED.archive_version,
		    quality = EXCLUDED.quality, finished_at = EXCLUDED.finished_at
	`, run.ID, string(run.Market), run.TradeDate, string(run.Status),
		run.UniverseSize, run.Completed, run.Failed, run.Rounds, run.Recollected,
		run.ArchiveVersion, run.Resumed, qualityJSON, run.StartedAt, run.FinishedAt)

	if err != nil {
		metrics.RecordDBError("upsert", "collection_runs")
		return fmt.Errorf("failed to save collection run: %w", err)
	}

	return nil
}

// GetLatestRun returns the most recently started run for a market, or nil.
func (r *Repository) GetLatestRun(ctx context.Context, market models.Market) (*models.CollectionRun, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "collection_runs")

	var run models.CollectionRun
	var marketStr, statusStr string
	var qualityJSON []byte

	err := r.db.QueryRow(ctx, `
		SELECT id, market, trade_date, status, universe_size, completed,
		       failed, rounds, recollected, archive_version, resumed,
		       quality, started_at, finished_at
		FROM collection_runs
		WHERE market = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, string(market)).Scan(&run.ID, &marketStr, &run.TradeDate, &statusStr,
		&run.UniverseSize, &run.Completed, &run.Failed, &run.Rounds,
		&run.Recollected, &run.ArchiveVersion, &run.Resumed,
		&qualityJSON, &run.StartedAt, &run.FinishedAt)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "collection_runs")
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	run.Market = models.Market(marketStr)
	run.Status = models.RunStatus(statusStr)
	if len(qualityJSON) > 0 {
		run.Quality = &models.QualityReport{}
		if err := json.Unmarshal(qualityJSON, run.Quality); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quality report: %w", err)
		}
	}

	return &run, nil
}
