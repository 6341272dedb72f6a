package main

import (
	"context"

	"market-collector/archive"
	"market-collector/collector"
	"market-collector/models"
	"market-collector/observability"
	"market-collector/repository"
)

// persistSink writes completed batches to the database as the run goes and
// accumulates rows for the end-of-run archive version. With --no-db the
// repository is nil and only the archive side is active.
type persistSink struct {
	repo    *repository.Repository
	records []archive.Record
}

func newPersistSink(repo *repository.Repository) *persistSink {
	return &persistSink{repo: repo}
}

// Persist upserts one batch of completed entities. The orchestrator calls
// this sequentially, batch by batch, so partial progress is durable before
// the next batch starts.
func (s *persistSink) Persist(ctx context.Context, results []collector.Result) error {
	quotes := make([]*models.RawQuote, 0, len(results))
	rows := make([]repository.MetricRow, 0, len(results))
	for _, res := range results {
		quotes = append(quotes, res.Quote)
		rows = append(rows, repository.MetricRow{Quote: res.Quote, Indicators: res.Indicators})
		s.records = append(s.records, archive.Record{Quote: res.Quote, Indicators: res.Indicators})
	}

	if s.repo == nil {
		return nil
	}
	if err := s.repo.UpsertDailyPrices(ctx, quotes); err != nil {
		return err
	}
	return s.repo.UpsertDailyMetrics(ctx, rows)
}

// Finalize publishes the archive version for a finished run and saves the
// run row. Only terminal outcomes publish: a rate-limited or aborted run is
// partial by definition and the resumed run will publish the complete
// version.
func (s *persistSink) Finalize(ctx context.Context, run *models.CollectionRun, arch *archive.Archive) {
	log := observability.WithMarket(string(run.Market))

	terminal := run.Status == models.RunStatusDone || run.Status == models.RunStatusQualityFailed
	if terminal && len(s.records) > 0 {
		version, err := arch.WriteRun(run.TradeDate, run.Market, s.records)
		if err != nil {
			log.Error("failed to write archive", "error", err)
		} else {
			run.ArchiveVersion = version
		}
	}

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, run); err != nil {
			log.Error("failed to save run row", "error", err)
		}
	}
}
