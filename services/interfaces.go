package services

import (
	"context"

	"market-collector/models"
)

// SourceAdapter wraps one external provider. Fetch returns whatever fields
// the provider can supply for the entity; failures come back as
// *ClassifiedError. Adapters set bounded network timeouts and never retry
// internally — retry policy belongs solely to the orchestrator.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error)
}

// BenchmarkSource supplies the benchmark index close series used for beta.
// Loaded once per run and shared read-only across indicator computations.
type BenchmarkSource interface {
	DailyCloses(ctx context.Context, days int) ([]float64, error)
}

// Compile-time interface verification
var _ SourceAdapter = (*AlpacaAdapter)(nil)
var _ SourceAdapter = (*QuoteBoardAdapter)(nil)
var _ SourceAdapter = (*ProfileFeedAdapter)(nil)
var _ BenchmarkSource = (*IndexFeed)(nil)
