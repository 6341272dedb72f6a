package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"market-collector/config"
	"market-collector/models"
	"market-collector/services"

	"github.com/shopspring/decimal"
)

// scriptedFetcher returns per-symbol outcomes keyed by attempt number.
type scriptedFetcher struct {
	mu     sync.Mutex
	calls  map[string]int
	script func(symbol string, attempt int) (*models.FetchResult, error)
}

func newScriptedFetcher(script func(symbol string, attempt int) (*models.FetchResult, error)) *scriptedFetcher {
	return &scriptedFetcher{calls: make(map[string]int), script: script}
}

func (f *scriptedFetcher) Name() string { return "scripted" }

func (f *scriptedFetcher) Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error) {
	f.mu.Lock()
	f.calls[entity.Symbol]++
	attempt := f.calls[entity.Symbol]
	f.mu.Unlock()
	return f.script(entity.Symbol, attempt)
}

func (f *scriptedFetcher) attempts(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

// memSink accumulates persisted results.
type memSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *memSink) Persist(ctx context.Context, results []Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, results...)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func goodResult(symbol string) *models.FetchResult {
	return &models.FetchResult{
		Quote: &models.RawQuote{
			Symbol:    symbol,
			Market:    models.MarketNYSE,
			TradeDate: time.Now().UTC().Truncate(24 * time.Hour),
			Close:     decimal.NewFromFloat(100),
			Volume:    1000,
			MarketCap: decimal.NewFromInt(1_000_000_000),
			PERatio:   15,
		},
		History: []models.OHLCV{{Close: 100, High: 101, Low: 99, Volume: 1000}},
	}
}

func rateLimitErr(symbol string) error {
	return &services.ClassifiedError{
		Class:    services.FailureRateLimit,
		Provider: "scripted",
		Symbol:   symbol,
		Err:      errors.New("throttled"),
	}
}

func noDataErr(symbol string) error {
	return &services.ClassifiedError{
		Class:    services.FailureNoData,
		Provider: "scripted",
		Symbol:   symbol,
		Err:      services.ErrNoData,
	}
}

func testCollectorConfig(t *testing.T) config.CollectorConfig {
	return config.CollectorConfig{
		BatchSize:          2,
		Workers:            2,
		Rounds:             3,
		BatchDelay:         0,
		BatchJitter:        0,
		LookbackDays:       10,
		FetchTimeout:       time.Second,
		RateLimitThreshold: 0.6,
		BackoffSchedule:    []time.Duration{time.Millisecond, time.Millisecond},
		LedgerDir:          t.TempDir(),
	}
}

func nyseUniverse(symbols ...string) []models.Entity {
	universe := make([]models.Entity, len(symbols))
	for i, s := range symbols {
		universe[i] = models.Entity{Symbol: s, Market: models.MarketNYSE, Currency: "USD"}
	}
	return universe
}

func TestOrchestrator_RetriesRateLimitedEntityToCompletion(t *testing.T) {
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		if symbol == "XOM" && attempt <= 2 {
			return nil, rateLimitErr(symbol)
		}
		return goodResult(symbol), nil
	})
	sink := &memSink{}
	orch := New(models.MarketNYSE, testCollectorConfig(t), testPolicy(), fetcher, nil, sink)

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "XOM", "KO"), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if run.Status != models.RunStatusDone {
		t.Errorf("Status = %v, want DONE", run.Status)
	}
	if run.Completed != 3 {
		t.Errorf("Completed = %d, want 3", run.Completed)
	}
	if run.Failed != 0 {
		t.Errorf("Failed = %d, want 0", run.Failed)
	}
	if fetcher.attempts("XOM") != 3 {
		t.Errorf("XOM attempts = %d, want 3", fetcher.attempts("XOM"))
	}
	if fetcher.attempts("JPM") != 1 {
		t.Errorf("JPM attempts = %d, want 1", fetcher.attempts("JPM"))
	}
	if sink.count() != 3 {
		t.Errorf("persisted results = %d, want 3", sink.count())
	}
	if run.Status.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", run.Status.ExitCode())
	}
}

func TestOrchestrator_SustainedRateLimitEndsRunResumable(t *testing.T) {
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		return nil, rateLimitErr(symbol)
	})
	sink := &memSink{}
	orch := New(models.MarketNYSE, testCollectorConfig(t), testPolicy(), fetcher, nil, sink)

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "XOM"), false)
	if err != nil {
		t.Fatalf("Run should not error on rate-limit exhaustion: %v", err)
	}

	if run.Status != models.RunStatusRateLimited {
		t.Errorf("Status = %v, want RATE_LIMITED", run.Status)
	}
	if !run.Status.Resumable() {
		t.Error("rate-limited run must be resumable")
	}
	if run.Status.ExitCode() != 2 {
		t.Errorf("exit code = %d, want 2", run.Status.ExitCode())
	}
	if run.Completed != 0 {
		t.Errorf("Completed = %d, want 0", run.Completed)
	}
}

func TestOrchestrator_NoDataIsTerminal(t *testing.T) {
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		if symbol == "GHOST" {
			return nil, noDataErr(symbol)
		}
		return goodResult(symbol), nil
	})
	sink := &memSink{}

	policy := testPolicy()
	policy.RecollectCap = 0 // disable the recollection pass for this test
	orch := New(models.MarketNYSE, testCollectorConfig(t), policy, fetcher, nil, sink)

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "GHOST"), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fetcher.attempts("GHOST") != 1 {
		t.Errorf("GHOST attempts = %d, want 1 (no data is terminal)", fetcher.attempts("GHOST"))
	}
	if run.Status != models.RunStatusQualityFailed {
		t.Errorf("Status = %v, want QUALITY_FAILED at 50%% coverage", run.Status)
	}
	if run.Failed != 1 {
		t.Errorf("Failed = %d, want 1", run.Failed)
	}
	if run.Status.ExitCode() != 1 {
		t.Errorf("exit code = %d, want 1", run.Status.ExitCode())
	}
}

func TestOrchestrator_RecollectionRecoversMissedEntities(t *testing.T) {
	// LAZY fails with an unclassified error twice (initial + its one OTHER
	// retry), then succeeds during the recollection pass.
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		if symbol == "LAZY" && attempt <= 2 {
			return nil, errors.New("flaky upstream")
		}
		return goodResult(symbol), nil
	})
	sink := &memSink{}
	orch := New(models.MarketNYSE, testCollectorConfig(t), testPolicy(), fetcher, nil, sink)

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "LAZY"), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !run.Recollected {
		t.Error("expected a recollection pass")
	}
	if run.Status != models.RunStatusDone {
		t.Errorf("Status = %v, want DONE after recollection", run.Status)
	}
	if run.Completed != 2 {
		t.Errorf("Completed = %d, want 2", run.Completed)
	}
}

func TestOrchestrator_ResumeSkipsCompletedEntities(t *testing.T) {
	cfg := testCollectorConfig(t)
	date := time.Now().UTC().Truncate(24 * time.Hour)

	// Simulate an interrupted prior run that completed JPM.
	prior, err := OpenLedger(cfg.LedgerDir, models.MarketNYSE, date, false)
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	prior.MarkDone("JPM|nyse")
	prior.Close()

	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		return goodResult(symbol), nil
	})
	sink := &memSink{}
	orch := New(models.MarketNYSE, cfg, testPolicy(), fetcher, nil, sink)

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "XOM"), true)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if fetcher.attempts("JPM") != 0 {
		t.Errorf("JPM attempts = %d, want 0 (already in ledger)", fetcher.attempts("JPM"))
	}
	if fetcher.attempts("XOM") != 1 {
		t.Errorf("XOM attempts = %d, want 1", fetcher.attempts("XOM"))
	}
	if run.Completed != 2 {
		t.Errorf("Completed = %d, want 2 (ledger + this run)", run.Completed)
	}
	if !run.Resumed {
		t.Error("expected run to be marked resumed")
	}
	if run.Status != models.RunStatusDone {
		t.Errorf("Status = %v, want DONE", run.Status)
	}
}

// failingSink rejects every persist call.
type failingSink struct{}

func (failingSink) Persist(ctx context.Context, results []Result) error {
	return errors.New("connection refused")
}

func TestOrchestrator_PersistFailureLeavesEntitiesUnmarked(t *testing.T) {
	cfg := testCollectorConfig(t)
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		return goodResult(symbol), nil
	})
	orch := New(models.MarketNYSE, cfg, testPolicy(), fetcher, nil, failingSink{})

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "XOM"), false)
	if err == nil {
		t.Fatal("expected run to abort on persist failure")
	}
	if run.Completed != 0 {
		t.Errorf("Completed = %d, want 0 when nothing was persisted", run.Completed)
	}

	// A resumed run must see both entities as incomplete and fetch them
	// again; otherwise their rows would be lost for the trade date.
	ledger, err := OpenLedger(cfg.LedgerDir, models.MarketNYSE, run.TradeDate, true)
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	defer ledger.Close()
	if n := ledger.Count(); n != 0 {
		t.Errorf("ledger count after failed persist = %d, want 0", n)
	}
	if remaining := ledger.FilterIncomplete(nyseUniverse("JPM", "XOM")); len(remaining) != 2 {
		t.Errorf("incomplete entities = %d, want 2", len(remaining))
	}
}

func TestOrchestrator_RecollectionSkipsNoDataEntities(t *testing.T) {
	// GHOST has no data anywhere and FLAKY misses the first pass; the
	// recollection pass must refetch FLAKY only.
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		switch {
		case symbol == "GHOST":
			return nil, noDataErr(symbol)
		case symbol == "FLAKY" && attempt <= 2:
			return nil, errors.New("flaky upstream")
		}
		return goodResult(symbol), nil
	})
	sink := &memSink{}
	orch := New(models.MarketNYSE, testCollectorConfig(t), testPolicy(), fetcher, nil, sink)

	run, err := orch.Run(context.Background(), nyseUniverse("JPM", "GHOST", "FLAKY"), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !run.Recollected {
		t.Error("expected a recollection pass")
	}
	if fetcher.attempts("GHOST") != 1 {
		t.Errorf("GHOST attempts = %d, want 1 (no data is terminal, recollection must not refetch)", fetcher.attempts("GHOST"))
	}
	if fetcher.attempts("FLAKY") != 3 {
		t.Errorf("FLAKY attempts = %d, want 3 (two misses plus recollection)", fetcher.attempts("FLAKY"))
	}
	if run.Completed != 2 {
		t.Errorf("Completed = %d, want 2", run.Completed)
	}
	if run.Failed != 1 {
		t.Errorf("Failed = %d, want 1", run.Failed)
	}
	if run.Status != models.RunStatusQualityFailed {
		t.Errorf("Status = %v, want QUALITY_FAILED at 67%% coverage", run.Status)
	}
}

func TestOrchestrator_CancellationLeavesRunResumable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := newScriptedFetcher(func(symbol string, attempt int) (*models.FetchResult, error) {
		cancel() // interrupt mid-run
		return goodResult(symbol), nil
	})
	sink := &memSink{}
	orch := New(models.MarketNYSE, testCollectorConfig(t), testPolicy(), fetcher, nil, sink)

	run, err := orch.Run(ctx, nyseUniverse("JPM", "XOM", "KO", "DIS"), false)
	if err != nil {
		t.Fatalf("cancelled run should finish cleanly: %v", err)
	}
	if run.Status != models.RunStatusRateLimited {
		t.Errorf("Status = %v, want RATE_LIMITED (resumable) after cancellation", run.Status)
	}
}
