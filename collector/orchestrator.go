package collector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"market-collector/config"
	"market-collector/indicators"
	"market-collector/models"
	"market-collector/observability"
	"market-collector/services"

	"github.com/google/uuid"
)

// Fetcher produces one merged record per entity. services.Chain is the
// production implementation.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, entity models.Entity) (*models.FetchResult, error)
}

// Result is one completed entity ready for persistence.
type Result struct {
	Entity     models.Entity
	Quote      *models.RawQuote
	Indicators *models.IndicatorSet
}

// Sink receives completed records in batches. Persistence failures abort
// the run; the failed batch's entities are never marked complete, so a
// resumed run fetches and persists them again.
type Sink interface {
	Persist(ctx context.Context, results []Result) error
}

// Orchestrator partitions a market universe into batches and drives
// bounded-concurrency fetches through the adapter chain, with inter-batch
// delay, round-bounded retries and monitor-driven backoff. It owns the one
// worker pool, sized once and reused across all batches.
type Orchestrator struct {
	market    models.Market
	cfg       config.CollectorConfig
	policy    QualityPolicy
	fetcher   Fetcher
	benchmark services.BenchmarkSource
	sink      Sink

	rng *rand.Rand
}

// New creates an Orchestrator for one market.
func New(market models.Market, cfg config.CollectorConfig, policy QualityPolicy, fetcher Fetcher, benchmark services.BenchmarkSource, sink Sink) *Orchestrator {
	return &Orchestrator{
		market:    market,
		cfg:       cfg,
		policy:    policy,
		fetcher:   fetcher,
		benchmark: benchmark,
		sink:      sink,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// fetchTask is one unit of work handed to the shared pool.
type fetchTask struct {
	entity models.Entity
	out    chan<- fetchOutcome
}

type fetchOutcome struct {
	entity models.Entity
	result *models.FetchResult
	err    error
}

// runState carries the mutable bookkeeping of one Run across passes.
type runState struct {
	run          *models.CollectionRun
	ledger       *Ledger
	monitor      *services.RateLimitMonitor
	benchCloses  []float64
	quotes       map[string]*models.RawQuote
	terminal     map[string]error
	otherRetries map[string]int
	tasks        chan fetchTask
}

// retryable drops entities whose failure was terminal NO_DATA. A provider
// with no record of a symbol will not grow one during recollection.
func (st *runState) retryable(entities []models.Entity) []models.Entity {
	out := make([]models.Entity, 0, len(entities))
	for _, e := range entities {
		if services.ClassOf(st.terminal[e.Key()]) == services.FailureNoData {
			continue
		}
		out = append(out, e)
	}
	return out
}

// errRateLimited signals that the backoff schedule was exhausted; the run
// ends RATE_LIMITED, a resumable outcome rather than a fatal error.
var errRateLimited = errors.New("rate limit backoff schedule exhausted")

// Run executes one collection run over the universe. It always terminates
// with a definite status: every wait it takes has an upper bound.
func (o *Orchestrator) Run(ctx context.Context, universe []models.Entity, resume bool) (*models.CollectionRun, error) {
	log := observability.WithMarket(string(o.market))
	metrics := observability.GetMetrics()

	run := &models.CollectionRun{
		ID:           uuid.New(),
		Market:       o.market,
		TradeDate:    time.Now().UTC().Truncate(24 * time.Hour),
		Status:       models.RunStatusRunning,
		UniverseSize: len(universe),
		Resumed:      resume,
		StartedAt:    time.Now(),
	}

	ledger, err := OpenLedger(o.cfg.LedgerDir, o.market, run.TradeDate, resume)
	if err != nil {
		return run, err
	}
	defer ledger.Close()

	pending := ledger.FilterIncomplete(universe)
	if resume {
		log.Info("resuming run",
			"already_completed", len(universe)-len(pending),
			"remaining", len(pending))
	}

	st := &runState{
		run:          run,
		ledger:       ledger,
		monitor:      services.NewRateLimitMonitor(o.cfg.RateLimitThreshold, o.cfg.BackoffSchedule),
		quotes:       make(map[string]*models.RawQuote),
		terminal:     make(map[string]error),
		otherRetries: make(map[string]int),
		tasks:        make(chan fetchTask),
	}

	// Benchmark series is loaded once and shared read-only across all
	// indicator computations. Without it beta stays nil and the run
	// proceeds.
	if o.benchmark != nil {
		st.benchCloses, err = o.benchmark.DailyCloses(ctx, o.cfg.LookbackDays)
		if err != nil {
			log.Warn("benchmark series unavailable, beta will not be computed",
				"class", string(services.ClassOf(err)), "error", err)
			st.benchCloses = nil
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go o.worker(ctx, st, &wg)
	}
	defer func() {
		close(st.tasks)
		wg.Wait()
	}()

	err = o.collectPass(ctx, st, pending, o.cfg.Rounds)
	if err != nil {
		return o.finish(st, err)
	}

	report := EvaluateQuality(o.policy, universe, ledger.doneSnapshot(), st.quotes)
	if ShouldRecollect(o.policy, report) {
		log.Warn("quality gate below threshold, recollecting missing entities",
			"coverage", fmt.Sprintf("%.1f%%", report.Coverage*100),
			"missing", len(report.MissingSymbols))
		metrics.RecordRecollection(string(o.market))
		run.Recollected = true

		err = o.collectPass(ctx, st, st.retryable(MissingEntities(universe, report)), o.policy.RecollectRounds)
		if err != nil {
			return o.finish(st, err)
		}
		report = EvaluateQuality(o.policy, universe, ledger.doneSnapshot(), st.quotes)
	}
	run.Quality = report

	if report.Passed {
		run.Status = models.RunStatusDone
	} else {
		run.Status = models.RunStatusQualityFailed
		log.Error("quality gate failed",
			"coverage", fmt.Sprintf("%.1f%%", report.Coverage*100),
			"missing", len(report.MissingSymbols),
			"missing_watchlist", report.MissingWatchlist)
	}

	return o.finish(st, nil)
}

// collectPass runs up to maxRounds retry rounds over the given entities.
func (o *Orchestrator) collectPass(ctx context.Context, st *runState, pending []models.Entity, maxRounds int) error {
	log := observability.WithMarket(string(o.market))
	metrics := observability.GetMetrics()

	for round := 1; round <= maxRounds && len(pending) > 0; round++ {
		st.run.Rounds++
		if round > 1 {
			metrics.RecordRetries(string(o.market), len(pending))
			log.Info("retry round", "round", round, "entities", len(pending))
		}

		var nextRound []models.Entity
		batches := chunk(pending, o.cfg.BatchSize)
		for bi, batch := range batches {
			if ctx.Err() != nil {
				return errRateLimited
			}

			retry, err := o.runBatch(ctx, st, batch)
			if err != nil {
				return err
			}
			nextRound = append(nextRound, retry...)

			if st.monitor.ShouldBackoff() {
				wait, ok := st.monitor.NextWait()
				if !ok {
					log.Error("rate limit pressure persists past backoff cap",
						"batch_rate", fmt.Sprintf("%.0f%%", st.monitor.BatchRate()*100))
					return errRateLimited
				}
				log.Warn("rate limit pressure, backing off",
					"wait", wait,
					"batch_rate", fmt.Sprintf("%.0f%%", st.monitor.BatchRate()*100))
				metrics.RecordBackoff(string(o.market), wait)
				if sleepCtx(ctx, wait) != nil {
					return errRateLimited
				}
			}

			if bi < len(batches)-1 {
				if sleepCtx(ctx, o.cfg.BatchDelay+o.jitter()) != nil {
					return errRateLimited
				}
			}
		}

		pending = nextRound
	}

	for _, e := range pending {
		log.Warn("retry rounds exhausted, skipping entity", "symbol", e.Symbol)
	}
	st.run.Failed = len(st.terminal) + len(pending)
	return nil
}

// runBatch dispatches one batch through the shared pool and sorts the
// outcomes: successes are persisted and recorded in the ledger, failures
// are classified into retry-or-terminal.
func (o *Orchestrator) runBatch(ctx context.Context, st *runState, batch []models.Entity) (retry []models.Entity, err error) {
	log := observability.WithMarket(string(o.market))
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveBatch(string(o.market))

	st.monitor.StartBatch()

	out := make(chan fetchOutcome, len(batch))
	for _, e := range batch {
		st.tasks <- fetchTask{entity: e, out: out}
	}

	var results []Result
	var doneKeys []string
	for range batch {
		outcome := <-out

		if outcome.err == nil {
			key := outcome.entity.Key()
			st.monitor.Record("", false)
			delete(st.terminal, key)
			st.quotes[key] = outcome.result.Quote
			results = append(results, Result{
				Entity: outcome.entity,
				Quote:  outcome.result.Quote,
				Indicators: indicators.Compute(
					outcome.entity,
					outcome.result.Quote.TradeDate,
					outcome.result.History,
					st.benchCloses,
				),
			})
			doneKeys = append(doneKeys, key)
			continue
		}

		class := services.ClassOf(outcome.err)
		st.monitor.Record(class, true)
		metrics.RecordFailure(string(o.market), string(class))
		elog := observability.WithSymbol(outcome.entity.Symbol)

		switch class {
		case services.FailureNoData:
			// Terminal for the entity; retrying cannot conjure data.
			st.terminal[outcome.entity.Key()] = outcome.err
			elog.Warn("no data for entity, not retrying", "error", outcome.err)
		case services.FailureRateLimit, services.FailureTimeout:
			retry = append(retry, outcome.entity)
			elog.Debug("retryable fetch failure", "class", string(class), "error", outcome.err)
		default:
			st.otherRetries[outcome.entity.Key()]++
			if st.otherRetries[outcome.entity.Key()] <= 1 {
				retry = append(retry, outcome.entity)
				elog.Warn("unclassified fetch failure, will retry once", "error", outcome.err)
			} else {
				st.terminal[outcome.entity.Key()] = outcome.err
				elog.Warn("unclassified fetch failure, skipping entity", "error", outcome.err)
			}
		}
	}

	if len(results) > 0 {
		if err := o.sink.Persist(ctx, results); err != nil {
			log.Error("persist failed", "batch_size", len(results), "error", err)
			return nil, fmt.Errorf("failed to persist batch: %w", err)
		}
	}

	// Ledger entries follow the persist: an entity is complete only once its
	// rows are durable, otherwise a resumed run would skip it with nothing
	// in the store.
	for _, key := range doneKeys {
		if err := st.ledger.MarkDone(key); err != nil {
			return nil, fmt.Errorf("progress ledger write failed: %w", err)
		}
	}

	return retry, nil
}

// worker is one member of the shared pool. Each fetch runs under the
// bounded per-entity timeout.
func (o *Orchestrator) worker(ctx context.Context, st *runState, wg *sync.WaitGroup) {
	defer wg.Done()
	metrics := observability.GetMetrics()

	for task := range st.tasks {
		timer := metrics.NewTimer()
		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		result, err := o.fetcher.Fetch(fetchCtx, task.entity)
		cancel()

		outcome := "ok"
		if err != nil {
			outcome = string(services.ClassOf(err))
		}
		timer.ObserveFetch(string(o.market), outcome)

		task.out <- fetchOutcome{entity: task.entity, result: result, err: err}
	}
}

// finish stamps the terminal status and counters on the run.
func (o *Orchestrator) finish(st *runState, err error) (*models.CollectionRun, error) {
	run := st.run
	run.Completed = st.ledger.Count()
	run.FinishedAt = time.Now()

	if errors.Is(err, errRateLimited) {
		run.Status = models.RunStatusRateLimited
		err = nil
	}

	observability.GetMetrics().RecordRunOutcome(
		string(o.market), string(run.Status),
		run.UniverseSize, run.Completed, run.Failed, run.Rounds)

	observability.WithMarket(string(o.market)).Info("run finished",
		"status", string(run.Status),
		"universe", run.UniverseSize,
		"completed", run.Completed,
		"failed", run.Failed,
		"rounds", run.Rounds,
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	return run, err
}

func (o *Orchestrator) jitter() time.Duration {
	if o.cfg.BatchJitter <= 0 {
		return 0
	}
	return time.Duration(o.rng.Int63n(int64(o.cfg.BatchJitter)))
}

// chunk splits entities into batches of at most size.
func chunk(entities []models.Entity, size int) [][]models.Entity {
	if size <= 0 {
		size = len(entities)
	}
	var batches [][]models.Entity
	for start := 0; start < len(entities); start += size {
		end := start + size
		if end > len(entities) {
			end = len(entities)
		}
		batches = append(batches, entities[start:end])
	}
	return batches
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
