package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-collector/archive"
	"market-collector/collector"
	"market-collector/config"
	"market-collector/internal/api"
	"market-collector/models"
	"market-collector/observability"
	"market-collector/repository"
	"market-collector/services"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: collector collect <nyse|nasdaq|all> [flags]

Flags:
  -resume            continue an interrupted run for today's trade date
  -limit N           collect only the first N entities of each universe
  -batch-size N      override the configured batch size
  -delay D           override the configured inter-batch delay
  -workers N         override the configured worker count
  -rounds N          override the configured retry rounds
  -no-db             skip all database writes
  -archive-dir DIR   override the archive root directory
  -ops-addr ADDR     override the ops HTTP listen address
  -markets-file PATH markets configuration file (default "markets.yaml")`)
}

func run(args []string) int {
	if len(args) < 2 || args[0] != "collect" {
		usage()
		return 1
	}
	target := args[1]

	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	resume := fs.Bool("resume", false, "continue an interrupted run")
	limit := fs.Int("limit", 0, "collect only the first N entities")
	batchSize := fs.Int("batch-size", 0, "override batch size")
	delay := fs.Duration("delay", 0, "override inter-batch delay")
	workers := fs.Int("workers", 0, "override worker count")
	rounds := fs.Int("rounds", 0, "override retry rounds")
	noDB := fs.Bool("no-db", false, "skip database writes")
	archiveDir := fs.String("archive-dir", "", "override archive root")
	opsAddr := fs.String("ops-addr", "", "override ops HTTP address")
	marketsFile := fs.String("markets-file", "markets.yaml", "markets configuration file")
	if err := fs.Parse(args[2:]); err != nil {
		return 1
	}

	observability.InitLogger(os.Getenv("APP_ENV") == "production")
	observability.InitMetrics()

	cfg, err := config.Load()
	if err != nil {
		observability.Error("invalid configuration", "error", err)
		return 1
	}
	if *batchSize > 0 {
		cfg.Collector.BatchSize = *batchSize
	}
	if *delay > 0 {
		cfg.Collector.BatchDelay = *delay
	}
	if *workers > 0 {
		cfg.Collector.Workers = *workers
	}
	if *rounds > 0 {
		cfg.Collector.Rounds = *rounds
	}
	if *archiveDir != "" {
		cfg.Archive.Root = *archiveDir
	}
	if *opsAddr != "" {
		cfg.Ops.Addr = *opsAddr
	}

	mf, err := config.LoadMarkets(*marketsFile)
	if err != nil {
		observability.Error("failed to load markets file", "error", err)
		return 1
	}
	targets, err := resolveTargets(mf, target)
	if err != nil {
		observability.Error("invalid market", "error", err)
		usage()
		return 1
	}

	// SIGINT/SIGTERM cancel the run context; the orchestrator winds down at
	// the next batch boundary and the run stays resumable.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repo *repository.Repository
	if !*noDB && cfg.HasDatabase() {
		repo, err = repository.NewRepository(ctx, cfg.Database.URL)
		if err != nil {
			observability.Error("failed to connect to database", "error", err)
			return 1
		}
		defer repo.Close()
	} else {
		observability.Warn("running without database, rows go to the archive only")
	}

	tracker := api.NewRunTracker()
	opsServer := startOpsServer(cfg.Ops.Addr, repo, tracker)
	defer stopOpsServer(opsServer)

	if !cfg.HasAlpaca() {
		observability.Error("ALPACA_API_KEY and ALPACA_API_SECRET are required")
		return 1
	}

	chain := services.NewChain(
		services.NewAlpacaAdapter(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Collector.LookbackDays),
		services.NewQuoteBoardAdapter(cfg.QuoteBoard.APIKey, cfg.QuoteBoard.BaseURL, cfg.Collector.FetchTimeout),
		services.NewProfileFeedAdapter(cfg.ProfileFeed.APIKey, cfg.ProfileFeed.BaseURL, cfg.Collector.FetchTimeout),
	)

	benchmarkSymbol := cfg.IndexFeed.Symbol
	if mf.BenchmarkSymbol != "" {
		benchmarkSymbol = mf.BenchmarkSymbol
	}
	benchmark := services.NewIndexFeed(cfg.QuoteBoard.APIKey, cfg.IndexFeed.BaseURL, benchmarkSymbol, cfg.Collector.FetchTimeout)

	policy := collector.QualityPolicy{
		CoverageThreshold:   cfg.Quality.CoverageThreshold,
		FieldRatioThreshold: cfg.Quality.FieldRatioThreshold,
		RecollectCap:        cfg.Quality.RecollectCap,
		RecollectRounds:     cfg.Quality.RecollectRounds,
		Watchlist:           mf.Watchlist,
	}
	arch := archive.New(cfg.Archive.Root)

	exitCode := 0
	for _, mc := range targets {
		market := models.Market(mc.Name)

		universe, err := collector.LoadUniverse(mc.UniverseFile, market)
		if err != nil {
			observability.WithMarket(mc.Name).Error("failed to load universe", "error", err)
			exitCode = worse(exitCode, 1)
			continue
		}
		if *limit > 0 && len(universe) > *limit {
			universe = universe[:*limit]
		}

		if repo != nil {
			if err := repo.UpsertEntities(ctx, universe); err != nil {
				observability.WithMarket(mc.Name).Error("failed to refresh entity table", "error", err)
				exitCode = worse(exitCode, 1)
				continue
			}
		}

		sink := newPersistSink(repo)
		orch := collector.New(market, cfg.Collector, policy, chain, benchmark, sink)

		runResult, err := orch.Run(ctx, universe, *resume)
		tracker.Update(runResult)
		sink.Finalize(context.WithoutCancel(ctx), runResult, arch)
		if err != nil {
			observability.WithMarket(mc.Name).Error("run aborted", "error", err)
			exitCode = worse(exitCode, 1)
			continue
		}
		exitCode = worse(exitCode, runResult.Status.ExitCode())

		if ctx.Err() != nil {
			break
		}
	}

	return exitCode
}

// resolveTargets maps the CLI market argument to configured markets.
func resolveTargets(mf *config.MarketsFile, target string) ([]config.MarketConfig, error) {
	if target == "all" {
		return mf.Markets, nil
	}
	market, err := models.ParseMarket(target)
	if err != nil {
		return nil, err
	}
	mc, ok := mf.Market(market)
	if !ok {
		return nil, fmt.Errorf("market %q not present in markets file", target)
	}
	return []config.MarketConfig{mc}, nil
}

// worse keeps the most severe exit code seen across markets. Rate-limited
// (2) outranks generic failure (1): it tells the operator to resume.
func worse(current, next int) int {
	if next == 2 || current == 2 {
		return 2
	}
	if next > current {
		return next
	}
	return current
}

func startOpsServer(addr string, repo *repository.Repository, tracker *api.RunTracker) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(api.NewHandler(repo, tracker)),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.Error("ops server failed", "addr", addr, "error", err)
		}
	}()
	observability.Info("ops server listening", "addr", addr)
	return srv
}

func stopOpsServer(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		observability.Warn("ops server shutdown", "error", err)
	}
}
