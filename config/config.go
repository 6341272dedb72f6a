package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// External provider configurations
	Alpaca      AlpacaConfig
	QuoteBoard  QuoteBoardConfig
	ProfileFeed ProfileFeedConfig
	IndexFeed   IndexFeedConfig

	// Collection configuration
	Collector CollectorConfig

	// Quality gate configuration
	Quality QualityConfig

	// Archive configuration
	Archive ArchiveConfig

	// Ops HTTP configuration
	Ops OpsConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// AlpacaConfig holds Alpaca market data API configuration
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// QuoteBoardConfig holds the primary quote/fundamentals API configuration
type QuoteBoardConfig struct {
	APIKey  string
	BaseURL string
}

// ProfileFeedConfig holds the secondary profile API configuration
type ProfileFeedConfig struct {
	APIKey  string
	BaseURL string
}

// IndexFeedConfig holds the benchmark index series configuration
type IndexFeedConfig struct {
	BaseURL string
	Symbol  string
}

// CollectorConfig holds every orchestrator tunable. It is passed into the
// orchestrator at construction; there are no package-level knobs.
type CollectorConfig struct {
	BatchSize          int
	Workers            int
	Rounds             int
	BatchDelay         time.Duration
	BatchJitter        time.Duration
	LookbackDays       int
	FetchTimeout       time.Duration
	RateLimitThreshold float64
	BackoffSchedule    []time.Duration
	LedgerDir          string
}

// QualityConfig holds quality gate thresholds
type QualityConfig struct {
	CoverageThreshold   float64
	FieldRatioThreshold float64
	RecollectCap        int
	RecollectRounds     int
}

// ArchiveConfig holds the versioned file archive configuration
type ArchiveConfig struct {
	Root string
}

// OpsConfig holds the ops HTTP server configuration
type OpsConfig struct {
	Addr string
}

// DefaultBackoffSchedule is the escalation applied under sustained
// rate-limit pressure. The last entry is the cap.
var DefaultBackoffSchedule = []time.Duration{
	1 * time.Minute,
	2 * time.Minute,
	3 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Alpaca: AlpacaConfig{
			APIKey:    os.Getenv("ALPACA_API_KEY"),
			APISecret: os.Getenv("ALPACA_API_SECRET"),
			BaseURL:   getEnvString("ALPACA_BASE_URL", "https://data.alpaca.markets"),
		},
		QuoteBoard: QuoteBoardConfig{
			APIKey:  os.Getenv("QUOTEBOARD_API_KEY"),
			BaseURL: getEnvString("QUOTEBOARD_BASE_URL", "https://api.quoteboard.io/v1"),
		},
		ProfileFeed: ProfileFeedConfig{
			APIKey:  os.Getenv("PROFILEFEED_API_KEY"),
			BaseURL: getEnvString("PROFILEFEED_BASE_URL", "https://api.profilefeed.io/v3"),
		},
		IndexFeed: IndexFeedConfig{
			BaseURL: getEnvString("INDEXFEED_BASE_URL", "https://api.quoteboard.io/v1"),
			Symbol:  getEnvString("BENCHMARK_SYMBOL", "SPY"),
		},
		Collector: CollectorConfig{
			BatchSize:          getEnvInt("COLLECTOR_BATCH_SIZE", 50),
			Workers:            getEnvInt("COLLECTOR_WORKERS", 8),
			Rounds:             getEnvInt("COLLECTOR_ROUNDS", 10),
			BatchDelay:         getEnvDuration("COLLECTOR_BATCH_DELAY", 2*time.Second),
			BatchJitter:        getEnvDuration("COLLECTOR_BATCH_JITTER", 1*time.Second),
			LookbackDays:       getEnvInt("COLLECTOR_LOOKBACK_DAYS", 210),
			FetchTimeout:       getEnvDuration("COLLECTOR_FETCH_TIMEOUT", 20*time.Second),
			RateLimitThreshold: getEnvFloat("COLLECTOR_RATE_LIMIT_THRESHOLD", 0.3),
			BackoffSchedule:    getEnvDurations("COLLECTOR_BACKOFF_SCHEDULE", DefaultBackoffSchedule),
			LedgerDir:          getEnvString("COLLECTOR_LEDGER_DIR", "state"),
		},
		Quality: QualityConfig{
			CoverageThreshold:   getEnvFloat("QUALITY_COVERAGE_THRESHOLD", 0.95),
			FieldRatioThreshold: getEnvFloat("QUALITY_FIELD_RATIO_THRESHOLD", 0.90),
			RecollectCap:        getEnvInt("QUALITY_RECOLLECT_CAP", 100),
			RecollectRounds:     getEnvInt("QUALITY_RECOLLECT_ROUNDS", 2),
		},
		Archive: ArchiveConfig{
			Root: getEnvString("ARCHIVE_ROOT", "archive_data"),
		},
		Ops: OpsConfig{
			Addr: getEnvString("OPS_ADDR", ":9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Collector.BatchSize <= 0 {
		return fmt.Errorf("COLLECTOR_BATCH_SIZE must be positive, got %d", c.Collector.BatchSize)
	}
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("COLLECTOR_WORKERS must be positive, got %d", c.Collector.Workers)
	}
	if c.Collector.Rounds <= 0 {
		return fmt.Errorf("COLLECTOR_ROUNDS must be positive, got %d", c.Collector.Rounds)
	}
	if c.Collector.LookbackDays <= 0 {
		return fmt.Errorf("COLLECTOR_LOOKBACK_DAYS must be positive, got %d", c.Collector.LookbackDays)
	}
	if c.Collector.RateLimitThreshold <= 0 || c.Collector.RateLimitThreshold > 1 {
		return fmt.Errorf("COLLECTOR_RATE_LIMIT_THRESHOLD must be in (0,1], got %.2f", c.Collector.RateLimitThreshold)
	}
	if len(c.Collector.BackoffSchedule) == 0 {
		return fmt.Errorf("COLLECTOR_BACKOFF_SCHEDULE must not be empty")
	}
	for i := 1; i < len(c.Collector.BackoffSchedule); i++ {
		if c.Collector.BackoffSchedule[i] < c.Collector.BackoffSchedule[i-1] {
			return fmt.Errorf("COLLECTOR_BACKOFF_SCHEDULE must be non-decreasing")
		}
	}
	if c.Quality.CoverageThreshold <= 0 || c.Quality.CoverageThreshold > 1 {
		return fmt.Errorf("QUALITY_COVERAGE_THRESHOLD must be in (0,1], got %.2f", c.Quality.CoverageThreshold)
	}
	if c.Quality.RecollectCap < 0 {
		return fmt.Errorf("QUALITY_RECOLLECT_CAP must not be negative, got %d", c.Quality.RecollectCap)
	}
	return nil
}

// HasDatabase returns true if database configuration is available
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// HasAlpaca returns true if Alpaca credentials are available
func (c *Config) HasAlpaca() bool {
	return c.Alpaca.APIKey != "" && c.Alpaca.APISecret != ""
}

// getEnvString returns the environment variable value or a default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

// getEnvFloat returns the environment variable as a float64 or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// getEnvDuration returns the environment variable as a duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvDurations parses a comma-separated duration list (e.g. "1m,2m,5m")
func getEnvDurations(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	return out
}
