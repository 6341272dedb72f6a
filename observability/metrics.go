package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the collector
type Metrics struct {
	// Fetch metrics
	FetchesTotal    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	FailuresTotal   *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	BatchDuration   *prometheus.HistogramVec
	BackoffDuration *prometheus.HistogramVec

	// Run metrics
	RunCoverage  *prometheus.GaugeVec
	RunEntities  *prometheus.GaugeVec
	RunOutcomes  *prometheus.CounterVec
	RunRounds    *prometheus.GaugeVec
	Recollection *prometheus.CounterVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryTotal    *prometheus.CounterVec
	DBErrorsTotal   *prometheus.CounterVec

	// Archive metrics
	ArchiveWriteDuration *prometheus.HistogramVec
	ArchiveRowsTotal     *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// backoffBuckets cover the configured backoff schedule (seconds)
var backoffBuckets = []float64{1, 5, 15, 30, 60, 120, 180, 300, 600}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "fetch",
				Name:      "entities_total",
				Help:      "Total number of per-entity fetch attempts",
			},
			[]string{"market", "outcome"},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collector",
				Subsystem: "fetch",
				Name:      "duration_seconds",
				Help:      "Duration of per-entity fetches in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"market"},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "fetch",
				Name:      "failures_total",
				Help:      "Total number of classified fetch failures",
			},
			[]string{"market", "class"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "fetch",
				Name:      "retries_total",
				Help:      "Total number of entities carried into a retry round",
			},
			[]string{"market"},
		),
		BatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collector",
				Subsystem: "fetch",
				Name:      "batch_duration_seconds",
				Help:      "Duration of fetch batches in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"market"},
		),
		BackoffDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collector",
				Subsystem: "fetch",
				Name:      "backoff_seconds",
				Help:      "Backoff waits applied after rate-limit pressure",
				Buckets:   backoffBuckets,
			},
			[]string{"market"},
		),

		RunCoverage: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "collector",
				Subsystem: "run",
				Name:      "coverage_ratio",
				Help:      "Collected entities over universe size for the last run",
			},
			[]string{"market"},
		),
		RunEntities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "collector",
				Subsystem: "run",
				Name:      "entities",
				Help:      "Entity counts for the last run",
			},
			[]string{"market", "state"},
		),
		RunOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "run",
				Name:      "outcomes_total",
				Help:      "Total number of runs by terminal status",
			},
			[]string{"market", "status"},
		),
		RunRounds: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "collector",
				Subsystem: "run",
				Name:      "rounds",
				Help:      "Retry rounds used by the last run",
			},
			[]string{"market"},
		),
		Recollection: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "run",
				Name:      "recollections_total",
				Help:      "Total number of quality-gated recollection passes",
			},
			[]string{"market"},
		),

		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"provider", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"provider", "operation", "class"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collector",
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"provider", "operation"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collector",
				Subsystem: "database",
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"operation", "table"},
		),
		DBQueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "database",
				Name:      "queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "database",
				Name:      "errors_total",
				Help:      "Total number of database errors",
			},
			[]string{"operation", "table"},
		),

		ArchiveWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "collector",
				Subsystem: "archive",
				Name:      "write_duration_seconds",
				Help:      "Duration of archive file writes in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"market", "file"},
		),
		ArchiveRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "archive",
				Name:      "rows_total",
				Help:      "Total number of rows written to the archive",
			},
			[]string{"market", "file"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "collector",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"provider"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "collector",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"provider"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// SetMetrics overrides the global metrics instance (useful for testing with
// an isolated registry)
func SetMetrics(m *Metrics) {
	globalMetrics = m
}

// RecordFetch records a per-entity fetch outcome
func (m *Metrics) RecordFetch(market, outcome string, duration time.Duration) {
	m.FetchesTotal.WithLabelValues(market, outcome).Inc()
	m.FetchDuration.WithLabelValues(market).Observe(duration.Seconds())
}

// RecordFailure records a classified fetch failure
func (m *Metrics) RecordFailure(market, class string) {
	m.FailuresTotal.WithLabelValues(market, class).Inc()
}

// RecordRetries records entities carried into another round
func (m *Metrics) RecordRetries(market string, count int) {
	m.RetriesTotal.WithLabelValues(market).Add(float64(count))
}

// RecordBatch records a completed fetch batch
func (m *Metrics) RecordBatch(market string, duration time.Duration) {
	m.BatchDuration.WithLabelValues(market).Observe(duration.Seconds())
}

// RecordBackoff records an applied backoff wait
func (m *Metrics) RecordBackoff(market string, wait time.Duration) {
	m.BackoffDuration.WithLabelValues(market).Observe(wait.Seconds())
}

// RecordRunOutcome records the terminal status and counters of a run
func (m *Metrics) RecordRunOutcome(market, status string, universe, completed, failed, rounds int) {
	m.RunOutcomes.WithLabelValues(market, status).Inc()
	m.RunEntities.WithLabelValues(market, "completed").Set(float64(completed))
	m.RunEntities.WithLabelValues(market, "failed").Set(float64(failed))
	m.RunRounds.WithLabelValues(market).Set(float64(rounds))
	if universe > 0 {
		m.RunCoverage.WithLabelValues(market).Set(float64(completed) / float64(universe))
	}
}

// RecordRecollection records a quality-gated recollection pass
func (m *Metrics) RecordRecollection(market string) {
	m.Recollection.WithLabelValues(market).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(provider, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(provider, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(provider, operation, class string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(provider, operation, class).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(provider, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordDBQuery records a database query
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueryTotal.WithLabelValues(operation, table).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError records a database error
func (m *Metrics) RecordDBError(operation, table string) {
	m.DBErrorsTotal.WithLabelValues(operation, table).Inc()
}

// RecordArchiveWrite records an archive file write
func (m *Metrics) RecordArchiveWrite(market, file string, rows int, duration time.Duration) {
	m.ArchiveWriteDuration.WithLabelValues(market, file).Observe(duration.Seconds())
	m.ArchiveRowsTotal.WithLabelValues(market, file).Add(float64(rows))
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(provider string, state int) {
	m.CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(provider string) {
	m.CircuitBreakerTrips.WithLabelValues(provider).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveFetch records the fetch duration and outcome
func (t *Timer) ObserveFetch(market, outcome string) {
	t.metrics.RecordFetch(market, outcome, time.Since(t.start))
}

// ObserveBatch records the batch duration
func (t *Timer) ObserveBatch(market string) {
	t.metrics.RecordBatch(market, time.Since(t.start))
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(provider, operation string) {
	t.metrics.RecordExternalAPIDuration(provider, operation, time.Since(t.start))
}

// ObserveDB records the database query duration
func (t *Timer) ObserveDB(operation, table string) {
	t.metrics.RecordDBQuery(operation, table, time.Since(t.start))
}

// ObserveArchive records an archive write duration
func (t *Timer) ObserveArchive(market, file string, rows int) {
	t.metrics.RecordArchiveWrite(market, file, rows, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
