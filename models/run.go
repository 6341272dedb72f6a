package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal (or in-flight) state of a collection run.
type RunStatus string

const (
	RunStatusRunning       RunStatus = "RUNNING"
	RunStatusRateLimited   RunStatus = "RATE_LIMITED"
	RunStatusQualityFailed RunStatus = "QUALITY_FAILED"
	RunStatusDone          RunStatus = "DONE"
)

// ExitCode maps a run outcome to the process exit code contract:
// 0 success, 1 generic/quality failure, 2 rate-limited (resumable).
func (s RunStatus) ExitCode() int {
	switch s {
	case RunStatusDone:
		return 0
	case RunStatusRateLimited:
		return 2
	default:
		return 1
	}
}

// Resumable reports whether a terminated run can be restarted with --resume.
func (s RunStatus) Resumable() bool {
	return s == RunStatusRateLimited || s == RunStatusRunning
}

// CollectionRun is one pipeline invocation for a market.
type CollectionRun struct {
	ID             uuid.UUID `json:"id"`
	Market         Market    `json:"market"`
	TradeDate      time.Time `json:"trade_date"`
	Status         RunStatus `json:"status"`
	UniverseSize   int       `json:"universe_size"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	Rounds         int       `json:"rounds"`
	Recollected    bool      `json:"recollected"`
	ArchiveVersion int       `json:"archive_version"`
	Resumed        bool      `json:"resumed"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`

	Quality *QualityReport `json:"quality,omitempty"`
}

// QualityReport summarizes post-run coverage checks.
type QualityReport struct {
	UniverseSize     int                `json:"universe_size"`
	Collected        int                `json:"collected"`
	Coverage         float64            `json:"coverage"`
	MissingSymbols   []string           `json:"missing_symbols,omitempty"`
	MissingWatchlist []string           `json:"missing_watchlist,omitempty"`
	FieldCompletion  map[string]float64 `json:"field_completion,omitempty"`
	Passed           bool               `json:"passed"`
}

// ProgressRecord marks one entity completed within a run. It exists as an
// on-disk contract (one key per ledger line) more than as an in-memory type.
type ProgressRecord struct {
	RunID     uuid.UUID `json:"run_id"`
	EntityKey string    `json:"entity_key"`
	Completed bool      `json:"completed"`
}
