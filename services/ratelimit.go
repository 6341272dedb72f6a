package services

import (
	"sync"
	"time"
)

// RateLimitMonitor watches the rolling per-batch fraction of rate-limit
// failures and escalates backoff through a fixed wait schedule. The
// escalation level is sticky: pressure that keeps returning walks further up
// the schedule instead of restarting it, so the total time a run can spend
// waiting is bounded by the schedule's sum.
type RateLimitMonitor struct {
	mu        sync.Mutex
	threshold float64
	schedule  []time.Duration

	level        int
	batchTotal   int
	batchLimited int
}

// NewRateLimitMonitor creates a monitor. threshold is the batch rate-limit
// fraction that triggers a backoff; schedule is the non-decreasing list of
// waits, consumed once each.
func NewRateLimitMonitor(threshold float64, schedule []time.Duration) *RateLimitMonitor {
	return &RateLimitMonitor{
		threshold: threshold,
		schedule:  schedule,
	}
}

// StartBatch resets the per-batch counters.
func (m *RateLimitMonitor) StartBatch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchTotal = 0
	m.batchLimited = 0
}

// Record tallies one fetch outcome into the current batch.
func (m *RateLimitMonitor) Record(class FailureClass, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchTotal++
	if failed && class == FailureRateLimit {
		m.batchLimited++
	}
}

// BatchRate returns the rate-limit fraction of the current batch.
func (m *RateLimitMonitor) BatchRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchTotal == 0 {
		return 0
	}
	return float64(m.batchLimited) / float64(m.batchTotal)
}

// ShouldBackoff reports whether the current batch crossed the threshold.
func (m *RateLimitMonitor) ShouldBackoff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchTotal == 0 {
		return false
	}
	return float64(m.batchLimited)/float64(m.batchTotal) >= m.threshold
}

// NextWait consumes the next schedule entry. ok is false once the schedule
// is exhausted, which the orchestrator treats as a rate-limited run.
func (m *RateLimitMonitor) NextWait() (wait time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.level >= len(m.schedule) {
		return 0, false
	}
	wait = m.schedule[m.level]
	m.level++
	return wait, true
}

// Level returns how far up the schedule the monitor has escalated.
func (m *RateLimitMonitor) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}
