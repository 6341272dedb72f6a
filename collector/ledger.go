package collector

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"market-collector/models"
)

// Ledger is the durable per-run progress record: an append-only file with
// one completed entity key per line. It is flushed after every entity, so a
// crash loses at most the one in-flight entity. Appends may arrive from any
// worker and are serialized behind a mutex.
type Ledger struct {
	mu   sync.Mutex
	file *os.File
	path string
	done map[string]struct{}
}

// LedgerPath returns the on-disk location for a (market, trading date)
// ledger. The plain-text list of completed entity keys is a contract other
// tooling reads.
func LedgerPath(dir string, market models.Market, date time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("progress_%s_%s.log", market, date.Format("2006-01-02")))
}

// OpenLedger opens the ledger for a run. A fresh (non-resumed) run truncates
// any prior ledger for the trading date; a resumed run loads prior completed
// keys so the universe can be filtered before round 1.
func OpenLedger(dir string, market models.Market, date time.Time, resume bool) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir %s: %w", dir, err)
	}

	path := LedgerPath(dir, market, date)
	done := make(map[string]struct{})

	if resume {
		if err := loadKeys(path, done); err != nil {
			return nil, err
		}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !resume {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	return &Ledger{file: file, path: path, done: done}, nil
}

func loadKeys(path string, done map[string]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key != "" {
			done[key] = struct{}{}
		}
	}
	return scanner.Err()
}

// MarkDone records an entity as completed and syncs the line to disk before
// returning. Recording the same entity twice is a no-op.
func (l *Ledger) MarkDone(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.done[key]; ok {
		return nil
	}
	if _, err := fmt.Fprintln(l.file, key); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	l.done[key] = struct{}{}
	return nil
}

// Done reports whether an entity was already completed.
func (l *Ledger) Done(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[key]
	return ok
}

// Count returns the number of completed entities, including ones loaded
// from a prior interrupted run.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// doneSnapshot returns a copy of the completed set.
func (l *Ledger) doneSnapshot() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make(map[string]bool, len(l.done))
	for k := range l.done {
		snapshot[k] = true
	}
	return snapshot
}

// FilterIncomplete returns the subset of the universe not yet completed.
func (l *Ledger) FilterIncomplete(universe []models.Entity) []models.Entity {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make([]models.Entity, 0, len(universe))
	for _, e := range universe {
		if _, ok := l.done[e.Key()]; !ok {
			pending = append(pending, e)
		}
	}
	return pending
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
