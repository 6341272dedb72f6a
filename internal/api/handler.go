package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"market-collector/models"
	"market-collector/observability"
	"market-collector/repository"
	"market-collector/services"
)

// RunTracker holds the most recent run per market. The orchestrator updates
// it as runs progress; the ops server reads it.
type RunTracker struct {
	mu   sync.RWMutex
	runs map[models.Market]*models.CollectionRun
}

// NewRunTracker creates an empty RunTracker
func NewRunTracker() *RunTracker {
	return &RunTracker{runs: make(map[models.Market]*models.CollectionRun)}
}

// Update records the latest run for its market
func (t *RunTracker) Update(run *models.CollectionRun) {
	if run == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[run.Market] = run
}

// Latest returns the tracked runs ordered by market name
func (t *RunTracker) Latest() []*models.CollectionRun {
	t.mu.RLock()
	defer t.mu.RUnlock()

	runs := make([]*models.CollectionRun, 0, len(t.runs))
	for _, run := range t.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Market < runs[j].Market })
	return runs
}

// Handler handles ops HTTP requests
type Handler struct {
	repo    *repository.Repository
	tracker *RunTracker
}

// NewHandler creates a new Handler
func NewHandler(repo *repository.Repository, tracker *RunTracker) *Handler {
	return &Handler{repo: repo, tracker: tracker}
}

// HandleHealth returns the health status of the collector
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"services": map[string]string{
			"database": "not_configured",
		},
	}

	if h.repo != nil {
		if err := h.repo.Health(r.Context()); err == nil {
			status["services"].(map[string]string)["database"] = "connected"
		} else {
			status["services"].(map[string]string)["database"] = "disconnected"
			status["status"] = "degraded"
		}
	}

	cbStatus := services.GetGlobalRegistry().Status()
	status["circuit_breakers"] = cbStatus
	for _, cb := range cbStatus {
		if cb.State == "open" {
			status["status"] = "degraded"
			break
		}
	}

	h.jsonResponse(w, status)
}

// HandleLatestRuns returns the most recent run per market
func (h *Handler) HandleLatestRuns(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]interface{}{
		"runs": h.tracker.Latest(),
	})
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		observability.Error("failed to encode response", "error", err)
	}
}
