package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/syncerr"
)

var validStrategies = map[string]bool{
	models.StrategyFull:      true,
	models.StrategyInventory: true,
	models.StrategyCritical:  true,
	models.StrategyActive:    true,
	models.StrategySmart:     true,
}

// runSync triggers one sync run. Query parameters: dry_run, force,
// batch_size, filter_year.
func (r *Router) runSync(w http.ResponseWriter, req *http.Request) {
	strategy := mux.Vars(req)["strategy"]
	if !validStrategies[strategy] {
		respondError(w, http.StatusBadRequest, "unknown strategy: "+strategy)
		return
	}

	opts := engine.RunOptions{
		Strategy: strategy,
		DryRun:   req.URL.Query().Get("dry_run") == "true",
		Force:    req.URL.Query().Get("force") == "true",
	}
	if v := req.URL.Query().Get("batch_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.BatchSize = n
		}
	}
	if v := req.URL.Query().Get("filter_year"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.FilterYear = n
		}
	}

	result, err := r.executor.Run(req.Context(), opts)
	if err != nil {
		var busy *syncerr.ConcurrencyError
		if errors.As(err, &busy) {
			respondError(w, http.StatusConflict, busy.Error())
			return
		}
		if result != nil {
			// Terminal error run; the log entry carries the details.
			respondJSON(w, http.StatusOK, result)
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// syncStatus reports whether a sync is running plus the last completed run.
func (r *Router) syncStatus(w http.ResponseWriter, req *http.Request) {
	running, err := r.store.RunningSyncLog(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read sync state")
		return
	}
	last, err := r.store.LastCompletedSyncLog(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read sync state")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"in_progress": running != nil,
		"running":     running,
		"last":        last,
	})
}

// syncHistory returns recent sync runs, newest first.
func (r *Router) syncHistory(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	logs, err := r.store.RecentSyncLogs(req.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read sync history")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(logs),
		"history": logs,
	})
}
