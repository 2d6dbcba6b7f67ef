package handlers

import (
	"net/http"

	"github.com/invhub/stocksync/internal/config"
)

// scheduleStatus reports channel state and the current recommendation.
func (r *Router) scheduleStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.scheduler.Status(req.Context()))
}

// scheduleReload re-reads the schedule configuration and restarts the
// channel loops.
func (r *Router) scheduleReload(w http.ResponseWriter, req *http.Request) {
	cfg := config.LoadScheduleConfig()
	if err := r.scheduler.Reload(cfg); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
