// Package handlers is the HTTP control surface: manual sync triggers,
// status and history queries, schedule control, and the alert feed.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/invhub/stocksync/internal/buildinfo"
	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/monitor"
	"github.com/invhub/stocksync/internal/scheduler"
	"github.com/invhub/stocksync/internal/store"
	ws "github.com/invhub/stocksync/internal/websocket"
)

// Router wraps the mux router and the sync collaborators
type Router struct {
	*mux.Router
	store     store.Store
	executor  *engine.Executor
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	hub       *ws.Hub
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(st store.Store, executor *engine.Executor, sched *scheduler.Scheduler, mon *monitor.Monitor, hub *ws.Hub) *Router {
	r := &Router{
		Router:    mux.NewRouter(),
		store:     st,
		executor:  executor,
		scheduler: sched,
		monitor:   mon,
		hub:       hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")
	r.HandleFunc("/api/health", r.healthCheck).Methods("GET")

	// Sync control endpoints
	sync := r.PathPrefix("/api/sync").Subrouter()
	sync.HandleFunc("/run/{strategy}", r.runSync).Methods("POST")
	sync.HandleFunc("/status", r.syncStatus).Methods("GET")
	sync.HandleFunc("/history", r.syncHistory).Methods("GET")

	// Schedule endpoints
	schedule := r.PathPrefix("/api/schedule").Subrouter()
	schedule.HandleFunc("/status", r.scheduleStatus).Methods("GET")
	schedule.HandleFunc("/reload", r.scheduleReload).Methods("POST")

	// Monitor and alert endpoints
	r.HandleFunc("/api/monitor/critical", r.criticalItems).Methods("GET")
	alerts := r.PathPrefix("/api/alerts").Subrouter()
	alerts.HandleFunc("", r.listAlerts).Methods("GET")
	alerts.HandleFunc("/{id}/acknowledge", r.acknowledgeAlert).Methods("POST")

	// Live alert feed
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"build":       buildinfo.Summary(),
		"started_at":  buildinfo.StartTime,
		"subscribers": r.hub.SubscriberCount(),
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
