package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// criticalItems lists items at or below their reorder point, with the
// monitor's classification attached.
func (r *Router) criticalItems(w http.ResponseWriter, req *http.Request) {
	items, err := r.store.CriticalItems(req.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load critical items")
		return
	}

	type entry struct {
		SKU               string  `json:"sku"`
		Name              string  `json:"name"`
		Stock             float64 `json:"stock"`
		ReorderPoint      float64 `json:"reorder_point"`
		Vendor            string  `json:"vendor"`
		Severity          string  `json:"severity,omitempty"`
		AlertType         string  `json:"alert_type,omitempty"`
		DaysUntilStockout float64 `json:"days_until_stockout"`
	}

	entries := make([]entry, 0, len(items))
	for _, item := range items {
		e := entry{
			SKU:               item.SKU,
			Name:              item.Name,
			Stock:             item.Stock,
			ReorderPoint:      item.ReorderPoint,
			Vendor:            item.Vendor,
			DaysUntilStockout: -1,
		}
		if cls := r.monitor.Classify(item); cls != nil {
			e.Severity = cls.Severity
			e.AlertType = cls.AlertType
			e.DaysUntilStockout = cls.DaysUntilStockout
		}
		entries = append(entries, e)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(entries),
		"items": entries,
	})
}

// listAlerts returns unacknowledged alerts, newest first.
func (r *Router) listAlerts(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	alerts, err := r.store.UnacknowledgedAlerts(req.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// acknowledgeAlert marks one alert as handled.
func (r *Router) acknowledgeAlert(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if err := r.store.AcknowledgeAlert(req.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "acknowledged",
	})
}
