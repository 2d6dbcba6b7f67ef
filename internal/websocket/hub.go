// Package websocket pushes alerts to connected dashboard clients.
package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/invhub/stocksync/internal/models"
)

// Hub maintains the set of subscribed clients and fans alerts out to them.
type Hub struct {
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound payloads for every connected client
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.Printf("📱 Alert subscriber connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
				log.Printf("📴 Alert subscriber disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case payload := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Buffer full or client dead; drop the payload for
					// this client rather than blocking the hub.
					log.Printf("⚠️ Dropping alert payload for slow subscriber %s", id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// alertEnvelope is the wire shape pushed to subscribers.
type alertEnvelope struct {
	Type  string       `json:"type"`
	Alert models.Alert `json:"alert"`
}

// Deliver broadcasts one alert to every subscriber. Implements the
// monitor's sink.
func (h *Hub) Deliver(alert models.Alert) {
	payload, err := json.Marshal(alertEnvelope{Type: "alert", Alert: alert})
	if err != nil {
		log.Printf("Error marshaling alert: %v", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		log.Printf("⚠️ Alert broadcast queue full, dropping alert %s", alert.ID)
	}
}

// SubscriberCount returns the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
