// Package server wires HTTP handlers into a ServeMux for the chat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with the health check
// and WebSocket endpoints for the given hub.
func SetupRoutes(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HealthHandler)
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}
