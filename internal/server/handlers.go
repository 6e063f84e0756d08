// Package server exposes HTTP handlers, including the WebSocket upgrade and
// the health check.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// ServeWS handles WebSocket upgrade requests. It validates the method and
// origin, upgrades the connection, and registers the resulting client with
// the hub, which launches the read/write pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if h.origins.isAllowed(r) {
				return true
			}
			h.log.Warn("blocked websocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)
	h.register <- client
}

// HealthHandler provides a simple health check endpoint that reports server
// status as plain text.
func (h *Hub) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "relaychat server is running!")
}
