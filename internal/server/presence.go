// Package server implements the presence side of the protocol: binding
// identified connections into the registry, persisting online/offline
// status, and broadcasting presence transitions.
package server

import (
	"github.com/relaychat/server/internal/protocol"
	"github.com/relaychat/server/internal/store"
)

// handleIdentify binds the connection to the user and announces the
// transition. Re-identification on an already-bound connection simply
// rebinds; there is no "already identified" error state.
func (h *Hub) handleIdentify(c *Client, payload protocol.IdentifyPayload) {
	userID := payload.UserID

	// A connection re-identifying under a new id must not leave a stale
	// entry behind: no two live entries may share a connection instance.
	// If this connection was still canonical for the old identity, that
	// identity goes offline exactly as it would on close.
	if previous := c.User(); previous != "" && previous != userID {
		if h.registry.Unbind(previous, c) {
			if err := h.store.SetUserStatus(previous, store.UserOffline); err != nil {
				h.log.Warn("persisting offline status failed", "userId", previous, "error", err)
			}
			h.broadcastPresence(previous, protocol.PresenceOffline, c)
		}
	}

	h.registry.Bind(userID, c)
	c.setUser(userID)

	// The in-memory registry is authoritative for real-time behavior, so a
	// failed status write is logged and dropped rather than surfaced.
	if err := h.store.SetUserStatus(userID, store.UserOnline); err != nil {
		h.log.Warn("persisting online status failed", "userId", userID, "error", err)
	}

	c.push(protocol.PresenceList(h.registry.ListOnline()))

	h.flushUndelivered(userID, c)

	h.broadcastPresence(userID, protocol.PresenceOnline, c)

	c.push(protocol.Identified(userID))

	h.log.Info("connection identified", "userId", userID, "addr", c.addr)
}

// handleClose runs the presence cleanup for a connection leaving the
// tracked set. A connection that never identified produces no presence
// event.
func (h *Hub) handleClose(c *Client) {
	userID := c.User()
	if userID == "" {
		return
	}

	// If a later bind for the same user superseded this connection, the
	// user is still online elsewhere: leave the registry, the persisted
	// status, and the other connections untouched.
	if !h.registry.Unbind(userID, c) {
		h.log.Debug("closed connection was already superseded", "userId", userID, "addr", c.addr)
		return
	}

	if err := h.store.SetUserStatus(userID, store.UserOffline); err != nil {
		h.log.Warn("persisting offline status failed", "userId", userID, "error", err)
	}

	h.broadcastPresence(userID, protocol.PresenceOffline, c)

	h.log.Info("user went offline", "userId", userID, "addr", c.addr)
}

// broadcastPresence pushes a presence transition to every bound connection
// except the one it concerns. Push failures are the normal best-effort case
// and are not reported.
func (h *Hub) broadcastPresence(userID, status string, exclude *Client) {
	frame := protocol.Presence(userID, status)
	for boundUser, client := range h.registry.snapshot() {
		if client == exclude || boundUser == userID {
			continue
		}
		if !client.push(frame) {
			h.log.Debug("presence push failed", "to", boundUser, "about", userID)
		}
	}
}
