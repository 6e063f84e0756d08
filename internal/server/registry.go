// Package server tracks which logical user owns which live connection via
// the Registry type.
package server

import (
	"sync"

	"github.com/samber/lo"
)

// Registry is the in-memory mapping from user identity to the single
// canonical connection for that user. Binding is last-bind-wins: a later
// bind for the same user silently replaces the earlier entry, and the
// superseded connection stays open but unreachable through the registry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Client)}
}

// Bind associates the user with the client, overwriting any prior entry for
// that user. It never fails.
func (r *Registry) Bind(userID string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = client
}

// Unbind removes the user's entry only if this client still holds it. A
// client superseded by a later bind must not remove the newer binding, so
// the call reports whether an entry was actually removed.
func (r *Registry) Unbind(userID string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bound, exists := r.byUser[userID]
	if !exists || bound != client {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Lookup returns the live connection bound to the user, if any.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, exists := r.byUser[userID]
	return client, exists
}

// IsOnline reports whether the user has a bound connection that is still
// writable.
func (r *Registry) IsOnline(userID string) bool {
	client, exists := r.Lookup(userID)
	return exists && client.isOpen()
}

// ListOnline returns a snapshot of the currently bound user identities.
// Order is unspecified.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser)
}

// snapshot copies the current bindings so callers can iterate without
// holding the registry lock while pushing frames.
func (r *Registry) snapshot() map[string]*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make(map[string]*Client, len(r.byUser))
	for userID, client := range r.byUser {
		entries[userID] = client
	}
	return entries
}
