// Package server coordinates connection registration, presence, message
// delivery, and cleanup for the chat system via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaychat/server/internal/store"
)

// Hub owns the set of open connections and wires the protocol dispatcher to
// the connection registry and the message store. Registration and cleanup
// run on the hub's event loop; frame handling runs on each connection's
// read pump, so frames from different connections are processed
// concurrently while the registry's mutex keeps bind/unbind atomic.
type Hub struct {
	cfg      Config
	origins  originPolicy
	registry *Registry
	store    store.MessageStore
	log      *slog.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub bound to the given registry and store. The returned
// Hub is ready to manage WebSocket connections once Run is started.
func NewHub(cfg Config, registry *Registry, messageStore store.MessageStore, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		origins:    newOriginPolicy(cfg.AllowedOrigins()),
		registry:   registry,
		store:      messageStore,
		log:        log,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the connection registry for read-side callers.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts the hub's main event loop, handling connection registration
// and cleanup. This method should be called in a separate goroutine as it
// runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration, skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("client connected", "addr", client.addr, "total", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				clientCount := len(h.clients)
				h.mutex.Unlock()

				// Terminal state first: no push can land on the send
				// channel once markClosed has run, making the close safe.
				client.markClosed()
				close(client.send)
				h.log.Info("client disconnected", "addr", client.addr, "total", clientCount)

				h.handleClose(client)
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

// attach adds a pump-less client directly to the tracked set. Used by tests
// that drive the dispatcher without a live websocket.
func (h *Hub) attach(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.clients[client] = true
}

// detach removes a pump-less client and runs the same cleanup the event
// loop performs for a closed connection.
func (h *Hub) detach(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mutex.Unlock()

	if !ok {
		return
	}
	client.markClosed()
	close(client.send)
	h.handleClose(client)
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					h.log.Warn("closing client connection failed", "addr", client.addr, "error", err)
				}
			}
		}
	}

	h.log.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
