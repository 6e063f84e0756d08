// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents one WebSocket connection. It starts unidentified; a
// valid identify frame binds it to a user id. The bound identity and closed
// flag are guarded by mu because pushes and cleanup arrive from other
// connections' goroutines.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	addr string

	mu     sync.Mutex
	userID string
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a Client for the given WebSocket connection. The send
// channel is buffered so a slow reader does not block the pushing goroutine;
// a full buffer counts as a failed push.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimitBurst, cfg.RateLimitRefillInterval),
		rateLimit:      cfg.RateLimit(),
	}
}

// User returns the bound user id, or "" for an unidentified connection.
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Client) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// markClosed flips the client into its terminal state. Pushes after this
// point report failure instead of touching the send channel, so the hub can
// safely close it.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// push queues an outbound frame, reporting failure when the connection is
// closed or its buffer is full. The mutex makes the closed check and the
// channel send atomic with respect to markClosed, so the write never races
// with the channel being closed.
func (c *Client) push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	log := c.hub.log
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Warn("setting initial read deadline failed", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Warn("setting read deadline in pong handler failed", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// handleReadError logs appropriate messages based on the error type and
// returns true if the read loop should break.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}
	log := c.hub.log

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warn("inbound frame exceeded maximum size", "addr", c.addr, "limit", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Debug("client disconnected", "addr", c.addr, "error", err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Debug("client connection closed", "addr", c.addr, "error", err)
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Warn("unexpected websocket error", "addr", c.addr, "error", err)
		return true
	}

	log.Warn("websocket read error", "addr", c.addr, "error", err)
	return true
}

// checkRateLimit verifies the client has not exceeded its message budget.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.hub.log.Warn("rate limit exceeded, discarding frame",
			"addr", c.addr, "burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// readPump reads inbound frames and hands each one to the hub's dispatcher
// in arrival order. Frames from this connection are never processed
// concurrently with each other.
func (c *Client) readPump() {
	defer func() {
		// Once shutdown has cancelled the hub its event loop no longer
		// receives on unregister; skip the handoff instead of blocking.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				c.hub.log.Warn("closing connection in readPump failed", "addr", c.addr, "error", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawFrame, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.dispatch(c, rawFrame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case frame, ok := <-c.send:
		return c.handleOutbound(frame, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		// Hub shutdown: stop pumping rather than waiting for the send
		// channel to close or the next ping to fail.
		return false
	}
}

// closeConnection safely closes the WebSocket connection.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn("closing connection in writePump failed", "addr", c.addr, "error", err)
		}
	}
}

// handleOutbound writes a queued frame and returns false if the connection
// should be closed.
func (c *Client) handleOutbound(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.hub.log.Warn("setting write deadline failed", "addr", c.addr, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextFrame(frame)
}

// writeCloseMessage sends a close message to the client.
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn("writing close message failed", "addr", c.addr, "error", err)
		}
	}
	return false
}

// writeTextFrame writes a single text frame. Frames are never coalesced: a
// JSON frame per websocket message keeps client-side parsing trivial.
func (c *Client) writeTextFrame(frame []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn("writing frame failed", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.hub.log.Warn("setting write deadline for ping failed", "addr", c.addr, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.hub.log.Warn("writing ping failed", "addr", c.addr, "error", err)
		}
		return false
	}
	return true
}
