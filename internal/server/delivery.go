// Package server implements the delivery engine: persisting sends,
// acknowledging the sender, pushing to live recipients, and flushing queued
// messages when a user reconnects.
package server

import (
	"github.com/relaychat/server/internal/protocol"
	"github.com/relaychat/server/internal/store"
)

// handleSend processes an inbound message frame. The sender must be the
// connection's bound identity: unidentified connections cannot send, and a
// spoofed senderId is rejected before anything is persisted.
func (h *Hub) handleSend(c *Client, payload protocol.SendPayload) {
	if err := protocol.ValidateSend(payload); err != nil {
		c.push(protocol.Error(protocol.CodeValidation, "senderId, recipientId and content are required"))
		return
	}

	boundUser := c.User()
	if boundUser == "" {
		c.push(protocol.Error(protocol.CodeNotIdentified, "identify before sending messages"))
		return
	}
	if payload.SenderID != boundUser {
		c.push(protocol.Error(protocol.CodeSenderMismatch, "senderId does not match the connection's identity"))
		return
	}

	record, err := h.store.CreateMessage(payload.SenderID, payload.RecipientID, payload.Content)
	if err != nil {
		h.log.Error("persisting message failed", "sender", payload.SenderID, "error", err)
		c.push(protocol.Error(protocol.CodeServerError, "failed to save message"))
		return
	}

	// Ack confirms durable persistence, independent of delivery.
	c.push(protocol.Ack(record))

	recipient, online := h.registry.Lookup(record.RecipientID)
	if !online || !recipient.isOpen() {
		// Store-and-forward: the record stays undelivered until the
		// recipient's next identify flushes it.
		return
	}

	h.deliver(record, recipient)
}

// deliver pushes the record to the recipient's live connection, marks it
// delivered, and notifies the sender. Any failure leaves the record
// undelivered and eligible for flush on the recipient's next connection;
// no inline retry is attempted.
func (h *Hub) deliver(record store.MessageRecord, recipient *Client) {
	if !recipient.push(protocol.Msg(record)) {
		h.log.Debug("push to recipient failed, leaving undelivered",
			"messageId", record.ID, "recipient", record.RecipientID)
		return
	}

	if err := h.store.MarkDelivered(record.ID); err != nil {
		h.log.Warn("marking message delivered failed", "messageId", record.ID, "error", err)
		return
	}

	if sender, online := h.registry.Lookup(record.SenderID); online {
		if !sender.push(protocol.Delivered(record.ID, record.RecipientID)) {
			h.log.Debug("delivered notification push failed",
				"messageId", record.ID, "sender", record.SenderID)
		}
	}
}

// flushUndelivered pushes every queued message for the user in creation
// order. Each message's flush is independent: a failure is logged and the
// remaining messages are still attempted.
func (h *Hub) flushUndelivered(userID string, c *Client) {
	records, err := h.store.FindUndelivered(userID)
	if err != nil {
		h.log.Warn("querying undelivered messages failed", "userId", userID, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	h.log.Info("flushing undelivered messages", "userId", userID, "count", len(records))

	for _, record := range records {
		h.deliver(record, c)
	}
}
