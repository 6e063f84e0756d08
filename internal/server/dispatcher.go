// Package server routes inbound frames to the presence and delivery logic
// via the hub's dispatcher.
package server

import (
	"github.com/relaychat/server/internal/protocol"
)

// dispatch parses one inbound unit and routes it. Malformed or unknown
// input produces an error frame for the originating connection only; the
// connection itself is never closed for a protocol error.
func (h *Hub) dispatch(c *Client, raw []byte) {
	frame, err := protocol.ParseFrame(raw)
	if err != nil {
		h.log.Debug("discarding unparseable frame", "addr", c.addr, "error", err)
		c.push(protocol.Error(protocol.CodeInvalidPayload, "payload is not valid JSON"))
		return
	}

	switch frame.Type {
	case protocol.TypeIdentify:
		payload, err := protocol.DecodeIdentify(frame.Data)
		if err != nil {
			c.push(protocol.Error(protocol.CodeInvalidPayload, "identify requires a userId"))
			return
		}
		h.handleIdentify(c, payload)

	case protocol.TypeMsg:
		payload, err := protocol.DecodeSend(frame.Data)
		if err != nil {
			c.push(protocol.Error(protocol.CodeInvalidPayload, "msg payload has an invalid shape"))
			return
		}
		h.handleSend(c, payload)

	default:
		c.push(protocol.Error(protocol.CodeUnknownType, "unknown frame type"))
	}
}
