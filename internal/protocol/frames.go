// Package protocol defines the JSON frame set exchanged with clients: the
// inbound identify/msg frames, every outbound frame the server produces, and
// the error codes reported for malformed or rejected input.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Inbound frame types.
const (
	TypeIdentify = "identify"
	TypeMsg      = "msg"
)

// Outbound frame types. TypeMsg is reused: a message record pushed to a
// recipient travels under the same discriminator as the inbound send frame.
const (
	TypeIdentified   = "identified"
	TypePresenceList = "presence_list"
	TypePresence     = "presence"
	TypeAck          = "ack"
	TypeDelivered    = "delivered"
	TypeError        = "error"
)

// Error codes carried on error frames.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeValidation     = "validation"
	CodeUnknownType    = "unknown_type"
	CodeServerError    = "server_error"
	CodeNotIdentified  = "not_identified"
	CodeSenderMismatch = "sender_mismatch"
)

// Presence status values on the wire.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// Frame is the envelope for every inbound unit. Data stays raw until the
// type discriminator has been inspected.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// IdentifyPayload binds the connection to a logical user.
type IdentifyPayload struct {
	UserID string `json:"userId" validate:"required"`
}

// SendPayload requests persistence and delivery of a message.
type SendPayload struct {
	SenderID    string `json:"senderId" validate:"required"`
	RecipientID string `json:"recipientId" validate:"required"`
	Content     string `json:"content" validate:"required"`
}

// PresenceEvent is broadcast to other connections when a user's online
// state changes.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// DeliveredPayload notifies a sender that the recipient's connection
// received the message.
type DeliveredPayload struct {
	MessageID   string `json:"messageId"`
	RecipientID string `json:"recipientId"`
}

var validate = validator.New()

// ParseFrame decodes the envelope of an inbound unit.
func ParseFrame(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// DecodeIdentify decodes and validates an identify payload.
func DecodeIdentify(data json.RawMessage) (IdentifyPayload, error) {
	var payload IdentifyPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return IdentifyPayload{}, err
	}
	if err := validate.Struct(payload); err != nil {
		return IdentifyPayload{}, err
	}
	return payload, nil
}

// DecodeSend decodes a send payload without validating it, so the caller
// can distinguish a malformed frame from one with missing fields.
func DecodeSend(data json.RawMessage) (SendPayload, error) {
	var payload SendPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return SendPayload{}, err
	}
	return payload, nil
}

// ValidateSend reports whether the payload carries all required fields.
func ValidateSend(payload SendPayload) error {
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("senderId, recipientId and content are required: %w", err)
	}
	return nil
}

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(f any) []byte {
	// The payloads below are plain structs and JSON-safe slices; marshal
	// cannot fail for them.
	raw, err := json.Marshal(f)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode frame: %v", err))
	}
	return raw
}

// Identified acknowledges an identify frame with the bound user id.
func Identified(userID string) []byte {
	return encode(frame{Type: TypeIdentified, Data: IdentifyPayload{UserID: userID}})
}

// PresenceList carries a snapshot of the user ids currently online.
func PresenceList(userIDs []string) []byte {
	if userIDs == nil {
		userIDs = []string{}
	}
	return encode(frame{Type: TypePresenceList, Data: userIDs})
}

// Presence carries a single user's online/offline transition.
func Presence(userID, status string) []byte {
	return encode(frame{Type: TypePresence, Data: PresenceEvent{UserID: userID, Status: status}})
}

// Ack confirms to the sender that the record was durably persisted.
func Ack(record any) []byte {
	return encode(frame{Type: TypeAck, Data: record})
}

// Msg pushes a message record to its recipient.
func Msg(record any) []byte {
	return encode(frame{Type: TypeMsg, Data: record})
}

// Delivered confirms to the sender that the recipient received the message.
func Delivered(messageID, recipientID string) []byte {
	return encode(frame{Type: TypeDelivered, Data: DeliveredPayload{MessageID: messageID, RecipientID: recipientID}})
}

// Error builds an error frame for the originating connection.
func Error(code, message string) []byte {
	return encode(errorFrame{Type: TypeError, Code: code, Message: message})
}
