// Package store implements the durable side of the chat core: message
// records with their delivered flag and user records with their presence
// status, backed by BadgerDB.
package store

import (
	"errors"
	"time"
)

// UserStatus is the persisted presence state of a user. It is mutated only
// in response to connection bind/unbind, never by client input.
type UserStatus string

const (
	UserOnline  UserStatus = "ONLINE"
	UserOffline UserStatus = "OFFLINE"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("store: record not found")

// UserRecord is the persisted representation of a user.
type UserRecord struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Status      UserStatus `json:"status"`
}

// UserSummary is the denormalized shape embedded in message records
// returned through the ack and flush paths.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// MessageRecord is the persisted representation of a message. Sender and
// Recipient summaries are attached on read when the user records exist.
type MessageRecord struct {
	ID          string       `json:"id"`
	SenderID    string       `json:"senderId"`
	RecipientID string       `json:"recipientId"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"createdAt"`
	Delivered   bool         `json:"delivered"`
	Sender      *UserSummary `json:"sender,omitempty"`
	Recipient   *UserSummary `json:"recipient,omitempty"`
}

// MessageStore is the persistence contract the real-time core consumes.
type MessageStore interface {
	// CreateMessage persists a new record with Delivered=false and returns
	// it with sender/recipient summaries attached.
	CreateMessage(senderID, recipientID, content string) (MessageRecord, error)
	// MarkDelivered flips the record's delivered flag false->true. It is
	// idempotent for records already marked delivered.
	MarkDelivered(messageID string) error
	// FindUndelivered returns all undelivered messages addressed to the
	// user, ordered by creation time ascending.
	FindUndelivered(recipientID string) ([]MessageRecord, error)
	// SetUserStatus upserts the user's persisted presence status.
	SetUserStatus(userID string, status UserStatus) error
	// GetUser reports the user record and whether it exists.
	GetUser(userID string) (UserRecord, bool, error)
	// PutUser stores a full user record.
	PutUser(user UserRecord) error
}
