package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	userPrefix        = "user:"
	messagePrefix     = "message:"
	undeliveredPrefix = "undelivered:"
)

// BadgerStore persists users and messages in BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// NewBadgerStore wraps an open Badger database.
func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func userKey(userID string) []byte {
	return []byte(userPrefix + userID)
}

func messageKey(messageID string) []byte {
	return []byte(messagePrefix + messageID)
}

// undeliveredKey is formatted as "undelivered:{recipient}:{timestamp_padded}:{id}":
//  1. The 19-digit zero-padded UnixNano makes a forward prefix scan yield
//     creation-time ascending order.
//  2. The message id disambiguates two messages created in the same
//     nanosecond.
func undeliveredKey(recipientID string, createdAt time.Time, messageID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", undeliveredPrefix, recipientID, createdAt.UnixNano(), messageID))
}

// CreateMessage persists a new undelivered message and its index entry in a
// single transaction.
func (s *BadgerStore) CreateMessage(senderID, recipientID, content string) (MessageRecord, error) {
	record := MessageRecord{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		Delivered:   false,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("marshal message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(record.ID), data); err != nil {
			return err
		}
		return txn.Set(undeliveredKey(recipientID, record.CreatedAt, record.ID), []byte(record.ID))
	})
	if err != nil {
		return MessageRecord{}, fmt.Errorf("persist message: %w", err)
	}

	s.attachSummaries(&record)
	return record, nil
}

// MarkDelivered flips the delivered flag and drops the undelivered index
// entry. A record already marked delivered is left untouched.
func (s *BadgerStore) MarkDelivered(messageID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		record, err := getMessage(txn, messageID)
		if err != nil {
			return err
		}
		if record.Delivered {
			return nil
		}

		record.Delivered = true
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		if err := txn.Set(messageKey(messageID), data); err != nil {
			return err
		}
		return txn.Delete(undeliveredKey(record.RecipientID, record.CreatedAt, record.ID))
	})
}

// FindUndelivered scans the index for the recipient. The padded-timestamp
// keys make the forward iteration chronological, oldest first.
func (s *BadgerStore) FindUndelivered(recipientID string) ([]MessageRecord, error) {
	var records []MessageRecord

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(undeliveredPrefix + recipientID + ":")
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var messageID string
			err := it.Item().Value(func(value []byte) error {
				messageID = string(value)
				return nil
			})
			if err != nil {
				return err
			}

			record, err := getMessage(txn, messageID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					// Dangling index entry; skip rather than abort the scan.
					s.log.Warn("undelivered index references missing message", "messageId", messageID)
					continue
				}
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan undelivered for %s: %w", recipientID, err)
	}

	for i := range records {
		s.attachSummaries(&records[i])
	}
	return records, nil
}

// SetUserStatus upserts the user record with the new status. A user seen
// for the first time gets its id as display name.
func (s *BadgerStore) SetUserStatus(userID string, status UserStatus) error {
	return s.db.Update(func(txn *badger.Txn) error {
		user, err := getUser(txn, userID)
		if errors.Is(err, ErrNotFound) {
			user = UserRecord{ID: userID, DisplayName: userID}
		} else if err != nil {
			return err
		}

		user.Status = status
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		return txn.Set(userKey(userID), data)
	})
}

// GetUser reads a user record, reporting absence without an error.
func (s *BadgerStore) GetUser(userID string) (UserRecord, bool, error) {
	var user UserRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = getUser(txn, userID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, err
	}
	return user, true, nil
}

// PutUser stores a full user record.
func (s *BadgerStore) PutUser(user UserRecord) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), data)
	})
}

// attachSummaries denormalizes sender and recipient onto the record. A
// missing user record leaves the corresponding summary empty.
func (s *BadgerStore) attachSummaries(record *MessageRecord) {
	if sender, ok, err := s.GetUser(record.SenderID); err == nil && ok {
		record.Sender = &UserSummary{ID: sender.ID, DisplayName: sender.DisplayName}
	}
	if recipient, ok, err := s.GetUser(record.RecipientID); err == nil && ok {
		record.Recipient = &UserSummary{ID: recipient.ID, DisplayName: recipient.DisplayName}
	}
}

func getMessage(txn *badger.Txn, messageID string) (MessageRecord, error) {
	item, err := txn.Get(messageKey(messageID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return MessageRecord{}, ErrNotFound
	}
	if err != nil {
		return MessageRecord{}, err
	}

	var record MessageRecord
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &record)
	})
	return record, err
}

func getUser(txn *badger.Txn, userID string) (UserRecord, error) {
	item, err := txn.Get(userKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}

	var user UserRecord
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &user)
	})
	return user, err
}
