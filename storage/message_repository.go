// Package storage is the BadgerDB persistence collaborator behind the
// session layer: conversations, messages, and per-participant delivery
// statuses, plus the Bluge content index.
package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// CreateMessage appends a message and one delivery-status row per
// participant as a single Badger transaction: a concurrent status read can
// never observe the message without its rows, or the reverse. The
// participant check runs inside the same transaction, making persistence
// the authorization boundary, exactly like the REST path.
func (m MessageRepository) CreateMessage(_ context.Context, conversationID, senderID string,
	contentType domain.ContentType, content, mediaURL string) (domain.Message, error) {
	if !contentType.Valid() {
		return domain.Message{}, fmt.Errorf("%w: unknown content type %q", errors.ErrValidation, contentType)
	}
	if contentType == domain.ContentText && content == "" {
		return domain.Message{}, fmt.Errorf("%w: text message requires content", errors.ErrValidation)
	}

	now := time.Now().UTC()
	message := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ContentType:    contentType,
		Content:        content,
		MediaURL:       mediaURL,
		CreatedAt:      now,
	}

	err := m.db.Update(func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		if !conversation.HasParticipant(senderID) {
			return errors.ErrNotAParticipant
		}

		messageBytes, err := json.Marshal(message)
		if err != nil {
			return err
		}
		primaryKey := messageKey(conversationID, now, message.ID)
		if err := txn.Set(primaryKey, messageBytes); err != nil {
			return err
		}
		if err := txn.Set(messageIndexKey(message.ID), primaryKey); err != nil {
			return err
		}

		// Sender's own row is pre-marked read.
		for _, participant := range conversation.Participants {
			status := domain.MessageStatus{
				MessageID: message.ID,
				UserID:    participant,
				Status:    domain.StatusDelivered,
			}
			if participant == senderID {
				status.Status = domain.StatusRead
				readAt := now
				status.ReadAt = &readAt
			}
			statusBytes, err := json.Marshal(status)
			if err != nil {
				return err
			}
			if err := txn.Set(statusKey(message.ID, participant), statusBytes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// MarkRead transitions the caller's delivery status to read, idempotently:
// a row already read is returned untouched, so marking twice persists one
// state and both calls report it identically.
func (m MessageRepository) MarkRead(_ context.Context, messageID, userID string) (domain.Message, domain.MessageStatus, error) {
	var message domain.Message
	var status domain.MessageStatus

	err := m.db.Update(func(txn *badger.Txn) error {
		var err error
		message, err = getMessage(txn, messageID)
		if err != nil {
			return err
		}
		conversation, err := getConversation(txn, message.ConversationID)
		if err != nil {
			return err
		}
		if !conversation.HasParticipant(userID) {
			return errors.ErrNotAParticipant
		}

		existing, err := getStatus(txn, message.ID, userID)
		if err == nil && existing.Status == domain.StatusRead {
			status = existing
			return nil
		}
		if err != nil && !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		readAt := time.Now().UTC()
		status = domain.MessageStatus{
			MessageID: message.ID,
			UserID:    userID,
			Status:    domain.StatusRead,
			ReadAt:    &readAt,
		}
		statusBytes, err := json.Marshal(status)
		if err != nil {
			return err
		}
		return txn.Set(statusKey(message.ID, userID), statusBytes)
	})
	if err != nil {
		return domain.Message{}, domain.MessageStatus{}, err
	}
	return message, status, nil
}

// GetStatuses lists every delivery-status row of a message, gated on the
// caller being a participant of its conversation.
func (m MessageRepository) GetStatuses(_ context.Context, messageID, userID string) ([]domain.MessageStatus, error) {
	var statuses []domain.MessageStatus

	err := m.db.View(func(txn *badger.Txn) error {
		message, err := getMessage(txn, messageID)
		if err != nil {
			return err
		}
		conversation, err := getConversation(txn, message.ConversationID)
		if err != nil {
			return err
		}
		if !conversation.HasParticipant(userID) {
			return errors.ErrNotAParticipant
		}

		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		prefix := statusScanPrefix(message.ID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var status domain.MessageStatus
				if err := json.Unmarshal(value, &status); err != nil {
					return err
				}
				statuses = append(statuses, status)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// GetMessages retrieves a conversation's messages newest-first using a
// reverse prefix scan; the padded timestamp in the key keeps them sorted
// without a secondary index. The returned cursor resumes the next page.
func (m MessageRepository) GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error) {
	var messages []domain.Message
	var lastKey string

	err := m.db.View(func(txn *badger.Txn) error {
		prefix := messageScanPrefix(conversationID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards.
			seekKey = append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		default:
			seekKey = append(append([]byte{}, prefix...), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			err := item.Value(func(value []byte) error {
				var message domain.Message
				if err := json.Unmarshal(value, &message); err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return messages, &lastKey, nil
}

// getMessage resolves a message by id through the idx: secondary index.
func getMessage(txn *badger.Txn, messageID string) (domain.Message, error) {
	id, err := uuid.Parse(messageID)
	if err != nil {
		return domain.Message{}, errors.ErrMessageNotFound
	}

	indexItem, err := txn.Get(messageIndexKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}

	primaryKey, err := indexItem.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, err
	}
	item, err := txn.Get(primaryKey)
	if err != nil {
		return domain.Message{}, err
	}

	var message domain.Message
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &message)
	})
	return message, err
}

func getStatus(txn *badger.Txn, messageID uuid.UUID, userID string) (domain.MessageStatus, error) {
	item, err := txn.Get(statusKey(messageID, userID))
	if err != nil {
		return domain.MessageStatus{}, err
	}
	var status domain.MessageStatus
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &status)
	})
	return status, err
}
