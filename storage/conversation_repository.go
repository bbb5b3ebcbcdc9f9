package storage

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ConversationRepository stores conversations and answers the membership
// question the session layer asks before any room join.
type ConversationRepository struct {
	db *badger.DB
}

func NewConversationRepository(db *badger.DB) ConversationRepository {
	return ConversationRepository{db: db}
}

// CreateConversation persists a conversation with its participant list.
// Conversation CRUD belongs to the REST surface; this exists so tooling
// and tests can seed the store the same way that surface would.
func (r ConversationRepository) CreateConversation(_ context.Context, participants []string) (domain.Conversation, error) {
	conversation := domain.Conversation{
		ID:           uuid.NewString(),
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}

	bytes, err := json.Marshal(conversation)
	if err != nil {
		return domain.Conversation{}, err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(conversationKey(conversation.ID), bytes)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return conversation, nil
}

func (r ConversationRepository) GetConversation(_ context.Context, conversationID string) (domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		conversation, err = getConversation(txn, conversationID)
		return err
	})
	return conversation, err
}

// IsParticipant reports whether the user may read/write the conversation.
// A missing conversation is simply "not a participant": the join handler
// owns the decision of what to tell the client.
func (r ConversationRepository) IsParticipant(ctx context.Context, userID, conversationID string) (bool, error) {
	conversation, err := r.GetConversation(ctx, conversationID)
	if stderrors.Is(err, errors.ErrConversationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conversation.HasParticipant(userID), nil
}

func getConversation(txn *badger.Txn, conversationID string) (domain.Conversation, error) {
	item, err := txn.Get(conversationKey(conversationID))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}

	var conversation domain.Conversation
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &conversation)
	})
	return conversation, err
}
