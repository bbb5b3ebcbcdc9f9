package storage_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newRepos(t *testing.T, limit *int) (storage.ConversationRepository, storage.MessageRepository) {
	t.Helper()
	db := newTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return storage.NewConversationRepository(db), storage.NewMessageRepository(db, logger, limit)
}

func TestMessageRepository_CreateMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist the message and one status row per participant", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		// Given a conversation between alice and bob
		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)

		// When alice sends a text message
		message, err := messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentText, "hello bob", "")
		req.NoError(err)
		req.NotEqual(uuid.Nil, message.ID)
		req.Equal("alice", message.SenderID)

		// Then both participants have a status row and the sender's is
		// already read
		statuses, err := messages.GetStatuses(ctx, message.ID.String(), "bob")
		req.NoError(err)
		req.Len(statuses, 2)

		byUser := lo.KeyBy(statuses, func(s domain.MessageStatus) string { return s.UserID })
		req.Equal(domain.StatusRead, byUser["alice"].Status)
		req.NotNil(byUser["alice"].ReadAt)
		req.Equal(domain.StatusDelivered, byUser["bob"].Status)
		req.Nil(byUser["bob"].ReadAt)
	})

	t.Run("should refuse a sender outside the conversation", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)

		_, err = messages.CreateMessage(ctx, conversation.ID, "mallory",
			domain.ContentText, "hi", "")
		req.ErrorIs(err, errors.ErrNotAParticipant)
	})

	t.Run("should refuse an unknown conversation", func(t *testing.T) {
		req := require.New(t)
		_, messages := newRepos(t, nil)

		_, err := messages.CreateMessage(ctx, "ghost", "alice",
			domain.ContentText, "hi", "")
		req.ErrorIs(err, errors.ErrConversationNotFound)
	})

	t.Run("should refuse a text message without content", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)

		_, err = messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentText, "", "")
		req.ErrorIs(err, errors.ErrValidation)

		// A media message carries no content and that's fine
		_, err = messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentImage, "", "https://cdn.example.com/pic.png")
		req.NoError(err)
	})

	t.Run("should refuse an unknown content type", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)

		_, err = messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentType("hologram"), "hi", "")
		req.ErrorIs(err, errors.ErrValidation)
	})
}

func TestMessageRepository_MarkRead(t *testing.T) {
	ctx := context.Background()

	t.Run("should mark delivered as read exactly once", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)
		message, err := messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentText, "hello", "")
		req.NoError(err)

		// First read transitions the row
		_, status, err := messages.MarkRead(ctx, message.ID.String(), "bob")
		req.NoError(err)
		req.Equal(domain.StatusRead, status.Status)
		req.NotNil(status.ReadAt)

		// Second read is idempotent: same state, same timestamp
		_, again, err := messages.MarkRead(ctx, message.ID.String(), "bob")
		req.NoError(err)
		req.Equal(status, again)
	})

	t.Run("should refuse a reader outside the conversation", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)
		message, err := messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentText, "hello", "")
		req.NoError(err)

		_, _, err = messages.MarkRead(ctx, message.ID.String(), "mallory")
		req.ErrorIs(err, errors.ErrNotAParticipant)
	})

	t.Run("should report unknown and malformed ids as not found", func(t *testing.T) {
		req := require.New(t)
		_, messages := newRepos(t, nil)

		_, _, err := messages.MarkRead(ctx, uuid.NewString(), "bob")
		req.ErrorIs(err, errors.ErrMessageNotFound)

		_, _, err = messages.MarkRead(ctx, "not-a-uuid", "bob")
		req.ErrorIs(err, errors.ErrMessageNotFound)
	})
}

func TestMessageRepository_GetMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("should list newest first and resume from the cursor", func(t *testing.T) {
		req := require.New(t)
		limit := 2
		conversations, messages := newRepos(t, &limit)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)

		for _, text := range []string{"one", "two", "three"} {
			_, err := messages.CreateMessage(ctx, conversation.ID, "alice",
				domain.ContentText, text, "")
			req.NoError(err)
		}

		page, cursor, err := messages.GetMessages(conversation.ID, nil)
		req.NoError(err)
		req.NotNil(cursor)
		req.Equal([]string{"three", "two"},
			lo.Map(page, func(m domain.Message, _ int) string { return m.Content }))

		rest, _, err := messages.GetMessages(conversation.ID, cursor)
		req.NoError(err)
		req.Equal([]string{"one"},
			lo.Map(rest, func(m domain.Message, _ int) string { return m.Content }))
	})

	t.Run("should return an empty page for an empty conversation", func(t *testing.T) {
		req := require.New(t)
		_, messages := newRepos(t, nil)

		page, _, err := messages.GetMessages("empty", nil)
		req.NoError(err)
		req.Empty(page)
	})
}

func TestMessageRepository_GetStatuses(t *testing.T) {
	ctx := context.Background()

	t.Run("should gate status listing on participation", func(t *testing.T) {
		req := require.New(t)
		conversations, messages := newRepos(t, nil)

		conversation, err := conversations.CreateConversation(ctx, []string{"alice", "bob"})
		req.NoError(err)
		message, err := messages.CreateMessage(ctx, conversation.ID, "alice",
			domain.ContentText, "hello", "")
		req.NoError(err)

		_, err = messages.GetStatuses(ctx, message.ID.String(), "mallory")
		req.ErrorIs(err, errors.ErrNotAParticipant)
	})
}
