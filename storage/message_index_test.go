package storage_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"chat-relay/domain"
	"chat-relay/storage"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *storage.MessageIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return storage.NewMessageIndex(writer, logger)
}

func testMessage(conversationID, senderID, content string) domain.Message {
	return domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ContentType:    domain.ContentText,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMessageIndex_Search(t *testing.T) {
	ctx := context.Background()

	t.Run("should find messages by content", func(t *testing.T) {
		req := require.New(t)
		index := newTestIndex(t)

		message := testMessage("conv-1", "alice", "badger is a fine database")
		req.NoError(index.Index(message))
		req.NoError(index.Index(testMessage("conv-1", "bob", "nothing relevant here")))

		hits, err := index.Search(ctx, "badger", "", 10)
		req.NoError(err)
		req.Len(hits, 1)
		req.Equal(message.ID.String(), hits[0].MessageID)
		req.Equal("alice", hits[0].SenderID)
		req.Equal("badger is a fine database", hits[0].Content)
	})

	t.Run("should narrow results to one conversation", func(t *testing.T) {
		req := require.New(t)
		index := newTestIndex(t)

		req.NoError(index.Index(testMessage("conv-1", "alice", "meeting at noon")))
		req.NoError(index.Index(testMessage("conv-2", "bob", "meeting moved to three")))

		hits, err := index.Search(ctx, "meeting", "conv-2", 10)
		req.NoError(err)
		req.Len(hits, 1)
		req.Equal("conv-2", hits[0].ConversationID)
	})

	t.Run("should update in place when the same message is indexed twice", func(t *testing.T) {
		req := require.New(t)
		index := newTestIndex(t)

		message := testMessage("conv-1", "alice", "first draft")
		req.NoError(index.Index(message))
		message.Content = "final draft"
		req.NoError(index.Index(message))

		hits, err := index.Search(ctx, "draft", "", 10)
		req.NoError(err)
		req.Len(hits, 1)
		req.Equal("final draft", hits[0].Content)
	})

	t.Run("should return no hits rather than an error on a miss", func(t *testing.T) {
		req := require.New(t)
		index := newTestIndex(t)

		hits, err := index.Search(ctx, "anything", "", 10)
		req.NoError(err)
		req.Empty(hits)
	})
}
