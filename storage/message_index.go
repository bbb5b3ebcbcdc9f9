package storage

import (
	"chat-relay/domain"
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
)

// MessageIndex maintains a Bluge full-text index over message content.
// Fed asynchronously by a broadcast observer sink; queried by the inspect
// tooling. Losing the index loses nothing durable, it is rebuildable from
// the Badger store.
type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewMessageIndex(writer *bluge.Writer, log *slog.Logger) *MessageIndex {
	return &MessageIndex{writer: writer, log: log}
}

// MessageHit is one search result, rehydrated from stored fields.
type MessageHit struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Content        string
}

func (x *MessageIndex) Index(message domain.Message) error {
	doc := bluge.NewDocument(message.ID.String()).
		AddField(bluge.NewTextField("content", message.Content).StoreValue()).
		AddField(bluge.NewKeywordField("conversation_id", message.ConversationID).StoreValue()).
		AddField(bluge.NewKeywordField("sender_id", message.SenderID).StoreValue()).
		AddField(bluge.NewDateTimeField("created_at", message.CreatedAt))

	return x.writer.Update(doc.ID(), doc)
}

// Search matches message content, optionally narrowed to one conversation.
func (x *MessageIndex) Search(ctx context.Context, text, conversationID string, limit int) ([]MessageHit, error) {
	reader, err := x.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()

	contentQuery := bluge.NewMatchQuery(text).SetField("content")
	var query bluge.Query = contentQuery
	if conversationID != "" {
		query = bluge.NewBooleanQuery().
			AddMust(contentQuery).
			AddMust(bluge.NewTermQuery(conversationID).SetField("conversation_id"))
	}

	request := bluge.NewTopNSearch(limit, query)
	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var hits []MessageHit
	match, err := iterator.Next()
	for err == nil && match != nil {
		var hit MessageHit
		visitErr := match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.MessageID = string(value)
			case "content":
				hit.Content = string(value)
			case "conversation_id":
				hit.ConversationID = string(value)
			case "sender_id":
				hit.SenderID = string(value)
			}
			return true
		})
		if visitErr != nil {
			return nil, visitErr
		}
		hits = append(hits, hit)
		match, err = iterator.Next()
	}
	if err != nil {
		return nil, err
	}
	return hits, nil
}
