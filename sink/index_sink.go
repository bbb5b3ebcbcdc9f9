package sink

import (
	"chat-relay/domain/event"
	"chat-relay/storage"
	"context"
	"log/slog"
)

// IndexSink is a permanent broadcast observer feeding the Bluge message
// index. Indexing is best-effort: a failure is logged and never surfaces
// to the connection that produced the message.
type IndexSink struct {
	index *storage.MessageIndex
	log   *slog.Logger
}

func NewIndexSink(index *storage.MessageIndex, log *slog.Logger) IndexSink {
	return IndexSink{index: index, log: log}
}

func (s IndexSink) Consume(_ context.Context, e event.DomainEvent) error {
	evt, ok := e.(event.MessageNew)
	if !ok {
		return nil
	}
	if err := s.index.Index(evt.Message); err != nil {
		s.log.Warn("message indexing failed",
			"message_id", evt.Message.ID, "error", err)
	}
	return nil
}
