package sink

import (
	"chat-relay/domain/event"
	"context"
	"log/slog"
)

// ConnSink is the per-connection delivery buffer. The router's fan-out
// pushes into it without blocking; the transport's write pump drains it.
type ConnSink struct {
	log    *slog.Logger
	Events chan event.DomainEvent
}

func NewConnSink(log *slog.Logger, bufferSize int) *ConnSink {
	return &ConnSink{log: log, Events: make(chan event.DomainEvent, bufferSize)}
}

// Consume is called by fan-out. A full buffer means the consumer is too
// slow: the event is dropped rather than stalling the broadcast, delivery
// is best-effort by design.
func (s *ConnSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Debug("connection backpressure, dropping event", "event", e.EventName())
		return nil
	}
}
