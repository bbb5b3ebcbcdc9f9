package workers

import (
	"chat-relay/contract"
	"chat-relay/ratelimit"
	"context"
	"log/slog"
	"time"
)

var _ contract.Worker = (*JanitorWorker)(nil)

// JanitorWorker periodically evicts stale rate-limit windows so the window
// map stays bounded by the set of recently active users rather than every
// identity ever seen.
type JanitorWorker struct {
	limiter  *ratelimit.Limiter
	interval time.Duration
	log      *slog.Logger
}

func NewJanitorWorker(limiter *ratelimit.Limiter, interval time.Duration, log *slog.Logger) *JanitorWorker {
	return &JanitorWorker{limiter: limiter, interval: interval, log: log}
}

func (w *JanitorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return ctx.Err()
		case <-ticker.C:
			if evicted := w.limiter.Evict(); evicted > 0 {
				w.log.Debug("Evicted stale rate windows",
					"evicted", evicted, "remaining", w.limiter.Len())
			}
		}
	}
}
