package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/xharvest/bookmarks/seed"
)

// Router fans out to all configured sinks. One sink error does not block
// the others: errors are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len is the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendItems(ctx context.Context, items []seed.Item) error {
	return r.each("items", func(s Sink) error { return s.SendItems(ctx, items) })
}

func (r *Router) SendSeed(ctx context.Context, sd seed.Seed) error {
	return r.each("seed", func(s Sink) error { return s.SendSeed(ctx, sd) })
}

func (r *Router) SendFailure(ctx context.Context, o seed.Outcome) error {
	return r.each("failure", func(s Sink) error { return s.SendFailure(ctx, o) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(what string, send func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := send(s); err != nil {
			r.logger.Warn("sink: send "+what+" failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
