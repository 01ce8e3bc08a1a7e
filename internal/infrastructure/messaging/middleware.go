package messaging

import (
	"context"
	"time"

	"github.com/alem-hub/alem-progression/internal/domain/shared"
	"github.com/alem-hub/alem-progression/pkg/logger"
	"github.com/alem-hub/alem-progression/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps an event handler.
type Middleware func(shared.EventHandler) shared.EventHandler

// Chain applies middlewares so that the first one is the outermost.
func Chain(handler shared.EventHandler, middlewares ...Middleware) shared.EventHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// LoggingMiddleware logs slow or failing handlers.
func LoggingMiddleware(log *logger.Logger, slow time.Duration) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			elapsed := time.Since(start)

			switch {
			case err != nil:
				log.Warn("event handler failed",
					logger.String("event_type", string(event.EventType())),
					logger.String("aggregate_id", event.AggregateID()),
					logger.Latency(elapsed),
					logger.Err(err),
				)
			case slow > 0 && elapsed > slow:
				log.Warn("slow event handler",
					logger.String("event_type", string(event.EventType())),
					logger.Latency(elapsed),
				)
			}
			return err
		}
	}
}

// RetryMiddleware retries transient handler failures with backoff.
func RetryMiddleware(r *retry.Retrier) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			return r.Do(context.Background(), func(context.Context) error {
				return next(event)
			})
		}
	}
}

// wrappedSubscriber applies middlewares to every handler it subscribes.
type wrappedSubscriber struct {
	next        shared.EventSubscriber
	middlewares []Middleware
}

// WithMiddleware returns a subscriber that wraps each handler before
// registering it with next.
func WithMiddleware(next shared.EventSubscriber, middlewares ...Middleware) shared.EventSubscriber {
	return &wrappedSubscriber{next: next, middlewares: middlewares}
}

func (w *wrappedSubscriber) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return w.next.Subscribe(eventType, Chain(handler, w.middlewares...))
}

func (w *wrappedSubscriber) SubscribeAll(handler shared.EventHandler) error {
	return w.next.SubscribeAll(Chain(handler, w.middlewares...))
}
