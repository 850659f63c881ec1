package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Compile-time check that LocalBus implements Publisher.
var _ Publisher = (*LocalBus)(nil)

// LocalBus is an in-process publish/subscribe bus.
//
// Publish never reports handler errors back to the publisher: a stage
// that emitted an event has done its part, and the consumer's failure is
// its own. Deliver, used by the HTTP ingress, does report them so the
// upstream transport can redeliver.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	async    bool
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// LocalOption configures a LocalBus.
type LocalOption func(*LocalBus)

// WithAsyncDelivery runs handlers for published events in their own goroutines.
func WithAsyncDelivery(async bool) LocalOption {
	return func(b *LocalBus) {
		b.async = async
	}
}

// NewLocalBus creates an empty bus.
func NewLocalBus(logger *slog.Logger, opts ...LocalOption) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &LocalBus{
		handlers: make(map[Type][]Handler),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t.
func (b *LocalBus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers env to its subscribers.
func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	if !b.async {
		if err := b.Deliver(ctx, env); err != nil {
			b.logger.Warn("event handler failed",
				slog.String("type", string(env.Type)),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	// Async handlers outlive the publishing request.
	detached := context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.Deliver(detached, env); err != nil {
			b.logger.Warn("event handler failed",
				slog.String("type", string(env.Type)),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Deliver runs every subscriber for env synchronously and joins their errors.
func (b *LocalBus) Deliver(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[env.Type]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no subscribers for event", slog.String("type", string(env.Type)))
		return nil
	}

	b.logger.Debug("delivering event",
		slog.String("type", string(env.Type)),
		slog.String("source", env.Source),
		slog.Int("subscribers", len(handlers)),
	)

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until every asynchronously published event was handled,
// including events published by those handlers.
func (b *LocalBus) Wait() {
	b.wg.Wait()
}
