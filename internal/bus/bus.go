// Package bus implements the in-process publish/subscribe event bus that
// decouples the pipeline stages. Handlers are registered per event type under
// a caller-chosen id; publishing fans out to all handlers for that type
// concurrently and waits for every one to return.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/chronicler/internal/events"
)

// Handler processes a single published event. Returning an error does not
// affect delivery to other handlers; the bus logs it and moves on.
type Handler func(ctx context.Context, ev events.Event) error

type subscription struct {
	id string
	fn Handler
}

// Bus routes events to subscribed handlers. The zero value is not usable;
// construct with [New]. All methods are safe for concurrent use.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[events.Type][]subscription
}

// New creates an empty [Bus]. A nil logger falls back to [slog.Default].
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log,
		handlers: make(map[events.Type][]subscription),
	}
}

// Subscribe registers fn for events of type t under the given id. Registering
// the same id for the same type again replaces the previous handler, so
// components can re-subscribe across session restarts without doubling
// delivery.
func (b *Bus) Subscribe(t events.Type, id string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[t]
	for i, s := range subs {
		if s.id == id {
			subs[i].fn = fn
			return
		}
	}
	b.handlers[t] = append(subs, subscription{id: id, fn: fn})
}

// Unsubscribe removes the handler registered under id for type t. Removing an
// unknown id is a no-op.
func (b *Bus) Unsubscribe(t events.Type, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[t]
	for i, s := range subs {
		if s.id == id {
			b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every handler subscribed to its type, each on its own
// goroutine, and blocks until all have returned. Handler errors and panics are
// logged with the handler id and never propagate to the publisher or to
// sibling handlers. With no subscribers Publish returns immediately.
func (b *Bus) Publish(ctx context.Context, ev events.Event) {
	t := ev.EventType()

	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[t]))
	copy(subs, b.handlers[t])
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.invoke(ctx, s, ev); err != nil {
				b.log.Error("event handler failed",
					"handler", s.id,
					"event", string(t),
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// invoke runs a single handler, converting a panic into an error so one
// misbehaving subscriber cannot take down the publisher.
func (b *Bus) invoke(ctx context.Context, s subscription, ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler %q panicked: %v", s.id, r)
		}
	}()
	return s.fn(ctx, ev)
}

// Subscribe registers a typed handler on b under id. It wraps fn so that only
// events of the concrete type T are delivered, sparing subscribers the type
// assertion boilerplate.
func Subscribe[T events.Event](b *Bus, id string, fn func(ctx context.Context, ev T) error) {
	var zero T
	b.Subscribe(zero.EventType(), id, func(ctx context.Context, ev events.Event) error {
		typed, ok := ev.(T)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	})
}
