package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"outpost/internal/observability"
)

// Handler reacts to one event variant.
type Handler[E Event] func(ctx context.Context, e E) error

type subscriber struct {
	name string
	call func(ctx context.Context, e Event) error
}

// Bus is an in-process publish/subscribe hub. Handlers for one event run
// concurrently and independently; nothing is persisted or replayed.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]subscriber
	logger   *slog.Logger
}

// NewBus creates an empty bus that reports handler failures through logger.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Name][]subscriber),
		logger:   logger,
	}
}

// Subscribe registers h for every published E. name labels the handler in logs.
func Subscribe[E Event](b *Bus, name string, h Handler[E]) {
	var zero E
	sub := subscriber{
		name: name,
		call: func(ctx context.Context, e Event) error {
			typed, ok := e.(E)
			if !ok {
				return fmt.Errorf("handler %s: unexpected payload %T", name, e)
			}
			return h(ctx, typed)
		},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[zero.EventName()] = append(b.handlers[zero.EventName()], sub)
}

// HasSubscribers reports whether any handler is registered for n.
func (b *Bus) HasSubscribers(n Name) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[n]) > 0
}

// Publish runs every handler for e and waits for all of them. A failing or
// panicking handler is logged and counted; it never stops the others.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := b.handlers[e.EventName()]
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscriber) {
			defer wg.Done()
			if err := b.invoke(ctx, sub, e); err != nil {
				observability.EventHandlerFailures.WithLabelValues(string(e.EventName())).Inc()
				b.logger.ErrorContext(ctx, "event handler failed",
					slog.String("event", string(e.EventName())),
					slog.String("handler", sub.name),
					slog.String("error", err.Error()),
				)
			}
		}(sub)
	}
	wg.Wait()
}

// PublishAll publishes events in order, one at a time.
func (b *Bus) PublishAll(ctx context.Context, evs []Event) {
	for _, e := range evs {
		b.Publish(ctx, e)
	}
}

func (b *Bus) invoke(ctx context.Context, sub subscriber, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.call(ctx, e)
}
