// Package bus delivers domain events to subscribers. Publish is synchronous
// and reports handler errors to the caller; the AsyncDispatcher hands events
// to a single background worker and only logs them.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// Handler processes one event
type Handler interface {
	Handle(ctx context.Context, ev event.Event) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, ev event.Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev event.Event) error {
	return f(ctx, ev)
}

// Dispatcher hands events over for delivery after a write has committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, events ...event.Event)
}

// Recorder receives delivery counters
type Recorder interface {
	EventPublished(eventType string, replay bool)
	HandlerFailed(eventType string)
}

// HandlerError wraps the failure of one subscriber
type HandlerError struct {
	EventID   string
	EventType event.Type
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler failed for %s (%s): %v", e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type subscription struct {
	all       bool
	eventType event.Type
	handler   Handler
}

// Bus is an in-process event bus. Subscribers are invoked in subscription
// order, type subscribers and catch-all subscribers interleaved.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []subscription
	recorder      Recorder
}

// Option configures a Bus
type Option func(*Bus)

// WithRecorder attaches delivery counters
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// New creates an empty bus
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t
func (b *Bus) Subscribe(t event.Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{eventType: t, handler: h})
}

// SubscribeAll registers h for every event
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{all: true, handler: h})
}

func (b *Bus) handlersFor(t event.Type) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	handlers := make([]Handler, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		if s.all || s.eventType == t {
			handlers = append(handlers, s.handler)
		}
	}
	return handlers
}

// Publish delivers ev to every matching subscriber and returns the joined
// handler errors. All subscribers run even when one fails.
func (b *Bus) Publish(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.recorder != nil {
		b.recorder.EventPublished(string(ev.Type()), ev.IsReplay())
	}

	var errs []error
	for _, h := range b.handlersFor(ev.Type()) {
		if err := h.Handle(ctx, ev); err != nil {
			if b.recorder != nil {
				b.recorder.HandlerFailed(string(ev.Type()))
			}
			errs = append(errs, &HandlerError{EventID: ev.ID, EventType: ev.Type(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Dispatch publishes events in order on the caller's goroutine and logs
// failures instead of returning them.
func (b *Bus) Dispatch(ctx context.Context, events ...event.Event) {
	for _, ev := range events {
		if err := b.Publish(ctx, ev); err != nil {
			log.Error().
				Err(err).
				Str("eventID", ev.ID).
				Str("eventType", string(ev.Type())).
				Str("aggregateID", ev.AggregateID()).
				Msg("Event handler failed")
		}
	}
}
