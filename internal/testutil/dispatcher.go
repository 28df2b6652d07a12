package testutil

import (
	"context"
	"sync"

	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// RecordingDispatcher keeps every dispatched event in order.
type RecordingDispatcher struct {
	mu     sync.Mutex
	events []event.Event
}

func (d *RecordingDispatcher) Dispatch(ctx context.Context, events ...event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
}

// Events returns a copy of the dispatched events
func (d *RecordingDispatcher) Events() []event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]event.Event(nil), d.events...)
}

// Types returns the dispatched event types in order
func (d *RecordingDispatcher) Types() []event.Type {
	var types []event.Type
	for _, ev := range d.Events() {
		types = append(types, ev.Type())
	}
	return types
}

// Reset forgets the recorded events
func (d *RecordingDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}
