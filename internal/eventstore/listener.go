package eventstore

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// Listener persists every live event published on the bus. Replayed events
// and the store's own bookkeeping events are never written.
type Listener struct {
	store      *Store
	dispatcher bus.Dispatcher
}

// NewListener creates a listener. dispatcher receives the EventRecorded
// notifications and may be nil.
func NewListener(store *Store, dispatcher bus.Dispatcher) *Listener {
	return &Listener{store: store, dispatcher: dispatcher}
}

// Register subscribes the listener to every event on b
func (l *Listener) Register(b *bus.Bus) {
	b.SubscribeAll(l)
}

// Handle implements bus.Handler
func (l *Listener) Handle(ctx context.Context, ev event.Event) error {
	if ev.IsReplay() || ev.Metadata.AggregateType == event.AggregateEventRecord {
		return nil
	}

	record, err := l.store.Append(ctx, ev)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			log.Debug().Str("eventID", ev.ID).Msg("Event already stored")
			return nil
		}
		return err
	}

	if l.dispatcher != nil {
		l.dispatcher.Dispatch(ctx, event.New(strconv.FormatUint(uint64(record.ID), 10), event.EventRecordedEvent{
			RecordID:              record.ID,
			EventID:               record.EventID,
			RecordedEventType:     record.EventType,
			RecordedAggregateType: record.AggregateType,
			AggregateID:           record.AggregateID,
			Timestamp:             record.Timestamp,
		}))
	}
	return nil
}
