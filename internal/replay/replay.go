// Package replay re-publishes stored events so that subscribers can rebuild
// their state.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/eventstore"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/utils"
)

// Filter selects the records to replay. Empty optional fields match
// anything; the time range is inclusive.
type Filter struct {
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	EventType     string    `json:"event_type"`
	From          time.Time `json:"from" validate:"required"`
	To            time.Time `json:"to" validate:"required,gtefield=From"`
	BatchSize     int       `json:"batch_size" validate:"min=1"`
}

// Error stops a replay run. Replayed events stay applied.
type Error struct {
	Replayed int
	EventID  string
	Err      error
}

func (e *Error) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("replay stopped after %d events: %v", e.Replayed, e.Err)
	}
	return fmt.Sprintf("replay stopped after %d events at %s: %v", e.Replayed, e.EventID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Source reads stored records in keyset order
type Source interface {
	Scan(ctx context.Context, f eventstore.Filter, after *eventstore.Cursor, limit int) ([]models.EventRecord, error)
}

// Publisher delivers an event synchronously
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Recorder receives run counters
type Recorder interface {
	ReplayFinished(replayed int, err error)
}

// Engine replays events from the store onto the bus
type Engine struct {
	source    Source
	registry  *event.Registry
	publisher Publisher
	recorder  Recorder
	batchSize int
}

// NewEngine creates a replay engine
func NewEngine(source Source, registry *event.Registry, publisher Publisher, recorder Recorder) *Engine {
	return &Engine{
		source:    source,
		registry:  registry,
		publisher: publisher,
		recorder:  recorder,
	}
}

// WithBatchSize sets the batch size used when a filter leaves it at zero
func (e *Engine) WithBatchSize(n int) *Engine {
	e.batchSize = n
	return e
}

// Execute replays every record matching f in ascending (timestamp, position)
// order, f.BatchSize records at a time, and returns the number re-published.
// The first failure ends the run with an *Error; nothing is retried.
func (e *Engine) Execute(ctx context.Context, f Filter) (int, error) {
	if f.BatchSize == 0 {
		f.BatchSize = e.batchSize
	}
	if err := utils.ValidateStruct(f); err != nil {
		return 0, err
	}

	replayed, err := e.run(ctx, f)
	if e.recorder != nil {
		e.recorder.ReplayFinished(replayed, err)
	}
	if err != nil {
		log.Error().
			Err(err).
			Int("replayed", replayed).
			Str("aggregateID", f.AggregateID).
			Str("aggregateType", f.AggregateType).
			Str("eventType", f.EventType).
			Msg("Replay stopped")
		return replayed, err
	}

	log.Info().
		Int("replayed", replayed).
		Str("aggregateID", f.AggregateID).
		Str("aggregateType", f.AggregateType).
		Str("eventType", f.EventType).
		Time("from", f.From).
		Time("to", f.To).
		Msg("Replay completed")
	return replayed, nil
}

func (e *Engine) run(ctx context.Context, f Filter) (int, error) {
	from, to := f.From.UTC(), f.To.UTC()
	filter := eventstore.Filter{
		AggregateID:   f.AggregateID,
		AggregateType: f.AggregateType,
		EventType:     f.EventType,
		From:          &from,
		To:            &to,
	}

	replayed := 0
	var cursor *eventstore.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return replayed, &Error{Replayed: replayed, Err: err}
		}

		batch, err := e.source.Scan(ctx, filter, cursor, f.BatchSize)
		if err != nil {
			return replayed, &Error{Replayed: replayed, Err: err}
		}

		for _, record := range batch {
			if err := ctx.Err(); err != nil {
				return replayed, &Error{Replayed: replayed, EventID: record.EventID, Err: err}
			}
			if err := e.replayRecord(ctx, record); err != nil {
				return replayed, &Error{Replayed: replayed, EventID: record.EventID, Err: err}
			}
			replayed++
		}

		if len(batch) < f.BatchSize {
			return replayed, nil
		}
		next := eventstore.CursorOf(batch[len(batch)-1])
		cursor = &next
	}
}

func (e *Engine) replayRecord(ctx context.Context, record models.EventRecord) error {
	ev, err := e.registry.Create(record.EventType, event.Metadata{
		AggregateID:   record.AggregateID,
		AggregateType: record.AggregateType,
		IsReplay:      true,
	}, record.Payload)
	if err != nil {
		return err
	}
	ev.OccurredAt = record.Timestamp

	log.Debug().
		Str("eventID", record.EventID).
		Str("eventType", record.EventType).
		Str("aggregateID", record.AggregateID).
		Msg("Replaying event")

	return e.publisher.Publish(ctx, ev)
}

// CommandType names Filter on the command bus
func (Filter) CommandType() string { return "ReplayEvents" }

// Handle runs a replay requested on the command bus. The count is only
// logged.
func (e *Engine) Handle(ctx context.Context, f Filter) error {
	_, err := e.Execute(ctx, f)
	return err
}
