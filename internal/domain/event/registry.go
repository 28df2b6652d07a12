package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
)

type constructor func(raw json.RawMessage) (Payload, error)

// Registry maps event type names to payload constructors. It is built once at
// startup and is read-only afterwards.
type Registry struct {
	constructors map[Type]constructor
}

// NewRegistry returns a registry holding every event kind of this package.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[Type]constructor)}

	register[TenantCreatedEvent](r)
	register[TenantUpdatedEvent](r)
	register[TenantDeletedEvent](r)
	register[UserCreatedEvent](r)
	register[UserUpdatedEvent](r)
	register[UserDeletedEvent](r)
	register[SagaInstanceCreatedEvent](r)
	register[SagaInstanceStatusChangedEvent](r)
	register[SagaInstanceDeletedEvent](r)
	register[SagaStepCreatedEvent](r)
	register[SagaStepStatusChangedEvent](r)
	register[EventRecordedEvent](r)

	return r
}

func register[T Payload](r *Registry) {
	var zero T
	r.constructors[zero.EventType()] = func(raw json.RawMessage) (Payload, error) {
		var data T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, err
			}
		}
		return data, nil
	}
}

// Create builds an envelope for eventType from its serialized data. The
// metadata event type is overwritten with the resolved type and a new ID is
// generated on every call.
func (r *Registry) Create(eventType string, meta Metadata, data json.RawMessage) (Event, error) {
	construct, ok := r.constructors[Type(eventType)]
	if !ok {
		return Event{}, &apperror.UnsupportedEventTypeError{EventType: eventType}
	}

	payload, err := construct(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to decode %s data: %w", eventType, err)
	}

	meta.EventType = Type(eventType)
	if meta.AggregateType == "" {
		meta.AggregateType = payload.AggregateType()
	}

	return Event{
		ID:         uuid.New().String(),
		Metadata:   meta,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}, nil
}

// Supports reports whether eventType is registered.
func (r *Registry) Supports(eventType string) bool {
	_, ok := r.constructors[Type(eventType)]
	return ok
}

// Types lists the registered event types in lexical order.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
