package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the string discriminator persisted with every event record.
type Type string

// Event types
const (
	// Tenant events
	TenantCreated Type = "V1_TENANT_CREATED"
	TenantUpdated Type = "V1_TENANT_UPDATED"
	TenantDeleted Type = "V1_TENANT_DELETED"

	// User events
	UserCreated Type = "V1_USER_CREATED"
	UserUpdated Type = "V1_USER_UPDATED"
	UserDeleted Type = "V1_USER_DELETED"

	// Saga events
	SagaInstanceCreated       Type = "V1_SAGA_INSTANCE_CREATED"
	SagaInstanceStatusChanged Type = "V1_SAGA_INSTANCE_STATUS_CHANGED"
	SagaInstanceDeleted       Type = "V1_SAGA_INSTANCE_DELETED"
	SagaStepCreated           Type = "V1_SAGA_STEP_CREATED"
	SagaStepStatusChanged     Type = "V1_SAGA_STEP_STATUS_CHANGED"

	// Event store bookkeeping
	EventRecorded Type = "V1_EVENT_RECORDED"
)

// Aggregate types
const (
	AggregateTenant       = "Tenant"
	AggregateUser         = "User"
	AggregateSagaInstance = "SagaInstance"
	AggregateSagaStep     = "SagaStep"
	// AggregateEventRecord is the event store's own bookkeeping aggregate.
	// Its events are never written back into the store.
	AggregateEventRecord = "EventRecord"
)

// Metadata travels with every envelope.
type Metadata struct {
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	EventType     Type   `json:"event_type"`
	IsReplay      bool   `json:"is_replay"`
}

// Payload is the closed set of event data types defined in this package.
type Payload interface {
	EventType() Type
	AggregateType() string
	payload()
}

// Event is the transient envelope delivered on the bus. It is never stored
// directly; the event store persists a record built from it.
type Event struct {
	ID         string    `json:"event_id"`
	Metadata   Metadata  `json:"metadata"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       Payload   `json:"data"`
}

// New builds a live envelope for data raised by aggregateID. Each call yields
// a fresh ID.
func New(aggregateID string, data Payload) Event {
	return Event{
		ID: uuid.New().String(),
		Metadata: Metadata{
			AggregateID:   aggregateID,
			AggregateType: data.AggregateType(),
			EventType:     data.EventType(),
		},
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Type returns the event type discriminator.
func (e Event) Type() Type { return e.Metadata.EventType }

// AggregateID returns the id of the aggregate that raised the event.
func (e Event) AggregateID() string { return e.Metadata.AggregateID }

// IsReplay reports whether the event is re-delivered from the store.
func (e Event) IsReplay() bool { return e.Metadata.IsReplay }

// MarshalData serializes the payload for storage.
func (e Event) MarshalData() (json.RawMessage, error) {
	if e.Data == nil {
		return nil, fmt.Errorf("event %s has no data", e.ID)
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", e.Metadata.EventType, err)
	}
	return raw, nil
}
