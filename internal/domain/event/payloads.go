package event

import (
	"encoding/json"
	"time"

	"github.com/sisques-labs/project-starter-sub009/internal/change"
)

// Tenant Events

// TenantCreatedEvent represents a tenant created event
type TenantCreatedEvent struct {
	TenantID    string  `json:"tenant_id"`
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
}

// TenantUpdatedEvent carries only the fields that changed
type TenantUpdatedEvent struct {
	TenantID    string               `json:"tenant_id"`
	Name        change.Field[string] `json:"name,omitzero"`
	Slug        change.Field[string] `json:"slug,omitzero"`
	Description change.Field[string] `json:"description,omitzero"`
	Status      change.Field[string] `json:"status,omitzero"`
}

// TenantDeletedEvent represents a tenant deleted event
type TenantDeletedEvent struct {
	TenantID string `json:"tenant_id"`
}

// User Events

// UserCreatedEvent represents a user created event
type UserCreatedEvent struct {
	UserID   string  `json:"user_id"`
	TenantID string  `json:"tenant_id"`
	Email    string  `json:"email"`
	Name     string  `json:"name"`
	Bio      *string `json:"bio"`
	Status   string  `json:"status"`
}

// UserUpdatedEvent carries only the fields that changed
type UserUpdatedEvent struct {
	UserID string               `json:"user_id"`
	Email  change.Field[string] `json:"email,omitzero"`
	Name   change.Field[string] `json:"name,omitzero"`
	Bio    change.Field[string] `json:"bio,omitzero"`
	Status change.Field[string] `json:"status,omitzero"`
}

// UserDeletedEvent represents a user deleted event
type UserDeletedEvent struct {
	UserID string `json:"user_id"`
}

// Saga Events

// SagaInstanceCreatedEvent is raised when a workflow is defined
type SagaInstanceCreatedEvent struct {
	InstanceID string `json:"saga_instance_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// SagaInstanceStatusChangedEvent is raised whenever the derived instance
// status, start date or end date changes
type SagaInstanceStatusChangedEvent struct {
	InstanceID string     `json:"saga_instance_id"`
	Status     string     `json:"status"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
}

// SagaInstanceDeletedEvent represents an administrative soft delete
type SagaInstanceDeletedEvent struct {
	InstanceID string `json:"saga_instance_id"`
}

// SagaStepCreatedEvent is raised for every step at instance definition time
type SagaStepCreatedEvent struct {
	StepID     string          `json:"saga_step_id"`
	InstanceID string          `json:"saga_instance_id"`
	Name       string          `json:"name"`
	Order      int             `json:"order"`
	Status     string          `json:"status"`
	MaxRetries int             `json:"max_retries"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// SagaStepStatusChangedEvent is the full status snapshot of a step
type SagaStepStatusChangedEvent struct {
	StepID       string          `json:"saga_step_id"`
	InstanceID   string          `json:"saga_instance_id"`
	Status       string          `json:"status"`
	StartDate    *time.Time      `json:"start_date"`
	EndDate      *time.Time      `json:"end_date"`
	ErrorMessage *string         `json:"error_message"`
	RetryCount   int             `json:"retry_count"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Event store bookkeeping

// EventRecordedEvent is raised by the event store after a record is appended
type EventRecordedEvent struct {
	RecordID              uint      `json:"record_id"`
	EventID               string    `json:"event_id"`
	RecordedEventType     string    `json:"event_type"`
	RecordedAggregateType string    `json:"aggregate_type"`
	AggregateID           string    `json:"aggregate_id"`
	Timestamp             time.Time `json:"timestamp"`
}

func (TenantCreatedEvent) EventType() Type             { return TenantCreated }
func (TenantUpdatedEvent) EventType() Type             { return TenantUpdated }
func (TenantDeletedEvent) EventType() Type             { return TenantDeleted }
func (UserCreatedEvent) EventType() Type               { return UserCreated }
func (UserUpdatedEvent) EventType() Type               { return UserUpdated }
func (UserDeletedEvent) EventType() Type               { return UserDeleted }
func (SagaInstanceCreatedEvent) EventType() Type       { return SagaInstanceCreated }
func (SagaInstanceStatusChangedEvent) EventType() Type { return SagaInstanceStatusChanged }
func (SagaInstanceDeletedEvent) EventType() Type       { return SagaInstanceDeleted }
func (SagaStepCreatedEvent) EventType() Type           { return SagaStepCreated }
func (SagaStepStatusChangedEvent) EventType() Type     { return SagaStepStatusChanged }
func (EventRecordedEvent) EventType() Type             { return EventRecorded }

func (TenantCreatedEvent) AggregateType() string             { return AggregateTenant }
func (TenantUpdatedEvent) AggregateType() string             { return AggregateTenant }
func (TenantDeletedEvent) AggregateType() string             { return AggregateTenant }
func (UserCreatedEvent) AggregateType() string               { return AggregateUser }
func (UserUpdatedEvent) AggregateType() string               { return AggregateUser }
func (UserDeletedEvent) AggregateType() string               { return AggregateUser }
func (SagaInstanceCreatedEvent) AggregateType() string       { return AggregateSagaInstance }
func (SagaInstanceStatusChangedEvent) AggregateType() string { return AggregateSagaInstance }
func (SagaInstanceDeletedEvent) AggregateType() string       { return AggregateSagaInstance }
func (SagaStepCreatedEvent) AggregateType() string           { return AggregateSagaStep }
func (SagaStepStatusChangedEvent) AggregateType() string     { return AggregateSagaStep }
func (EventRecordedEvent) AggregateType() string             { return AggregateEventRecord }

func (TenantCreatedEvent) payload()             {}
func (TenantUpdatedEvent) payload()             {}
func (TenantDeletedEvent) payload()             {}
func (UserCreatedEvent) payload()               {}
func (UserUpdatedEvent) payload()               {}
func (UserDeletedEvent) payload()               {}
func (SagaInstanceCreatedEvent) payload()       {}
func (SagaInstanceStatusChangedEvent) payload() {}
func (SagaInstanceDeletedEvent) payload()       {}
func (SagaStepCreatedEvent) payload()           {}
func (SagaStepStatusChangedEvent) payload()     {}
func (EventRecordedEvent) payload()             {}
