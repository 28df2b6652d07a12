package saga

import (
	"encoding/json"
	"time"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// Step is one ordered unit of work. RetryCount counts failed attempts and
// never exceeds MaxRetries.
type Step struct {
	ID           string
	InstanceID   string
	Name         string
	Order        int
	Status       StepStatus
	StartDate    *time.Time
	EndDate      *time.Time
	ErrorMessage *string
	RetryCount   int
	MaxRetries   int
	Payload      json.RawMessage
	Result       json.RawMessage
}

// IdempotencyKey identifies the side effect of the step across attempts
func (s *Step) IdempotencyKey() string {
	return IdempotencyKey(s.InstanceID, s.Order)
}

// IsExhausted reports a failed step that used its last attempt
func (s *Step) IsExhausted() bool {
	return s.Status == StepFailed && s.RetryCount >= s.MaxRetries
}

// Start begins an attempt
func (s *Step) Start(now time.Time) error {
	if s.Status != StepPending {
		return s.transitionError(StepRunning)
	}
	s.Status = StepRunning
	if s.StartDate == nil {
		s.StartDate = utc(now)
	}
	s.EndDate = nil
	return nil
}

// Succeed completes the running attempt with result
func (s *Step) Succeed(result json.RawMessage, now time.Time) error {
	if s.Status != StepRunning {
		return s.transitionError(StepSucceeded)
	}
	s.Status = StepSucceeded
	s.EndDate = utc(now)
	s.ErrorMessage = nil
	s.Result = result
	return nil
}

// Fail records a failed attempt. The step is terminal once RetryCount
// reaches MaxRetries.
func (s *Step) Fail(cause error, now time.Time) error {
	if s.Status != StepRunning {
		return s.transitionError(StepFailed)
	}
	s.Status = StepFailed
	s.EndDate = utc(now)
	s.RetryCount++
	if s.RetryCount > s.MaxRetries {
		s.RetryCount = s.MaxRetries
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	s.ErrorMessage = &msg
	return nil
}

// Retry moves a failed step back to PENDING for another attempt
func (s *Step) Retry() error {
	if s.Status != StepFailed {
		return s.transitionError(StepPending)
	}
	if s.IsExhausted() {
		var cause error
		if s.ErrorMessage != nil {
			cause = stepFailure(*s.ErrorMessage)
		}
		return &apperror.RetryExhaustedError{
			StepID:     s.ID,
			RetryCount: s.RetryCount,
			MaxRetries: s.MaxRetries,
			Err:        cause,
		}
	}
	s.Status = StepPending
	s.ErrorMessage = nil
	s.EndDate = nil
	return nil
}

// Compensate marks a succeeded step as undone
func (s *Step) Compensate(now time.Time) error {
	if s.Status != StepSucceeded {
		return s.transitionError(StepCompensated)
	}
	s.Status = StepCompensated
	s.EndDate = utc(now)
	return nil
}

// StatusChanged is the full status snapshot published after a transition
func (s *Step) StatusChanged() event.SagaStepStatusChangedEvent {
	return event.SagaStepStatusChangedEvent{
		StepID:       s.ID,
		InstanceID:   s.InstanceID,
		Status:       string(s.Status),
		StartDate:    s.StartDate,
		EndDate:      s.EndDate,
		ErrorMessage: s.ErrorMessage,
		RetryCount:   s.RetryCount,
		Result:       s.Result,
	}
}

// Apply overwrites the status fields from a snapshot
func (s *Step) Apply(e event.SagaStepStatusChangedEvent) {
	s.Status = StepStatus(e.Status)
	s.StartDate = e.StartDate
	s.EndDate = e.EndDate
	s.ErrorMessage = e.ErrorMessage
	s.RetryCount = e.RetryCount
	if e.Result != nil {
		s.Result = e.Result
	}
}

func (s *Step) transitionError(to StepStatus) error {
	return &TransitionError{Entity: "SagaStep", ID: s.ID, From: string(s.Status), To: string(to)}
}

type stepFailure string

func (e stepFailure) Error() string { return string(e) }

func utc(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
