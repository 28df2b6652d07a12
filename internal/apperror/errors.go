package apperror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Sentinels matched through errors.Is by the typed errors below.
var (
	ErrNotFound             = errors.New("not found")
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrValidation           = errors.New("validation failed")
	ErrConflict             = errors.New("conflict")
	ErrRetryExhausted       = errors.New("retry exhausted")
)

// NotFoundError is returned when an aggregate, view model, saga instance or
// step cannot be found by id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound creates a NotFoundError.
func NewNotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// UnsupportedEventTypeError is returned by the type registry for unknown names.
type UnsupportedEventTypeError struct {
	EventType string
}

func (e *UnsupportedEventTypeError) Error() string {
	return "Unsupported eventType for replay: " + e.EventType
}

func (e *UnsupportedEventTypeError) Is(target error) bool { return target == ErrUnsupportedEventType }

// FieldError describes one invalid input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports malformed input detected before any write happens.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidation creates a ValidationError for a single field.
func NewValidation(field, reason string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// FromValidator converts validator/v10 errors into a ValidationError. Other
// errors are returned unchanged.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Reason: reason})
	}
	return out
}

// ConflictError is a unique-constraint violation.
type ConflictError struct {
	Entity string
	Field  string
	Value  string
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s already exists: %s", e.Entity, e.Value)
	}
	return fmt.Sprintf("%s with %s %q already exists", e.Entity, e.Field, e.Value)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// NewConflict creates a ConflictError.
func NewConflict(entity, field, value string) error {
	return &ConflictError{Entity: entity, Field: field, Value: value}
}

// RetryExhaustedError is returned when a saga step failed after its last
// allowed attempt.
type RetryExhaustedError struct {
	StepID     string
	RetryCount int
	MaxRetries int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	msg := fmt.Sprintf("saga step %s exhausted its retries (%d/%d)", e.StepID, e.RetryCount, e.MaxRetries)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// FromGorm maps gorm sentinel errors to typed errors. The DB must be opened
// with TranslateError so that duplicate keys surface as gorm.ErrDuplicatedKey.
func FromGorm(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NewNotFound(entity, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return NewConflict(entity, "", id)
	default:
		return err
	}
}
