package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"not found", NewNotFound("tenant", "t-1"), ErrNotFound},
		{"unsupported", &UnsupportedEventTypeError{EventType: "X"}, ErrUnsupportedEventType},
		{"validation", NewValidation("from", "required"), ErrValidation},
		{"conflict", NewConflict("tenant", "slug", "acme"), ErrConflict},
		{"retry", &RetryExhaustedError{StepID: "s", RetryCount: 3, MaxRetries: 3}, ErrRetryExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handling command: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.sentinel)
		})
	}
}

func TestUnsupportedEventTypeMessage(t *testing.T) {
	err := &UnsupportedEventTypeError{EventType: "UnknownEvent"}
	assert.Contains(t, err.Error(), "Unsupported eventType for replay: UnknownEvent")
}

func TestFromValidator(t *testing.T) {
	type input struct {
		Name string `validate:"required"`
		Size int    `validate:"min=1"`
	}
	err := FromValidator(validator.New().Struct(input{}))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 2)
	assert.Equal(t, "Name", verr.Fields[0].Field)
	assert.Equal(t, "min=1", verr.Fields[1].Reason)
}

func TestFromGorm(t *testing.T) {
	assert.NoError(t, FromGorm(nil, "tenant", "1"))
	assert.ErrorIs(t, FromGorm(gorm.ErrRecordNotFound, "tenant", "1"), ErrNotFound)
	assert.ErrorIs(t, FromGorm(gorm.ErrDuplicatedKey, "tenant", "1"), ErrConflict)

	other := errors.New("boom")
	assert.Equal(t, other, FromGorm(other, "tenant", "1"))
}
