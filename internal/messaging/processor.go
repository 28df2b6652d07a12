// Package messaging connects the platform to Azure Service Bus: commands
// arrive on a session-enabled queue, live domain events leave on an
// integration topic.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/cqrs"
)

// Message directions and outcomes for the processed counter
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// MessageProcessor handles one received message
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error
}

// Recorder receives message counters
type Recorder interface {
	MessageProcessed(direction, outcome string)
}

// PermanentError marks a message that will never succeed
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether redelivering the message is pointless
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm) ||
		errors.Is(err, apperror.ErrValidation) ||
		errors.Is(err, apperror.ErrConflict) ||
		errors.Is(err, apperror.ErrNotFound) ||
		errors.Is(err, apperror.ErrUnsupportedEventType)
}

// Processor executes command envelopes on the command bus
type Processor struct {
	commands *cqrs.CommandBus
	recorder Recorder
}

// NewProcessor creates a processor
func NewProcessor(commands *cqrs.CommandBus, recorder Recorder) *Processor {
	return &Processor{commands: commands, recorder: recorder}
}

func (p *Processor) ProcessMessage(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	err := p.process(ctx, message)
	switch {
	case err == nil:
		p.record(OutcomeSuccess)
	case IsPermanent(err):
		p.record(OutcomeRejected)
	default:
		p.record(OutcomeFailed)
	}
	return err
}

func (p *Processor) process(ctx context.Context, message *azservicebus.ReceivedMessage) error {
	var env cqrs.Envelope
	if err := json.Unmarshal(message.Body, &env); err != nil {
		return &PermanentError{Err: fmt.Errorf("error unmarshalling message: %w", err)}
	}

	log.Info().
		Str("commandType", env.CommandType).
		Str("messageID", message.MessageID).
		Msg("Processing message")

	return p.commands.ExecuteEnvelope(ctx, env)
}

func (p *Processor) record(outcome string) {
	if p.recorder != nil {
		p.recorder.MessageProcessed(DirectionInbound, outcome)
	}
}
