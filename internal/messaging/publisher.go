package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// Sender is the part of azservicebus.Sender the publisher uses
type Sender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
}

// IntegrationEvent is the body of an outbound message
type IntegrationEvent struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Data          json.RawMessage `json:"data"`
}

// BreakerSettings tunes the circuit breaker around the sender
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// IntegrationPublisher forwards live domain events to the integration topic.
// Replayed events and event store bookkeeping are never forwarded.
type IntegrationPublisher struct {
	sender   Sender
	breaker  *gobreaker.CircuitBreaker
	recorder Recorder
}

// NewIntegrationPublisher wraps sender in a circuit breaker that opens after
// MaxFailures consecutive failures.
func NewIntegrationPublisher(sender Sender, settings BreakerSettings, recorder Recorder) *IntegrationPublisher {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "integration-publisher",
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &IntegrationPublisher{sender: sender, breaker: breaker, recorder: recorder}
}

// Register subscribes the publisher to every event on b
func (p *IntegrationPublisher) Register(b *bus.Bus) {
	b.SubscribeAll(p)
}

// Handle implements bus.Handler
func (p *IntegrationPublisher) Handle(ctx context.Context, ev event.Event) error {
	if ev.IsReplay() || ev.Metadata.AggregateType == event.AggregateEventRecord {
		return nil
	}

	data, err := ev.MarshalData()
	if err != nil {
		return err
	}
	body, err := json.Marshal(IntegrationEvent{
		EventID:       ev.ID,
		EventType:     string(ev.Type()),
		AggregateType: ev.Metadata.AggregateType,
		AggregateID:   ev.AggregateID(),
		OccurredAt:    ev.OccurredAt,
		Data:          data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal integration event: %w", err)
	}

	messageID := ev.ID
	sessionID := ev.AggregateID()
	subject := string(ev.Type())
	contentType := "application/json"
	message := &azservicebus.Message{
		Body:        body,
		MessageID:   &messageID,
		SessionID:   &sessionID,
		Subject:     &subject,
		ContentType: &contentType,
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.sender.SendMessage(ctx, message, nil)
	})
	if err != nil {
		p.record(OutcomeFailed)
		return fmt.Errorf("failed to publish integration event %s: %w", ev.ID, err)
	}

	p.record(OutcomeSuccess)
	return nil
}

// State reports the breaker state
func (p *IntegrationPublisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *IntegrationPublisher) record(outcome string) {
	if p.recorder != nil {
		p.recorder.MessageProcessed(DirectionOutbound, outcome)
	}
}
