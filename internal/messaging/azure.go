package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/config"
)

// AzureClient consumes the command queue and owns the integration sender
type AzureClient struct {
	client  *azservicebus.Client
	workers int
}

// NewAzureClient connects to Service Bus with the configured connection
// string
func NewAzureClient(cfg config.AzureConfig) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, err
	}

	workers := cfg.SessionWorkers
	if workers < 1 {
		workers = 1
	}
	return &AzureClient{client: client, workers: workers}, nil
}

// NewSender opens a sender on a queue or topic
func (a *AzureClient) NewSender(queueOrTopic string) (*azservicebus.Sender, error) {
	return a.client.NewSender(queueOrTopic, nil)
}

// StartConsumers accepts sessions of queueName until ctx is cancelled. At
// most the configured number of sessions are handled at once; messages of
// one session are processed in order.
func (a *AzureClient) StartConsumers(ctx context.Context, queueName string, processor MessageProcessor) error {
	log.Info().Str("queue", queueName).Int("workers", a.workers).Msg("Starting consumers")

	slots := make(chan struct{}, a.workers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case slots <- struct{}{}:
		}

		sessionReceiver, err := a.client.AcceptNextSessionForQueue(ctx, queueName, nil)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting...")
				if !sleep(ctx, 2*time.Second) {
					return nil
				}
				continue
			}
			return err
		}

		log.Info().Str("sessionID", sessionReceiver.SessionID()).Msg("Session received")

		go func() {
			defer func() { <-slots }()
			a.handleSession(ctx, sessionReceiver, processor)
		}()
	}
}

func (a *AzureClient) handleSession(ctx context.Context, receiver *azservicebus.SessionReceiver, processor MessageProcessor) {
	defer func() {
		log.Info().Str("sessionID", receiver.SessionID()).Msg("Closing session")
		if err := receiver.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Str("sessionID", receiver.SessionID()).Msg("Error closing session")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("sessionID", receiver.SessionID()).Msg("Error receiving messages")
			}
			return
		}
		if len(messages) == 0 {
			return
		}

		log.Debug().Int("count", len(messages)).Str("sessionID", receiver.SessionID()).Msg("Received messages")

		settleCtx := context.WithoutCancel(ctx)
		for _, message := range messages {
			err := processor.ProcessMessage(ctx, message)
			switch {
			case err == nil:
				if err := receiver.CompleteMessage(settleCtx, message, nil); err != nil {
					log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error completing message")
				}
			case IsPermanent(err):
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Rejecting message")
				reason := "rejected"
				description := err.Error()
				if err := receiver.DeadLetterMessage(settleCtx, message, &azservicebus.DeadLetterOptions{
					Reason:           &reason,
					ErrorDescription: &description,
				}); err != nil {
					log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error dead-lettering message")
				}
			default:
				log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error processing message")
				if err := receiver.AbandonMessage(settleCtx, message, nil); err != nil {
					log.Error().Err(err).Str("messageID", message.MessageID).Msg("Error abandoning message")
				}
			}
		}
	}
}

// Close releases the Service Bus connection
func (a *AzureClient) Close(ctx context.Context) error {
	return a.client.Close(ctx)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
