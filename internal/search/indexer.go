package search

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

// Documents is the write surface the indexer needs
type Documents interface {
	IndexDocument(ctx context.Context, index, id string, doc any) error
	DeleteDocument(ctx context.Context, index, id string) error
}

// EventDocument is the event log entry indexed for every stored event
type EventDocument struct {
	Position      uint   `json:"position"`
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
	Timestamp     string `json:"timestamp"`
}

// Indexer copies tenant and user views into their indices after the
// projectors ran, and indexes the event log from EventRecorded.
type Indexer struct {
	db   *gorm.DB
	docs Documents
}

// NewIndexer creates an indexer reading views from the read database
func NewIndexer(db *gorm.DB, docs Documents) *Indexer {
	return &Indexer{db: db, docs: docs}
}

func (i *Indexer) EventTypes() []event.Type {
	return []event.Type{
		event.TenantCreated, event.TenantUpdated, event.TenantDeleted,
		event.UserCreated, event.UserUpdated, event.UserDeleted,
		event.EventRecorded,
	}
}

// Handle indexes the document affected by ev
func (i *Indexer) Handle(ctx context.Context, ev event.Event) error {
	switch data := ev.Data.(type) {
	case event.TenantCreatedEvent:
		return indexView[models.TenantView](ctx, i, TenantsIndex, data.TenantID)
	case event.TenantUpdatedEvent:
		return indexView[models.TenantView](ctx, i, TenantsIndex, data.TenantID)
	case event.TenantDeletedEvent:
		return i.docs.DeleteDocument(ctx, TenantsIndex, data.TenantID)
	case event.UserCreatedEvent:
		if err := indexView[models.UserView](ctx, i, UsersIndex, data.UserID); err != nil {
			return err
		}
		return indexView[models.TenantView](ctx, i, TenantsIndex, data.TenantID)
	case event.UserUpdatedEvent:
		return indexView[models.UserView](ctx, i, UsersIndex, data.UserID)
	case event.UserDeletedEvent:
		return i.docs.DeleteDocument(ctx, UsersIndex, data.UserID)
	case event.EventRecordedEvent:
		return i.docs.IndexDocument(ctx, EventsIndex, data.EventID, EventDocument{
			Position:      data.RecordID,
			EventID:       data.EventID,
			EventType:     data.RecordedEventType,
			AggregateType: data.RecordedAggregateType,
			AggregateID:   data.AggregateID,
			Timestamp:     data.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	default:
		return nil
	}
}

func indexView[T any](ctx context.Context, i *Indexer, index, id string) error {
	var view T
	err := i.db.WithContext(ctx).First(&view, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn().Str("index", index).Str("id", id).Msg("View missing, skipping index")
		return nil
	}
	if err != nil {
		return err
	}
	return i.docs.IndexDocument(ctx, index, id, view)
}
