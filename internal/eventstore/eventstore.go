package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

const entityEventRecord = "EventRecord"

// Filter selects event records. Empty strings and nil bounds match anything;
// From and To are inclusive.
type Filter struct {
	AggregateID   string
	AggregateType string
	EventType     string
	From          *time.Time
	To            *time.Time
}

// Cursor is a keyset position in (timestamp, id) order
type Cursor struct {
	Timestamp time.Time
	ID        uint
}

// CursorOf returns the position of rec
func CursorOf(rec models.EventRecord) Cursor {
	return Cursor{Timestamp: rec.Timestamp, ID: rec.ID}
}

// Recorder receives append counters
type Recorder interface {
	EventStored(aggregateType string)
}

// Store is the append-only event store backed by GORM
type Store struct {
	db       *gorm.DB
	recorder Recorder
}

// New creates a new event store
func New(db *gorm.DB, recorder Recorder) *Store {
	return &Store{db: db, recorder: recorder}
}

// Append persists ev as a new record. A second append of the same event ID
// fails with a ConflictError.
func (s *Store) Append(ctx context.Context, ev event.Event) (*models.EventRecord, error) {
	payload, err := ev.MarshalData()
	if err != nil {
		return nil, err
	}

	timestamp := ev.OccurredAt.UTC()
	if ev.OccurredAt.IsZero() {
		timestamp = time.Now().UTC()
	}

	record := models.EventRecord{
		EventID:       ev.ID,
		EventType:     string(ev.Type()),
		AggregateType: ev.Metadata.AggregateType,
		AggregateID:   ev.AggregateID(),
		Payload:       payload,
		Timestamp:     timestamp,
		Lifecycle:     models.LifecycleActive,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.EventRecord{}).Where("event_id = ?", ev.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check event: %w", err)
		}
		if count > 0 {
			return apperror.NewConflict(entityEventRecord, "event_id", ev.ID)
		}

		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperror.NewConflict(entityEventRecord, "event_id", ev.ID)
			}
			return fmt.Errorf("failed to save event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.EventStored(record.AggregateType)
	}

	log.Info().
		Str("aggregateID", record.AggregateID).
		Str("eventType", record.EventType).
		Str("eventID", record.EventID).
		Uint("position", record.ID).
		Msg("Event saved")

	return &record, nil
}

// FindByEventID loads an active record by event ID
func (s *Store) FindByEventID(ctx context.Context, eventID string) (*models.EventRecord, error) {
	var record models.EventRecord
	err := s.active(ctx).Where("event_id = ?", eventID).First(&record).Error
	if err != nil {
		return nil, apperror.FromGorm(err, entityEventRecord, eventID)
	}
	return &record, nil
}

// FindByCriteria returns one page of records ordered by timestamp then
// position in the given direction.
func (s *Store) FindByCriteria(ctx context.Context, f Filter, dir criteria.Direction, p criteria.Pagination) (criteria.Page[models.EventRecord], error) {
	if err := f.Validate(); err != nil {
		return criteria.Page[models.EventRecord]{}, err
	}
	dir, err := criteria.ParseDirection(string(dir))
	if err != nil {
		return criteria.Page[models.EventRecord]{}, err
	}

	db := f.apply(s.active(ctx))

	var total int64
	if err := db.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return criteria.Page[models.EventRecord]{}, fmt.Errorf("failed to count events: %w", err)
	}

	p = p.Normalize()
	var records []models.EventRecord
	if err := db.
		Order("timestamp " + string(dir)).
		Order("id " + string(dir)).
		Offset(p.Offset()).
		Limit(p.PerPage).
		Find(&records).Error; err != nil {
		return criteria.Page[models.EventRecord]{}, fmt.Errorf("failed to find events: %w", err)
	}

	return criteria.NewPage(records, total, p), nil
}

// Scan reads up to limit records strictly after the cursor in ascending
// (timestamp, id) order. A nil cursor starts from the beginning.
func (s *Store) Scan(ctx context.Context, f Filter, after *Cursor, limit int) ([]models.EventRecord, error) {
	if limit < 1 {
		return nil, apperror.NewValidation("limit", "must be at least 1")
	}

	db := f.apply(s.active(ctx))
	if after != nil {
		ts := after.Timestamp.UTC()
		db = db.Where("(timestamp > ?) OR (timestamp = ? AND id > ?)", ts, ts, after.ID)
	}

	var records []models.EventRecord
	if err := db.
		Order("timestamp ASC").
		Order("id ASC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return records, nil
}

// Tombstone marks a record as deleted. Payload and timestamp are untouched
// and the record disappears from queries and replays.
func (s *Store) Tombstone(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("event_id = ? AND lifecycle = ?", eventID, models.LifecycleActive).
		Updates(map[string]any{
			"lifecycle":  models.LifecycleDeleted,
			"deleted_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to tombstone event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NewNotFound(entityEventRecord, eventID)
	}

	log.Info().Str("eventID", eventID).Msg("Event tombstoned")
	return nil
}

func (s *Store) active(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&models.EventRecord{}).
		Where("lifecycle = ?", models.LifecycleActive)
}

// Validate checks the time bounds
func (f Filter) Validate() error {
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return apperror.NewValidation("from", "must not be after to")
	}
	return nil
}

func (f Filter) apply(db *gorm.DB) *gorm.DB {
	if f.AggregateID != "" {
		db = db.Where("aggregate_id = ?", f.AggregateID)
	}
	if f.AggregateType != "" {
		db = db.Where("aggregate_type = ?", f.AggregateType)
	}
	if f.EventType != "" {
		db = db.Where("event_type = ?", f.EventType)
	}
	if f.From != nil {
		db = db.Where("timestamp >= ?", f.From.UTC())
	}
	if f.To != nil {
		db = db.Where("timestamp <= ?", f.To.UTC())
	}
	return db
}
