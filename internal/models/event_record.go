package models

import (
	"encoding/json"
	"time"
)

// EventRecord is the persisted, append-only form of a domain event.
// ID is the insertion position and breaks timestamp ties.
type EventRecord struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID       string          `gorm:"uniqueIndex;size:36;not null" json:"event_id"`
	EventType     string          `gorm:"index;not null" json:"event_type"`
	AggregateType string          `gorm:"index;not null" json:"aggregate_type"`
	AggregateID   string          `gorm:"index;not null" json:"aggregate_id"`
	Payload       json.RawMessage `gorm:"not null" json:"payload"`
	Timestamp     time.Time       `gorm:"index;not null" json:"timestamp"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Lifecycle     Lifecycle       `gorm:"index;size:16;not null;default:ACTIVE" json:"-"`
	DeletedAt     *time.Time      `json:"deleted_at"`
}
