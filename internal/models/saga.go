package models

import (
	"encoding/json"
	"time"
)

// SagaInstance is one run of a named multi-step workflow
type SagaInstance struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Name      string     `gorm:"index;not null" json:"name"`
	Status    string     `gorm:"index;size:16;not null" json:"status"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	Lifecycle Lifecycle  `gorm:"index;size:16;not null;default:ACTIVE" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SagaStep is one ordered unit of work of an instance
type SagaStep struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	SagaInstanceID string          `gorm:"uniqueIndex:idx_saga_step_order;size:36;not null" json:"saga_instance_id"`
	Name           string          `gorm:"not null" json:"name"`
	Order          int             `gorm:"column:step_order;uniqueIndex:idx_saga_step_order;not null" json:"order"`
	Status         string          `gorm:"index;size:16;not null" json:"status"`
	StartDate      *time.Time      `json:"start_date"`
	EndDate        *time.Time      `json:"end_date"`
	ErrorMessage   *string         `json:"error_message"`
	RetryCount     int             `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries     int             `gorm:"not null" json:"max_retries"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Saga log entry types
const (
	SagaLogInfo    = "INFO"
	SagaLogWarning = "WARNING"
	SagaLogError   = "ERROR"
)

// SagaLog is an append-only audit entry written at every transition
type SagaLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SagaInstanceID string    `gorm:"index;size:36;not null" json:"saga_instance_id"`
	SagaStepID     *string   `gorm:"index;size:36" json:"saga_step_id"`
	Type           string    `gorm:"size:16;not null" json:"type"`
	Message        string    `gorm:"not null" json:"message"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
