package models

import (
	"encoding/json"
	"time"
)

// View models live in the read database and are written only by projectors.

type TenantView struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `json:"name"`
	Slug        string    `gorm:"index" json:"slug"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	UserCount   int       `gorm:"not null;default:0" json:"user_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UserView struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	TenantID  string    `gorm:"index;size:36" json:"tenant_id"`
	Email     string    `gorm:"index" json:"email"`
	Name      string    `json:"name"`
	Bio       *string   `json:"bio"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SagaInstanceView struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Name      string     `gorm:"index" json:"name"`
	Status    string     `gorm:"index" json:"status"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	Deleted   bool       `gorm:"index;not null;default:false" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type SagaStepView struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	SagaInstanceID string          `gorm:"index;size:36" json:"saga_instance_id"`
	Name           string          `json:"name"`
	Order          int             `gorm:"column:step_order" json:"order"`
	Status         string          `json:"status"`
	StartDate      *time.Time      `json:"start_date"`
	EndDate        *time.Time      `json:"end_date"`
	ErrorMessage   *string         `json:"error_message"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WriteModels lists the tables owned by the write database.
func WriteModels() []interface{} {
	return []interface{}{
		&EventRecord{},
		&Tenant{},
		&User{},
		&SagaInstance{},
		&SagaStep{},
		&SagaLog{},
	}
}

// ReadModels lists the tables owned by the read database.
func ReadModels() []interface{} {
	return []interface{}{
		&TenantView{},
		&UserView{},
		&SagaInstanceView{},
		&SagaStepView{},
	}
}
