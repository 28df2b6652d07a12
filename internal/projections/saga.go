package projections

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

// SagaProjector maintains SagaInstanceView and SagaStepView
type SagaProjector struct {
	db *gorm.DB
}

// NewSagaProjector creates a saga projector on the read database
func NewSagaProjector(db *gorm.DB) *SagaProjector {
	return &SagaProjector{db: db}
}

func (p *SagaProjector) EventTypes() []event.Type {
	return []event.Type{
		event.SagaInstanceCreated,
		event.SagaInstanceStatusChanged,
		event.SagaInstanceDeleted,
		event.SagaStepCreated,
		event.SagaStepStatusChanged,
	}
}

// Handle projects a saga event
func (p *SagaProjector) Handle(ctx context.Context, ev event.Event) error {
	switch data := ev.Data.(type) {
	case event.SagaInstanceCreatedEvent:
		view := models.SagaInstanceView{
			ID:        data.InstanceID,
			Name:      data.Name,
			Status:    data.Status,
			CreatedAt: ev.OccurredAt,
			UpdatedAt: ev.OccurredAt,
		}
		return insert(ctx, p.db, ev, &view, "name", "status", "deleted", "updated_at")
	case event.SagaInstanceStatusChangedEvent:
		return p.projectInstanceStatus(ctx, ev, data)
	case event.SagaInstanceDeletedEvent:
		if err := p.db.WithContext(ctx).Model(&models.SagaInstanceView{}).
			Where("id = ?", data.InstanceID).
			Updates(map[string]any{"deleted": true, "updated_at": ev.OccurredAt}).Error; err != nil {
			return fmt.Errorf("failed to delete saga instance view: %w", err)
		}
		return nil
	case event.SagaStepCreatedEvent:
		view := models.SagaStepView{
			ID:             data.StepID,
			SagaInstanceID: data.InstanceID,
			Name:           data.Name,
			Order:          data.Order,
			Status:         data.Status,
			MaxRetries:     data.MaxRetries,
			Payload:        data.Payload,
			CreatedAt:      ev.OccurredAt,
			UpdatedAt:      ev.OccurredAt,
		}
		return insert(ctx, p.db, ev, &view, "saga_instance_id", "name", "step_order", "max_retries", "payload", "updated_at")
	case event.SagaStepStatusChangedEvent:
		return p.projectStepStatus(ctx, ev, data)
	default:
		return nil
	}
}

func (p *SagaProjector) projectInstanceStatus(ctx context.Context, ev event.Event, data event.SagaInstanceStatusChangedEvent) error {
	result := p.db.WithContext(ctx).Model(&models.SagaInstanceView{}).
		Where("id = ?", data.InstanceID).
		Updates(map[string]any{
			"status":     data.Status,
			"start_date": data.StartDate,
			"end_date":   data.EndDate,
			"updated_at": ev.OccurredAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update saga instance view: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NewNotFound("SagaInstanceView", data.InstanceID)
	}
	return nil
}

// projectStepStatus upserts the full status snapshot of a step
func (p *SagaProjector) projectStepStatus(ctx context.Context, ev event.Event, data event.SagaStepStatusChangedEvent) error {
	view := models.SagaStepView{
		ID:             data.StepID,
		SagaInstanceID: data.InstanceID,
		Status:         data.Status,
		StartDate:      data.StartDate,
		EndDate:        data.EndDate,
		ErrorMessage:   data.ErrorMessage,
		RetryCount:     data.RetryCount,
		Result:         data.Result,
		CreatedAt:      ev.OccurredAt,
		UpdatedAt:      ev.OccurredAt,
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "start_date", "end_date", "error_message", "retry_count", "result", "updated_at",
		}),
	}).Create(&view).Error
	if err != nil {
		return fmt.Errorf("failed to upsert saga step view: %w", err)
	}
	return nil
}
