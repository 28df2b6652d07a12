package saga

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

// InstanceSynchronizer re-derives the status and dates of a saga instance
// from its steps whenever a step status changes.
type InstanceSynchronizer struct{}

// Sync applies a SagaStepStatusChanged event inside tx and returns the
// SagaInstanceStatusChanged event to publish, or nil when the instance did
// not change. Replayed events never touch the write side.
func (InstanceSynchronizer) Sync(ctx context.Context, tx *gorm.DB, ev event.Event) (*event.Event, error) {
	if ev.IsReplay() {
		return nil, nil
	}
	data, ok := ev.Data.(event.SagaStepStatusChangedEvent)
	if !ok {
		return nil, nil
	}

	var row models.SagaInstance
	if err := tx.WithContext(ctx).First(&row, "id = ?", data.InstanceID).Error; err != nil {
		return nil, apperror.FromGorm(err, "SagaInstance", data.InstanceID)
	}

	var stepRows []models.SagaStep
	if err := tx.WithContext(ctx).
		Where("saga_instance_id = ?", data.InstanceID).
		Order("step_order ASC").
		Find(&stepRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load saga steps: %w", err)
	}

	instance := instanceFromModel(row)
	if !instance.Sync(stepsFromModels(stepRows)) {
		return nil, nil
	}

	if err := tx.WithContext(ctx).
		Model(&models.SagaInstance{}).
		Where("id = ?", instance.ID).
		Updates(instanceUpdates(&instance)).Error; err != nil {
		return nil, fmt.Errorf("failed to update saga instance: %w", err)
	}

	if err := tx.WithContext(ctx).Create(&models.SagaLog{
		SagaInstanceID: instance.ID,
		Type:           models.SagaLogInfo,
		Message:        fmt.Sprintf("Saga instance is now %s", instance.Status),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to write saga log: %w", err)
	}

	changed := event.New(instance.ID, event.SagaInstanceStatusChangedEvent{
		InstanceID: instance.ID,
		Status:     string(instance.Status),
		StartDate:  instance.StartDate,
		EndDate:    instance.EndDate,
	})
	return &changed, nil
}
