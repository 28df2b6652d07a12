package saga

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

var instanceFields = criteria.Fields{
	"id":         "id",
	"name":       "name",
	"status":     "status",
	"start_date": "start_date",
	"end_date":   "end_date",
	"created_at": "created_at",
}

// Queries reads saga state. Instances and steps come from the projected
// views; logs are read from the write database where they are appended.
type Queries struct {
	read  *gorm.DB
	write *gorm.DB
}

// NewQueries creates the saga query service
func NewQueries(read, write *gorm.DB) *Queries {
	return &Queries{read: read, write: write}
}

// FindInstanceByID returns the view of a non-deleted instance
func (q *Queries) FindInstanceByID(ctx context.Context, id string) (*models.SagaInstanceView, error) {
	var view models.SagaInstanceView
	if err := q.read.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&view).Error; err != nil {
		return nil, apperror.FromGorm(err, entityInstance, id)
	}
	return &view, nil
}

// FindInstances pages through non-deleted instances, newest first by default
func (q *Queries) FindInstances(ctx context.Context, c criteria.Criteria) (criteria.Page[models.SagaInstanceView], error) {
	base := q.read.Where("deleted = ?", false)
	return criteria.Find[models.SagaInstanceView](ctx, base, c, instanceFields,
		criteria.Sort{Field: "created_at", Direction: criteria.Desc})
}

// FindStepsByInstance returns the steps of an instance in execution order
func (q *Queries) FindStepsByInstance(ctx context.Context, instanceID string) ([]models.SagaStepView, error) {
	if _, err := q.FindInstanceByID(ctx, instanceID); err != nil {
		return nil, err
	}

	var steps []models.SagaStepView
	if err := q.read.WithContext(ctx).
		Where("saga_instance_id = ?", instanceID).
		Order("step_order ASC").
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to find saga steps: %w", err)
	}
	return steps, nil
}

// FindLogsByInstance returns every log entry of an instance in append order
func (q *Queries) FindLogsByInstance(ctx context.Context, instanceID string) ([]models.SagaLog, error) {
	var count int64
	if err := q.write.WithContext(ctx).Model(&models.SagaInstance{}).Where("id = ?", instanceID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to find saga instance: %w", err)
	}
	if count == 0 {
		return nil, apperror.NewNotFound(entityInstance, instanceID)
	}

	var logs []models.SagaLog
	if err := q.write.WithContext(ctx).
		Where("saga_instance_id = ?", instanceID).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to find saga logs: %w", err)
	}
	return logs, nil
}

// FindLogsByStep returns the log entries written for one step
func (q *Queries) FindLogsByStep(ctx context.Context, stepID string) ([]models.SagaLog, error) {
	var count int64
	if err := q.write.WithContext(ctx).Model(&models.SagaStep{}).Where("id = ?", stepID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to find saga step: %w", err)
	}
	if count == 0 {
		return nil, apperror.NewNotFound(entityStep, stepID)
	}

	var logs []models.SagaLog
	if err := q.write.WithContext(ctx).
		Where("saga_step_id = ?", stepID).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to find saga logs: %w", err)
	}
	return logs, nil
}
