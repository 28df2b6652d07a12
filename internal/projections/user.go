package projections

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

// UserProjector maintains UserView and the user count of TenantView
type UserProjector struct {
	db *gorm.DB
}

// NewUserProjector creates a user projector on the read database
func NewUserProjector(db *gorm.DB) *UserProjector {
	return &UserProjector{db: db}
}

func (p *UserProjector) EventTypes() []event.Type {
	return []event.Type{event.UserCreated, event.UserUpdated, event.UserDeleted}
}

// Handle projects a user event
func (p *UserProjector) Handle(ctx context.Context, ev event.Event) error {
	switch data := ev.Data.(type) {
	case event.UserCreatedEvent:
		return p.projectCreated(ctx, ev, data)
	case event.UserUpdatedEvent:
		return p.projectUpdated(ctx, ev, data)
	case event.UserDeletedEvent:
		return p.projectDeleted(ctx, data)
	default:
		return nil
	}
}

func (p *UserProjector) projectCreated(ctx context.Context, ev event.Event, data event.UserCreatedEvent) error {
	view := models.UserView{
		ID:        data.UserID,
		TenantID:  data.TenantID,
		Email:     data.Email,
		Name:      data.Name,
		Bio:       data.Bio,
		Status:    data.Status,
		CreatedAt: ev.OccurredAt,
		UpdatedAt: ev.OccurredAt,
	}
	if err := insert(ctx, p.db, ev, &view, "tenant_id", "email", "name", "bio", "status", "updated_at"); err != nil {
		return err
	}
	return countUsers(ctx, p.db, data.TenantID)
}

func (p *UserProjector) projectUpdated(ctx context.Context, ev event.Event, data event.UserUpdatedEvent) error {
	var view models.UserView
	if err := p.db.WithContext(ctx).First(&view, "id = ?", data.UserID).Error; err != nil {
		return apperror.FromGorm(err, "UserView", data.UserID)
	}

	updates := map[string]any{"updated_at": ev.OccurredAt}
	data.Email.Apply(updates, "email")
	data.Name.Apply(updates, "name")
	data.Bio.Apply(updates, "bio")
	data.Status.Apply(updates, "status")

	if err := p.db.WithContext(ctx).Model(&view).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update user view: %w", err)
	}
	return nil
}

func (p *UserProjector) projectDeleted(ctx context.Context, data event.UserDeletedEvent) error {
	var view models.UserView
	err := p.db.WithContext(ctx).First(&view, "id = ?", data.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find user view: %w", err)
	}

	if err := p.db.WithContext(ctx).Delete(&view).Error; err != nil {
		return fmt.Errorf("failed to delete user view: %w", err)
	}
	return countUsers(ctx, p.db, view.TenantID)
}
