package projections

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
)

// TenantProjector maintains TenantView
type TenantProjector struct {
	db *gorm.DB
}

// NewTenantProjector creates a tenant projector on the read database
func NewTenantProjector(db *gorm.DB) *TenantProjector {
	return &TenantProjector{db: db}
}

func (p *TenantProjector) EventTypes() []event.Type {
	return []event.Type{event.TenantCreated, event.TenantUpdated, event.TenantDeleted}
}

// Handle projects a tenant event
func (p *TenantProjector) Handle(ctx context.Context, ev event.Event) error {
	switch data := ev.Data.(type) {
	case event.TenantCreatedEvent:
		return p.projectCreated(ctx, ev, data)
	case event.TenantUpdatedEvent:
		return p.projectUpdated(ctx, ev, data)
	case event.TenantDeletedEvent:
		return p.projectDeleted(ctx, data)
	default:
		return nil
	}
}

func (p *TenantProjector) projectCreated(ctx context.Context, ev event.Event, data event.TenantCreatedEvent) error {
	view := models.TenantView{
		ID:          data.TenantID,
		Name:        data.Name,
		Slug:        data.Slug,
		Description: data.Description,
		Status:      data.Status,
		CreatedAt:   ev.OccurredAt,
		UpdatedAt:   ev.OccurredAt,
	}
	if err := insert(ctx, p.db, ev, &view, "name", "slug", "description", "status", "updated_at"); err != nil {
		return err
	}
	return countUsers(ctx, p.db, data.TenantID)
}

func (p *TenantProjector) projectUpdated(ctx context.Context, ev event.Event, data event.TenantUpdatedEvent) error {
	var view models.TenantView
	if err := p.db.WithContext(ctx).First(&view, "id = ?", data.TenantID).Error; err != nil {
		return apperror.FromGorm(err, "TenantView", data.TenantID)
	}

	updates := map[string]any{"updated_at": ev.OccurredAt}
	data.Name.Apply(updates, "name")
	data.Slug.Apply(updates, "slug")
	data.Description.Apply(updates, "description")
	data.Status.Apply(updates, "status")

	if err := p.db.WithContext(ctx).Model(&view).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update tenant view: %w", err)
	}
	return nil
}

func (p *TenantProjector) projectDeleted(ctx context.Context, data event.TenantDeletedEvent) error {
	result := p.db.WithContext(ctx).Delete(&models.TenantView{}, "id = ?", data.TenantID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete tenant view: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		log.Debug().Str("tenantID", data.TenantID).Msg("Tenant view already removed")
	}
	return nil
}

// countUsers refreshes the denormalized user count of a tenant view
func countUsers(ctx context.Context, db *gorm.DB, tenantID string) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.UserView{}).Where("tenant_id = ?", tenantID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count tenant users: %w", err)
	}
	if err := db.WithContext(ctx).Model(&models.TenantView{}).
		Where("id = ?", tenantID).
		Update("user_count", count).Error; err != nil {
		return fmt.Errorf("failed to update tenant user count: %w", err)
	}
	return nil
}
