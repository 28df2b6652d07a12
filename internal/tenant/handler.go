// Package tenant holds the write side of the tenant aggregate and its read
// queries.
package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/change"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/utils"
)

const entity = "Tenant"

// CommandHandler mutates tenants and dispatches their events after commit
type CommandHandler struct {
	db         *gorm.DB
	dispatcher bus.Dispatcher
}

// NewCommandHandler creates a tenant command handler
func NewCommandHandler(db *gorm.DB, dispatcher bus.Dispatcher) *CommandHandler {
	return &CommandHandler{db: db, dispatcher: dispatcher}
}

// HandleCreate creates a tenant with a unique slug
func (h *CommandHandler) HandleCreate(ctx context.Context, cmd CreateCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Status == "" {
		cmd.Status = StatusActive
	}

	log.Info().Str("aggregateID", cmd.ID).Msg("Handling CreateTenant command")

	tenant := models.Tenant{
		ID:          cmd.ID,
		Name:        cmd.Name,
		Slug:        cmd.Slug,
		Description: cmd.Description,
		Status:      cmd.Status,
	}

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSlug(tx, cmd.Slug, ""); err != nil {
			return err
		}
		if err := tx.Create(&tenant).Error; err != nil {
			return apperror.FromGorm(err, entity, cmd.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.dispatcher.Dispatch(ctx, event.New(tenant.ID, event.TenantCreatedEvent{
		TenantID:    tenant.ID,
		Name:        tenant.Name,
		Slug:        tenant.Slug,
		Description: tenant.Description,
		Status:      tenant.Status,
	}))
	return nil
}

// HandleUpdate applies the set fields of cmd. An update that sets nothing
// raises no event.
func (h *CommandHandler) HandleUpdate(ctx context.Context, cmd UpdateCommand) error {
	if err := validateUpdate(cmd); err != nil {
		return err
	}

	log.Info().Str("aggregateID", cmd.ID).Msg("Handling UpdateTenant command")

	updates := map[string]any{}
	cmd.Name.Apply(updates, "name")
	cmd.Slug.Apply(updates, "slug")
	cmd.Description.Apply(updates, "description")
	cmd.Status.Apply(updates, "status")

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant models.Tenant
		if err := tx.First(&tenant, "id = ?", cmd.ID).Error; err != nil {
			return apperror.FromGorm(err, entity, cmd.ID)
		}
		if slug, ok := cmd.Slug.Get(); ok && slug != tenant.Slug {
			if err := checkSlug(tx, slug, cmd.ID); err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&tenant).Updates(updates).Error; err != nil {
			return apperror.FromGorm(err, entity, cmd.ID)
		}
		return nil
	})
	if err != nil || len(updates) == 0 {
		return err
	}

	h.dispatcher.Dispatch(ctx, event.New(cmd.ID, event.TenantUpdatedEvent{
		TenantID:    cmd.ID,
		Name:        cmd.Name,
		Slug:        cmd.Slug,
		Description: cmd.Description,
		Status:      cmd.Status,
	}))
	return nil
}

// HandleDelete removes a tenant that has no users left
func (h *CommandHandler) HandleDelete(ctx context.Context, cmd DeleteCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}

	log.Info().Str("aggregateID", cmd.ID).Msg("Handling DeleteTenant command")

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&models.User{}).Where("tenant_id = ?", cmd.ID).Count(&users).Error; err != nil {
			return fmt.Errorf("failed to count tenant users: %w", err)
		}
		if users > 0 {
			return apperror.NewConflict(entity, "users", fmt.Sprintf("%d", users))
		}

		result := tx.Delete(&models.Tenant{}, "id = ?", cmd.ID)
		if result.Error != nil {
			return fmt.Errorf("failed to delete tenant: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperror.NewNotFound(entity, cmd.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.dispatcher.Dispatch(ctx, event.New(cmd.ID, event.TenantDeletedEvent{TenantID: cmd.ID}))
	return nil
}

func checkSlug(tx *gorm.DB, slug, excludeID string) error {
	q := tx.Model(&models.Tenant{}).Where("slug = ?", slug)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check tenant slug: %w", err)
	}
	if count > 0 {
		return apperror.NewConflict(entity, "slug", slug)
	}
	return nil
}

func validateUpdate(cmd UpdateCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}

	var fields []apperror.FieldError
	notNull := func(name string, f change.Field[string]) {
		if f.IsNull() {
			fields = append(fields, apperror.FieldError{Field: name, Reason: "cannot be null"})
		}
	}
	notNull("name", cmd.Name)
	notNull("slug", cmd.Slug)
	notNull("status", cmd.Status)

	if name, ok := cmd.Name.Get(); ok && (name == "" || len(name) > 255) {
		fields = append(fields, apperror.FieldError{Field: "name", Reason: "required"})
	}
	if slug, ok := cmd.Slug.Get(); ok && !utils.IsValidSlug(slug) {
		fields = append(fields, apperror.FieldError{Field: "slug", Reason: "slug"})
	}
	if status, ok := cmd.Status.Get(); ok && !validStatus(status) {
		fields = append(fields, apperror.FieldError{Field: "status", Reason: "oneof=ACTIVE SUSPENDED INACTIVE"})
	}

	if len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}

func validStatus(status string) bool {
	switch status {
	case StatusActive, StatusSuspended, StatusInactive:
		return true
	}
	return false
}
