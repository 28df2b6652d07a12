// Package user holds the write side of the user aggregate and its read
// queries.
package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/utils"
)

const entity = "User"

// CommandHandler mutates users and dispatches their events after commit
type CommandHandler struct {
	db         *gorm.DB
	dispatcher bus.Dispatcher
}

// NewCommandHandler creates a user command handler
func NewCommandHandler(db *gorm.DB, dispatcher bus.Dispatcher) *CommandHandler {
	return &CommandHandler{db: db, dispatcher: dispatcher}
}

// HandleCreate creates a user with a unique email inside an existing tenant
func (h *CommandHandler) HandleCreate(ctx context.Context, cmd CreateCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Status == "" {
		cmd.Status = StatusInvited
	}

	log.Info().Str("aggregateID", cmd.ID).Str("tenantID", cmd.TenantID).Msg("Handling CreateUser command")

	user := models.User{
		ID:       cmd.ID,
		TenantID: cmd.TenantID,
		Email:    cmd.Email,
		Name:     cmd.Name,
		Bio:      cmd.Bio,
		Status:   cmd.Status,
	}

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenants int64
		if err := tx.Model(&models.Tenant{}).Where("id = ?", cmd.TenantID).Count(&tenants).Error; err != nil {
			return fmt.Errorf("failed to find tenant: %w", err)
		}
		if tenants == 0 {
			return apperror.NewNotFound("Tenant", cmd.TenantID)
		}
		if err := checkEmail(tx, cmd.Email, ""); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return apperror.FromGorm(err, entity, cmd.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.dispatcher.Dispatch(ctx, event.New(user.ID, event.UserCreatedEvent{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Email:    user.Email,
		Name:     user.Name,
		Bio:      user.Bio,
		Status:   user.Status,
	}))
	return nil
}

// HandleUpdate applies the set fields of cmd
func (h *CommandHandler) HandleUpdate(ctx context.Context, cmd UpdateCommand) error {
	if err := validateUpdate(cmd); err != nil {
		return err
	}

	log.Info().Str("aggregateID", cmd.ID).Msg("Handling UpdateUser command")

	updates := map[string]any{}
	cmd.Email.Apply(updates, "email")
	cmd.Name.Apply(updates, "name")
	cmd.Bio.Apply(updates, "bio")
	cmd.Status.Apply(updates, "status")

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", cmd.ID).Error; err != nil {
			return apperror.FromGorm(err, entity, cmd.ID)
		}
		if email, ok := cmd.Email.Get(); ok && email != user.Email {
			if err := checkEmail(tx, email, cmd.ID); err != nil {
				return err
			}
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return apperror.FromGorm(err, entity, cmd.ID)
		}
		return nil
	})
	if err != nil || len(updates) == 0 {
		return err
	}

	h.dispatcher.Dispatch(ctx, event.New(cmd.ID, event.UserUpdatedEvent{
		UserID: cmd.ID,
		Email:  cmd.Email,
		Name:   cmd.Name,
		Bio:    cmd.Bio,
		Status: cmd.Status,
	}))
	return nil
}

// HandleDelete removes a user
func (h *CommandHandler) HandleDelete(ctx context.Context, cmd DeleteCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}

	log.Info().Str("aggregateID", cmd.ID).Msg("Handling DeleteUser command")

	result := h.db.WithContext(ctx).Delete(&models.User{}, "id = ?", cmd.ID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperror.NewNotFound(entity, cmd.ID)
	}

	h.dispatcher.Dispatch(ctx, event.New(cmd.ID, event.UserDeletedEvent{UserID: cmd.ID}))
	return nil
}

func checkEmail(tx *gorm.DB, email, excludeID string) error {
	q := tx.Model(&models.User{}).Where("email = ?", email)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check user email: %w", err)
	}
	if count > 0 {
		return apperror.NewConflict(entity, "email", email)
	}
	return nil
}

func validateUpdate(cmd UpdateCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}

	var fields []apperror.FieldError
	if cmd.Email.IsNull() {
		fields = append(fields, apperror.FieldError{Field: "email", Reason: "cannot be null"})
	}
	if cmd.Name.IsNull() {
		fields = append(fields, apperror.FieldError{Field: "name", Reason: "cannot be null"})
	}
	if cmd.Status.IsNull() {
		fields = append(fields, apperror.FieldError{Field: "status", Reason: "cannot be null"})
	}
	if email, ok := cmd.Email.Get(); ok && !utils.IsValidEmail(email) {
		fields = append(fields, apperror.FieldError{Field: "email", Reason: "email"})
	}
	if name, ok := cmd.Name.Get(); ok && name == "" {
		fields = append(fields, apperror.FieldError{Field: "name", Reason: "required"})
	}
	if status, ok := cmd.Status.Get(); ok {
		switch status {
		case StatusActive, StatusInvited, StatusDisabled:
		default:
			fields = append(fields, apperror.FieldError{Field: "status", Reason: "oneof=ACTIVE INVITED DISABLED"})
		}
	}

	if len(fields) > 0 {
		return &apperror.ValidationError{Fields: fields}
	}
	return nil
}
