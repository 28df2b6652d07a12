package user

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/change"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/testutil"
)

func setup(t *testing.T) (*gorm.DB, *testutil.RecordingDispatcher, *CommandHandler) {
	db := testutil.NewDB(t)
	require.NoError(t, db.Create(&models.Tenant{ID: "t-1", Name: "Acme", Slug: "acme", Status: "ACTIVE"}).Error)
	dispatcher := &testutil.RecordingDispatcher{}
	return db, dispatcher, NewCommandHandler(db, dispatcher)
}

func TestCreateUser(t *testing.T) {
	db, dispatcher, h := setup(t)
	ctx := context.Background()

	require.NoError(t, h.HandleCreate(ctx, CreateCommand{TenantID: "t-1", Email: "ada@acme.io", Name: "Ada"}))

	var user models.User
	require.NoError(t, db.First(&user, "email = ?", "ada@acme.io").Error)
	assert.Equal(t, StatusInvited, user.Status)

	events := dispatcher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, event.UserCreated, events[0].Type())
	assert.Equal(t, user.ID, events[0].AggregateID())

	err := h.HandleCreate(ctx, CreateCommand{TenantID: "t-1", Email: "ada@acme.io", Name: "Other"})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	err = h.HandleCreate(ctx, CreateCommand{TenantID: "missing", Email: "bob@acme.io", Name: "Bob"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = h.HandleCreate(ctx, CreateCommand{TenantID: "t-1", Email: "not-an-email", Name: "Bob"})
	var verr *apperror.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Email", verr.Fields[0].Field)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	db, dispatcher, h := setup(t)
	ctx := context.Background()

	bio := "engineer"
	require.NoError(t, h.HandleCreate(ctx, CreateCommand{ID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427", TenantID: "t-1", Email: "ada@acme.io", Name: "Ada", Bio: &bio}))
	require.NoError(t, h.HandleCreate(ctx, CreateCommand{TenantID: "t-1", Email: "bob@acme.io", Name: "Bob"}))
	id := "1b4e28ba-2fa1-11d2-883f-0016d3cca427"

	require.NoError(t, h.HandleUpdate(ctx, UpdateCommand{ID: id, Bio: change.Null[string](), Status: change.Value(StatusActive)}))

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	assert.Nil(t, user.Bio)
	assert.Equal(t, StatusActive, user.Status)
	assert.Equal(t, "Ada", user.Name)

	err := h.HandleUpdate(ctx, UpdateCommand{ID: id, Email: change.Value("bob@acme.io")})
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	err = h.HandleUpdate(ctx, UpdateCommand{ID: id, Status: change.Value("UNKNOWN")})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	require.NoError(t, h.HandleDelete(ctx, DeleteCommand{ID: id}))
	err = h.HandleDelete(ctx, DeleteCommand{ID: id})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	assert.Equal(t, []event.Type{
		event.UserCreated, event.UserCreated, event.UserUpdated, event.UserDeleted,
	}, dispatcher.Types())
}
