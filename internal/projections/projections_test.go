package projections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/change"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/eventstore"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/replay"
	"github.com/sisques-labs/project-starter-sub009/internal/testutil"
	"github.com/sisques-labs/project-starter-sub009/internal/tenant"
	"github.com/sisques-labs/project-starter-sub009/internal/user"
)

type backbone struct {
	db      *gorm.DB
	bus     *bus.Bus
	tenants *tenant.CommandHandler
	users   *user.CommandHandler
	replay  *replay.Engine
}

func newBackbone(t *testing.T) *backbone {
	db := testutil.NewDB(t)
	b := bus.New()

	store := eventstore.New(db, nil)
	eventstore.NewListener(store, b).Register(b)
	Register(b, NewTenantProjector(db), NewUserProjector(db), NewSagaProjector(db))

	return &backbone{
		db:      db,
		bus:     b,
		tenants: tenant.NewCommandHandler(db, b),
		users:   user.NewCommandHandler(db, b),
		replay:  replay.NewEngine(store, event.NewRegistry(), b, nil),
	}
}

func (bb *backbone) tenantView(t *testing.T, id string) models.TenantView {
	var view models.TenantView
	require.NoError(t, bb.db.First(&view, "id = ?", id).Error)
	return view
}

func (bb *backbone) wipeViews(t *testing.T) {
	for _, m := range models.ReadModels() {
		require.NoError(t, bb.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error)
	}
}

func TestCommandsReachReadModelAndReplayRebuildsIt(t *testing.T) {
	bb := newBackbone(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Minute)

	const tenantID = "0b7e1c2a-3d4f-4a5b-8c6d-7e8f9a0b1c2d"
	const adaID = "9f8e7d6c-5b4a-4c3d-8e2f-1a0b9c8d7e6f"

	require.NoError(t, bb.tenants.HandleCreate(ctx, tenant.CreateCommand{ID: tenantID, Name: "Acme", Slug: "acme"}))
	require.NoError(t, bb.users.HandleCreate(ctx, user.CreateCommand{ID: adaID, TenantID: tenantID, Email: "ada@acme.io", Name: "Ada"}))
	require.NoError(t, bb.users.HandleCreate(ctx, user.CreateCommand{TenantID: tenantID, Email: "bob@acme.io", Name: "Bob"}))
	require.NoError(t, bb.users.HandleUpdate(ctx, user.UpdateCommand{ID: adaID, Name: change.Value("Ada L.")}))
	require.NoError(t, bb.tenants.HandleUpdate(ctx, tenant.UpdateCommand{ID: tenantID, Name: change.Value("Acme Corp")}))

	assertState := func(t *testing.T) {
		view := bb.tenantView(t, tenantID)
		assert.Equal(t, "Acme Corp", view.Name)
		assert.Equal(t, "acme", view.Slug)
		assert.Equal(t, 2, view.UserCount)

		var ada models.UserView
		require.NoError(t, bb.db.First(&ada, "id = ?", adaID).Error)
		assert.Equal(t, "Ada L.", ada.Name)
		assert.Equal(t, "ada@acme.io", ada.Email)
	}
	assertState(t)

	var stored int64
	require.NoError(t, bb.db.Model(&models.EventRecord{}).Count(&stored).Error)
	assert.EqualValues(t, 5, stored)

	filter := replay.Filter{From: start, To: time.Now().UTC().Add(time.Minute), BatchSize: 2}

	bb.wipeViews(t)
	replayed, err := bb.replay.Execute(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 5, replayed)
	assertState(t)

	// replaying over an existing read model converges to the same state
	replayed, err = bb.replay.Execute(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, 5, replayed)
	assertState(t)

	// replays are never stored again
	require.NoError(t, bb.db.Model(&models.EventRecord{}).Count(&stored).Error)
	assert.EqualValues(t, 5, stored)
}

func TestUserDeletionUpdatesTenantCount(t *testing.T) {
	bb := newBackbone(t)
	ctx := context.Background()

	require.NoError(t, bb.tenants.HandleCreate(ctx, tenant.CreateCommand{ID: "3c2b1a09-8f7e-4d6c-9b5a-4f3e2d1c0b9a", Name: "Acme", Slug: "acme"}))
	require.NoError(t, bb.users.HandleCreate(ctx, user.CreateCommand{ID: "6a5b4c3d-2e1f-4a0b-9c8d-7e6f5a4b3c2d", TenantID: "3c2b1a09-8f7e-4d6c-9b5a-4f3e2d1c0b9a", Email: "ada@acme.io", Name: "Ada"}))
	assert.Equal(t, 1, bb.tenantView(t, "3c2b1a09-8f7e-4d6c-9b5a-4f3e2d1c0b9a").UserCount)

	require.NoError(t, bb.users.HandleDelete(ctx, user.DeleteCommand{ID: "6a5b4c3d-2e1f-4a0b-9c8d-7e6f5a4b3c2d"}))
	assert.Equal(t, 0, bb.tenantView(t, "3c2b1a09-8f7e-4d6c-9b5a-4f3e2d1c0b9a").UserCount)

	// a second delete of a missing view is accepted
	p := NewUserProjector(bb.db)
	require.NoError(t, p.Handle(ctx, event.New("6a5b4c3d-2e1f-4a0b-9c8d-7e6f5a4b3c2d", event.UserDeletedEvent{UserID: "6a5b4c3d-2e1f-4a0b-9c8d-7e6f5a4b3c2d"})))
}

func TestUpdateRequiresExistingView(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	err := NewTenantProjector(db).Handle(ctx, event.New("t-1", event.TenantUpdatedEvent{TenantID: "t-1", Name: change.Value("x")}))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = NewUserProjector(db).Handle(ctx, event.New("u-1", event.UserUpdatedEvent{UserID: "u-1", Name: change.Value("x")}))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = NewSagaProjector(db).Handle(ctx, event.New("s-1", event.SagaInstanceStatusChangedEvent{InstanceID: "s-1", Status: "RUNNING"}))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestLiveCreateOfExistingViewFails(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	p := NewTenantProjector(db)

	created := event.New("t-1", event.TenantCreatedEvent{TenantID: "t-1", Name: "Acme", Slug: "acme", Status: "ACTIVE"})
	require.NoError(t, p.Handle(ctx, created))
	assert.Error(t, p.Handle(ctx, created))

	created.Metadata.IsReplay = true
	assert.NoError(t, p.Handle(ctx, created))
}

func TestSagaStepSnapshotUpsert(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	p := NewSagaProjector(db)

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	msg := "timeout"

	require.NoError(t, p.Handle(ctx, event.New("i-1", event.SagaInstanceCreatedEvent{InstanceID: "i-1", Name: "checkout", Status: "PENDING"})))
	require.NoError(t, p.Handle(ctx, event.New("s-1", event.SagaStepCreatedEvent{
		StepID: "s-1", InstanceID: "i-1", Name: "charge", Order: 1, Status: "PENDING", MaxRetries: 3,
	})))
	require.NoError(t, p.Handle(ctx, event.New("s-1", event.SagaStepStatusChangedEvent{
		StepID: "s-1", InstanceID: "i-1", Status: "FAILED", StartDate: &now, EndDate: &now, ErrorMessage: &msg, RetryCount: 1,
	})))

	var step models.SagaStepView
	require.NoError(t, db.First(&step, "id = ?", "s-1").Error)
	assert.Equal(t, "charge", step.Name)
	assert.Equal(t, 1, step.Order)
	assert.Equal(t, 3, step.MaxRetries)
	assert.Equal(t, "FAILED", step.Status)
	assert.Equal(t, 1, step.RetryCount)
	require.NotNil(t, step.ErrorMessage)
	assert.Equal(t, "timeout", *step.ErrorMessage)

	require.NoError(t, p.Handle(ctx, event.New("i-1", event.SagaInstanceStatusChangedEvent{InstanceID: "i-1", Status: "RUNNING", StartDate: &now})))
	require.NoError(t, p.Handle(ctx, event.New("i-1", event.SagaInstanceDeletedEvent{InstanceID: "i-1"})))

	var instance models.SagaInstanceView
	require.NoError(t, db.First(&instance, "id = ?", "i-1").Error)
	assert.Equal(t, "RUNNING", instance.Status)
	assert.True(t, instance.Deleted)
}
