package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/cqrs"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/replay"
	"github.com/sisques-labs/project-starter-sub009/internal/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/tenant"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	cfg := config.Default()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.Database = config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          dsn,
		ReadDSN:      dsn,
		MaxOpenConns: 1,
		LogLevel:     "silent",
		AutoMigrate:  true,
	}
	cfg.Saga.RetryBackoff = 0

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func envelope(t *testing.T, commandType string, data any) cqrs.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return cqrs.Envelope{CommandType: commandType, Data: raw}
}

func TestNewRegistersEveryCommand(t *testing.T) {
	a := newTestApp(t)

	assert.ElementsMatch(t, []string{
		"CreateTenant", "UpdateTenant", "DeleteTenant",
		"CreateUser", "UpdateUser", "DeleteUser",
		"StartSaga", "RunSaga", "CancelSaga", "DeleteSaga",
		"ReplayEvents",
	}, a.Commands.CommandTypes())
	assert.Nil(t, a.Search)
	assert.Nil(t, a.Publisher)
}

func TestSagaDrivesCommandsAndReplayRebuildsViews(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Minute)
	tenantID := uuid.NewString()

	require.NoError(t, a.Commands.ExecuteEnvelope(ctx, envelope(t, tenant.CommandCreate, map[string]any{
		"id":   tenantID,
		"name": "Acme",
		"slug": "acme",
	})))

	step := cqrs.CommandStep{Command: envelope(t, "CreateUser", map[string]any{
		"tenant_id": tenantID,
		"email":     "ada@acme.io",
		"name":      "Ada",
	})}
	payload, err := json.Marshal(step)
	require.NoError(t, err)

	sagaID := uuid.NewString()
	require.NoError(t, a.Commands.ExecuteEnvelope(ctx, envelope(t, saga.CommandStart, saga.StartCommand{
		ID:    sagaID,
		Name:  "onboard",
		Steps: []saga.StepDefinition{{Name: cqrs.CommandActionName, Payload: payload}},
	})))

	a.Orchestrator.Wait()
	a.Dispatcher.Close()

	assertViews := func(t *testing.T) {
		view, err := cqrs.AskAs[*models.TenantView](ctx, a.Queries, tenant.FindQuery{ID: tenantID})
		require.NoError(t, err)
		assert.Equal(t, "Acme", view.Name)
		assert.Equal(t, 1, view.UserCount)

		instance, err := cqrs.AskAs[*models.SagaInstanceView](ctx, a.Queries, saga.FindInstanceQuery{ID: sagaID})
		require.NoError(t, err)
		assert.Equal(t, "COMPLETED", instance.Status)
	}
	assertViews(t)

	for _, m := range models.ReadModels() {
		require.NoError(t, a.DB.Read.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error)
	}

	replayed, err := a.Replayer.Execute(ctx, replay.Filter{From: start, To: time.Now().UTC().Add(time.Minute)})
	require.NoError(t, err)
	assert.Greater(t, replayed, 4)
	assertViews(t)
}

func TestServerIsWired(t *testing.T) {
	a := newTestApp(t)

	rec := httptest.NewRecorder()
	a.Server().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sagas", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
