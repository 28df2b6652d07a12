package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/config"
	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/cqrs"
	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	"github.com/sisques-labs/project-starter-sub009/internal/eventstore"
	"github.com/sisques-labs/project-starter-sub009/internal/metrics"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/projections"
	"github.com/sisques-labs/project-starter-sub009/internal/replay"
	"github.com/sisques-labs/project-starter-sub009/internal/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/search"
	"github.com/sisques-labs/project-starter-sub009/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockReplayer struct {
	mock.Mock
}

func (m *MockReplayer) Execute(ctx context.Context, f replay.Filter) (int, error) {
	args := m.Called(ctx, f)
	return args.Int(0), args.Error(1)
}

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, index, query string, from, size int) (search.SearchResult, error) {
	args := m.Called(ctx, index, query, from, size)
	return args.Get(0).(search.SearchResult), args.Error(1)
}

type renameCommand struct {
	Name string `json:"name"`
}

func (renameCommand) CommandType() string { return "Rename" }

type fixture struct {
	db       *gorm.DB
	store    *eventstore.Store
	orch     *saga.Orchestrator
	replayer *MockReplayer
	searcher *MockSearcher
	metrics  *metrics.Metrics
	renamed  []string
	server   *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:       testutil.NewDB(t),
		replayer: &MockReplayer{},
		searcher: &MockSearcher{},
		metrics:  metrics.NewMetrics(),
	}

	b := bus.New()
	f.store = eventstore.New(f.db, nil)
	eventstore.NewListener(f.store, b).Register(b)
	projections.Register(b, projections.NewSagaProjector(f.db))

	actions := saga.NewActions()
	actions.Register("noop", saga.ActionFunc(func(ctx context.Context, sc saga.StepContext) (json.RawMessage, error) {
		return nil, nil
	}))
	f.orch = saga.NewOrchestrator(f.db, b, actions, nil, nil, saga.Options{})
	queries := saga.NewQueries(f.db, f.db)

	commands := cqrs.NewCommandBus()
	cqrs.Handle(commands, func(ctx context.Context, cmd renameCommand) error {
		if cmd.Name == "taken" {
			return apperror.NewConflict("Thing", "name", cmd.Name)
		}
		f.renamed = append(f.renamed, cmd.Name)
		return nil
	})
	cqrs.Handle(commands, f.orch.HandleCancel)
	cqrs.Handle(commands, f.orch.HandleDelete)

	qb := cqrs.NewQueryBus()
	cqrs.Answer(qb, queries.HandleFindInstance)
	cqrs.Answer(qb, queries.HandleFindInstances)
	cqrs.Answer(qb, queries.HandleStepsByInstance)
	cqrs.Answer(qb, queries.HandleLogsByInstance)
	cqrs.Answer(qb, queries.HandleLogsByStep)

	f.server = NewServer(config.ServerConfig{MetricsEnabled: true, CorsEnabled: true}, Dependencies{
		Commands: commands,
		Queries:  qb,
		Replayer: f.replayer,
		Events:   f.store,
		Search:   f.searcher,
		Metrics:  f.metrics,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) startSaga(t *testing.T) *models.SagaInstance {
	t.Helper()
	instance, err := f.orch.Start(context.Background(), saga.StartCommand{
		Name:  "provision",
		Steps: []saga.StepDefinition{{Name: "noop"}, {Name: "noop"}},
	})
	require.NoError(t, err)
	return instance
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPingAndRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDKey))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestExecuteCommand(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/commands", cqrs.Envelope{
		CommandType: "Rename",
		Data:        json.RawMessage(`{"name":"acme"}`),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"acme"}, f.renamed)
	assert.Equal(t, "Rename", decode[CommandResponse](t, rec).CommandType)
}

func TestExecuteCommandErrorMapping(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"malformed body", `{"commandType":`, http.StatusBadRequest, CodeValidation},
		{"unknown command", cqrs.Envelope{CommandType: "Nope"}, http.StatusBadRequest, CodeValidation},
		{"malformed data", cqrs.Envelope{CommandType: "Rename", Data: json.RawMessage(`[1]`)}, http.StatusBadRequest, CodeValidation},
		{"conflict", cqrs.Envelope{CommandType: "Rename", Data: json.RawMessage(`{"name":"taken"}`)}, http.StatusConflict, CodeConflict},
		{"unknown saga", cqrs.Envelope{CommandType: saga.CommandCancel, Data: json.RawMessage(`{"id":"missing"}`)}, http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/commands", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
	assert.Empty(t, f.renamed)
}

func TestReplayReturnsCount(t *testing.T) {
	f := newFixture(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	f.replayer.On("Execute", mock.Anything, replay.Filter{AggregateType: "Tenant", From: from, To: to}).
		Return(4, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/v1/replay", map[string]any{
		"aggregate_type": "Tenant",
		"from":           from,
		"to":             to,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decode[ReplayResponse](t, rec).Replayed)
	f.replayer.AssertExpectations(t)
}

func TestReplayStoppedReportsProgress(t *testing.T) {
	f := newFixture(t)

	f.replayer.On("Execute", mock.Anything, mock.Anything).Return(2, &replay.Error{
		Replayed: 2,
		EventID:  "ev-3",
		Err:      &apperror.UnsupportedEventTypeError{EventType: "V0_LEGACY"},
	}).Once()

	rec := f.do(t, http.MethodPost, "/api/v1/replay", map[string]any{"from": time.Now(), "to": time.Now()})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ReplayResponse](t, rec)
	assert.Equal(t, 2, resp.Replayed)
	assert.Equal(t, "ev-3", resp.FailedEventID)
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "V0_LEGACY")
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"t-1", "t-2", "t-1"} {
		_, err := f.store.Append(ctx, event.New(id, event.TenantDeletedEvent{TenantID: id}))
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/events?aggregate_id=t-1&direction=desc&per_page=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	page := decode[criteria.Page[models.EventRecord]](t, rec)
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "t-1", page.Items[0].AggregateID)

	rec = f.do(t, http.MethodGet, "/api/v1/events?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/events?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSagaRoutes(t *testing.T) {
	f := newFixture(t)
	instance := f.startSaga(t)
	base := "/api/v1/sagas/" + instance.ID

	rec := f.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[models.SagaInstanceView](t, rec)
	assert.Equal(t, "provision", view.Name)
	assert.Equal(t, "PENDING", view.Status)

	rec = f.do(t, http.MethodGet, base+"/steps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decode[[]models.SagaStepView](t, rec)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Order)
	assert.Equal(t, 2, steps[1].Order)

	rec = f.do(t, http.MethodGet, "/api/v1/saga-steps/"+steps[0].ID+"/logs", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sagas?status=PENDING&name=provision", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[criteria.Page[models.SagaInstanceView]](t, rec)
	assert.EqualValues(t, 1, page.Total)

	rec = f.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, "CANCELLED", decode[models.SagaInstanceView](t, rec).Status)

	rec = f.do(t, http.MethodGet, base+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[[]models.SagaLog](t, rec)
	assert.GreaterOrEqual(t, len(logs), 2)

	rec = f.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestSagaRoutesUnknownIDs(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/api/v1/sagas/missing",
		"/api/v1/sagas/missing/steps",
		"/api/v1/sagas/missing/logs",
		"/api/v1/saga-steps/missing/logs",
	} {
		rec := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/sagas?sort=color", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)

	f.searcher.On("Search", mock.Anything, search.TenantsIndex, "acme", 0, criteria.DefaultPerPage).
		Return(search.SearchResult{Total: 1, Hits: []json.RawMessage{json.RawMessage(`{"id":"t-1"}`)}}, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/v1/search/tenants?q=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode[search.SearchResult](t, rec).Total)

	rec = f.do(t, http.MethodGet, "/api/v1/search/secrets?q=acme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.searcher.AssertExpectations(t)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/ping", nil)
	f.do(t, http.MethodGet, "/nowhere", nil)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `platform_http_requests_total{method="GET",path="/ping",status="200"} 1`), body)
	assert.True(t, strings.Contains(body, `path="unmatched",status="404"`), body)
}
