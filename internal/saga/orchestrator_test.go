package saga

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/cache"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	domainsaga "github.com/sisques-labs/project-starter-sub009/internal/domain/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/testutil"
)

func stepStatuses(d *testutil.RecordingDispatcher, stepID string) []string {
	var out []string
	for _, ev := range d.Events() {
		if data, ok := ev.Data.(event.SagaStepStatusChangedEvent); ok && data.StepID == stepID {
			out = append(out, data.Status)
		}
	}
	return out
}

type fixture struct {
	db          *gorm.DB
	dispatcher  *testutil.RecordingDispatcher
	actions     *Actions
	idempotency *cache.MemoryIdempotencyStore
	orch        *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:          testutil.NewDB(t),
		dispatcher:  &testutil.RecordingDispatcher{},
		actions:     NewActions(),
		idempotency: cache.NewMemoryIdempotencyStore(0),
	}
	f.orch = NewOrchestrator(f.db, f.dispatcher, f.actions, f.idempotency, nil, Options{DefaultMaxRetries: 3})

	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.orch.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func (f *fixture) steps(t *testing.T, instanceID string) []models.SagaStep {
	t.Helper()
	var rows []models.SagaStep
	require.NoError(t, f.db.Where("saga_instance_id = ?", instanceID).Order("step_order ASC").Find(&rows).Error)
	return rows
}

func (f *fixture) instance(t *testing.T, instanceID string) models.SagaInstance {
	t.Helper()
	var row models.SagaInstance
	require.NoError(t, f.db.First(&row, "id = ?", instanceID).Error)
	return row
}

type compensating struct {
	name        string
	compensated *[]string
}

func (c compensating) Execute(ctx context.Context, sc StepContext) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func (c compensating) Compensate(ctx context.Context, sc StepContext) error {
	*c.compensated = append(*c.compensated, c.name)
	return nil
}

func ok(result string) ActionFunc {
	return func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		return json.RawMessage(result), nil
	}
}

func TestStartValidatesDefinition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.Start(ctx, StartCommand{Name: "onboarding"})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.orch.Start(ctx, StartCommand{Name: "onboarding", Steps: []StepDefinition{{Name: "missing"}}})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	var count int64
	require.NoError(t, f.db.Model(&models.SagaInstance{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestStartDefaultsMaxRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actions.Register("noop", ok(`{}`))

	_, err := f.orch.Start(ctx, StartCommand{Name: "defaults", Steps: []StepDefinition{{Name: "noop", MaxRetries: -1}}})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	instance, err := f.orch.Start(ctx, StartCommand{Name: "defaults", Steps: []StepDefinition{
		{Name: "noop"},
		{Name: "noop", MaxRetries: 5},
	}})
	require.NoError(t, err)

	steps := f.steps(t, instance.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, 3, steps[0].MaxRetries)
	assert.Equal(t, 5, steps[1].MaxRetries)
}

func TestRunCompletesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actions.Register("reserve", ok(`{"reservation":"r-1"}`))
	f.actions.Register("charge", ok(`{"charge":"c-1"}`))

	instance, err := f.orch.Start(ctx, StartCommand{
		Name:  "checkout",
		Steps: []StepDefinition{{Name: "reserve"}, {Name: "charge", MaxRetries: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", instance.Status)

	require.NoError(t, f.orch.Run(ctx, instance.ID))

	steps := f.steps(t, instance.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, 3, steps[0].MaxRetries)
	assert.Equal(t, 5, steps[1].MaxRetries)
	for _, s := range steps {
		assert.Equal(t, "SUCCEEDED", s.Status)
		assert.Zero(t, s.RetryCount)
	}
	assert.JSONEq(t, `{"charge":"c-1"}`, string(steps[1].Result))

	row := f.instance(t, instance.ID)
	assert.Equal(t, "COMPLETED", row.Status)
	require.NotNil(t, row.StartDate)
	require.NotNil(t, row.EndDate)
	assert.True(t, row.StartDate.Equal(*steps[0].StartDate))
	assert.True(t, row.EndDate.Equal(*steps[1].EndDate))

	logs, err := NewQueries(f.db, f.db).FindLogsByInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "Saga instance checkout created with 2 steps", logs[0].Message)
	assert.Equal(t, "Saga instance is now COMPLETED", logs[len(logs)-1].Message)

	// a terminal instance is not run again
	require.NoError(t, f.orch.Run(ctx, instance.ID))
	assert.Equal(t, []string{"RUNNING", "SUCCEEDED"}, stepStatuses(f.dispatcher, steps[0].ID))
}

func TestRunStopsAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempts := 0
	f.actions.Register("reserve", ok(`{}`))
	f.actions.Register("charge", ok(`{}`))
	f.actions.Register("ship", ActionFunc(func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		attempts++
		assert.Equal(t, attempts, sc.Attempt)
		return nil, errors.New("carrier unavailable")
	}))

	instance, err := f.orch.Start(ctx, StartCommand{
		Name:  "fulfilment",
		Steps: []StepDefinition{{Name: "reserve"}, {Name: "charge"}, {Name: "ship", MaxRetries: 3}},
	})
	require.NoError(t, err)

	err = f.orch.Run(ctx, instance.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrRetryExhausted))

	var exhausted *apperror.RetryExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.RetryCount)
	assert.Equal(t, 3, exhausted.MaxRetries)
	assert.Equal(t, 3, attempts)

	steps := f.steps(t, instance.ID)
	ship := steps[2]
	assert.Equal(t, "FAILED", ship.Status)
	assert.Equal(t, 3, ship.RetryCount)
	require.NotNil(t, ship.ErrorMessage)
	assert.Equal(t, "carrier unavailable", *ship.ErrorMessage)
	assert.Equal(t, []string{
		"RUNNING", "FAILED", "PENDING",
		"RUNNING", "FAILED", "PENDING",
		"RUNNING", "FAILED",
	}, stepStatuses(f.dispatcher, ship.ID))

	row := f.instance(t, instance.ID)
	assert.Equal(t, "FAILED", row.Status)
	require.NotNil(t, row.EndDate)
	assert.True(t, row.EndDate.Equal(*ship.EndDate))
	assert.True(t, row.EndDate.After(*steps[1].EndDate))

	// no further attempt once exhausted
	err = f.orch.Run(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExhaustionCompensatesInReverseOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var compensated []string
	f.actions.Register("reserve", compensating{name: "reserve", compensated: &compensated})
	f.actions.Register("notify", ok(`{}`))
	f.actions.Register("charge", compensating{name: "charge", compensated: &compensated})
	f.actions.Register("ship", ActionFunc(func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		return nil, errors.New("rejected")
	}))

	instance, err := f.orch.Start(ctx, StartCommand{
		Name: "order",
		Steps: []StepDefinition{
			{Name: "reserve"}, {Name: "notify"}, {Name: "charge"}, {Name: "ship", MaxRetries: 1},
		},
	})
	require.NoError(t, err)

	err = f.orch.Run(ctx, instance.ID)
	assert.True(t, errors.Is(err, apperror.ErrRetryExhausted))
	assert.Equal(t, []string{"charge", "reserve"}, compensated)

	steps := f.steps(t, instance.ID)
	assert.Equal(t, "COMPENSATED", steps[0].Status)
	assert.Equal(t, "SUCCEEDED", steps[1].Status)
	assert.Equal(t, "COMPENSATED", steps[2].Status)
	assert.Equal(t, "FAILED", steps[3].Status)
	assert.Equal(t, "FAILED", f.instance(t, instance.ID).Status)
}

func TestIdempotencyKeyReusesRecordedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := 0
	f.actions.Register("charge", ActionFunc(func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"charge":"new"}`), nil
	}))

	instance, err := f.orch.Start(ctx, StartCommand{Name: "billing", Steps: []StepDefinition{{Name: "charge"}}})
	require.NoError(t, err)

	key := domainsaga.IdempotencyKey(instance.ID, 1)
	require.NoError(t, f.idempotency.Put(ctx, key, json.RawMessage(`{"charge":"previous"}`)))

	require.NoError(t, f.orch.Run(ctx, instance.ID))
	assert.Zero(t, calls)

	steps := f.steps(t, instance.ID)
	assert.Equal(t, "SUCCEEDED", steps[0].Status)
	assert.JSONEq(t, `{"charge":"previous"}`, string(steps[0].Result))
}

func TestCancelInterruptsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	f.actions.Register("wait", ActionFunc(func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	f.actions.Register("after", ok(`{}`))

	instance, err := f.orch.Start(ctx, StartCommand{
		Name:  "long",
		Steps: []StepDefinition{{Name: "wait"}, {Name: "after"}},
	})
	require.NoError(t, err)

	f.orch.Launch(instance.ID)
	<-started

	require.NoError(t, f.orch.Cancel(ctx, instance.ID))
	f.orch.Wait()

	row := f.instance(t, instance.ID)
	assert.Equal(t, "CANCELLED", row.Status)
	assert.NotNil(t, row.EndDate)

	steps := f.steps(t, instance.ID)
	assert.Equal(t, "FAILED", steps[0].Status)
	assert.Equal(t, "PENDING", steps[1].Status)

	err = f.orch.Cancel(ctx, instance.ID)
	assert.True(t, errors.Is(err, apperror.ErrConflict))
}

func TestDeleteHidesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.actions.Register("noop", ok(`{}`))

	instance, err := f.orch.Start(ctx, StartCommand{Name: "cleanup", Steps: []StepDefinition{{Name: "noop"}}})
	require.NoError(t, err)

	require.NoError(t, f.orch.Delete(ctx, instance.ID))
	assert.Equal(t, models.LifecycleDeleted, f.instance(t, instance.ID).Lifecycle)

	assert.True(t, errors.Is(f.orch.Run(ctx, instance.ID), apperror.ErrNotFound))
	assert.True(t, errors.Is(f.orch.Delete(ctx, instance.ID), apperror.ErrNotFound))
}

func TestResumeRedrivesStalledStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.opts.StallThreshold = time.Minute

	calls := 0
	f.actions.Register("sync", ActionFunc(func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{}`), nil
	}))

	instance, err := f.orch.Start(ctx, StartCommand{Name: "sync", Steps: []StepDefinition{{Name: "sync"}}})
	require.NoError(t, err)

	// simulate a worker that died while the step was running
	started := time.Now().UTC()
	require.NoError(t, f.db.Model(&models.SagaStep{}).
		Where("saga_instance_id = ?", instance.ID).
		Updates(map[string]any{"status": "RUNNING", "start_date": started}).Error)

	// recent activity is left alone
	f.orch.now = func() time.Time { return time.Now().UTC() }
	resumed, err := f.orch.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)

	f.orch.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	resumed, err = f.orch.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, 1, calls)

	steps := f.steps(t, instance.ID)
	assert.Equal(t, "SUCCEEDED", steps[0].Status)
	assert.Equal(t, 1, steps[0].RetryCount)
	assert.Equal(t, "COMPLETED", f.instance(t, instance.ID).Status)

	logs, err := NewQueries(f.db, f.db).FindLogsByStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Step sync attempt 1 stalled", logs[0].Message)
}

func TestResumeCompletesStalledStepWithRecordedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.opts.StallThreshold = time.Minute

	calls := 0
	f.actions.Register("ship", ActionFunc(func(ctx context.Context, sc StepContext) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{}`), nil
	}))

	instance, err := f.orch.Start(ctx, StartCommand{Name: "ship", Steps: []StepDefinition{{Name: "ship", MaxRetries: 1}}})
	require.NoError(t, err)
	step := f.steps(t, instance.ID)[0]

	// the worker recorded the result and died before persisting SUCCEEDED
	require.NoError(t, f.idempotency.Put(ctx, domainsaga.IdempotencyKey(instance.ID, step.Order), json.RawMessage(`{"tracking":"T-1"}`)))
	require.NoError(t, f.db.Model(&models.SagaStep{}).
		Where("id = ?", step.ID).
		Updates(map[string]any{"status": "RUNNING", "start_date": time.Now().UTC()}).Error)

	f.orch.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	resumed, err := f.orch.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Zero(t, calls)

	step = f.steps(t, instance.ID)[0]
	assert.Equal(t, "SUCCEEDED", step.Status)
	assert.Zero(t, step.RetryCount)
	assert.JSONEq(t, `{"tracking":"T-1"}`, string(step.Result))
	assert.Equal(t, "COMPLETED", f.instance(t, instance.ID).Status)
}

func TestLogQueriesRequireKnownIDs(t *testing.T) {
	q := NewQueries(testutil.NewDB(t), testutil.NewDB(t))

	_, err := q.FindLogsByInstance(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = q.FindLogsByStep(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	_, err = q.FindInstanceByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
