package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/cache"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
	domainsaga "github.com/sisques-labs/project-starter-sub009/internal/domain/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/utils"
)

const (
	entityInstance = "SagaInstance"
	entityStep     = "SagaStep"
)

var (
	errCancelled = errors.New("saga instance cancelled")
	errStalled   = errors.New("step attempt stalled")
)

// StepDefinition declares one step of a new instance. Name selects the
// registered action. A MaxRetries of 0 takes Options.DefaultMaxRetries.
type StepDefinition struct {
	Name       string          `json:"name" validate:"required,max=255"`
	MaxRetries int             `json:"max_retries" validate:"gte=0"`
	Payload    json.RawMessage `json:"payload"`
}

// StartCommand defines a new saga instance
type StartCommand struct {
	ID    string           `json:"id" validate:"omitempty,uuid"`
	Name  string           `json:"name" validate:"required,max=255"`
	Steps []StepDefinition `json:"steps" validate:"required,min=1,dive"`
}

// Options tunes the orchestrator
type Options struct {
	DefaultMaxRetries int
	RetryBackoff      time.Duration
	StallThreshold    time.Duration
}

// Recorder receives transition counters
type Recorder interface {
	SagaStepTransition(status string)
	SagaInstanceTransition(status string)
}

// Orchestrator drives saga instances: it persists every step transition with
// its log entries, keeps the instance status derived from the steps and
// dispatches the resulting events after each commit.
type Orchestrator struct {
	db          *gorm.DB
	dispatcher  bus.Dispatcher
	actions     *Actions
	idempotency cache.IdempotencyStore
	recorder    Recorder
	sync        InstanceSynchronizer
	opts        Options
	now         func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator on the write database
func NewOrchestrator(db *gorm.DB, dispatcher bus.Dispatcher, actions *Actions, idempotency cache.IdempotencyStore, recorder Recorder, opts Options) *Orchestrator {
	if opts.DefaultMaxRetries < 1 {
		opts.DefaultMaxRetries = 1
	}
	if idempotency == nil {
		idempotency = cache.NewMemoryIdempotencyStore(0)
	}
	return &Orchestrator{
		db:          db,
		dispatcher:  dispatcher,
		actions:     actions,
		idempotency: idempotency,
		recorder:    recorder,
		opts:        opts,
		now:         func() time.Time { return time.Now().UTC() },
		running:     make(map[string]context.CancelFunc),
	}
}

// Start persists a new PENDING instance with its PENDING steps
func (o *Orchestrator) Start(ctx context.Context, cmd StartCommand) (*models.SagaInstance, error) {
	if err := utils.ValidateStruct(cmd); err != nil {
		return nil, err
	}
	for i, def := range cmd.Steps {
		if _, ok := o.actions.Get(def.Name); !ok {
			return nil, apperror.NewValidation(fmt.Sprintf("steps[%d].name", i), "unknown action "+def.Name)
		}
	}

	id := cmd.ID
	if id == "" {
		id = uuid.New().String()
	}

	instance := models.SagaInstance{
		ID:        id,
		Name:      cmd.Name,
		Status:    string(domainsaga.InstancePending),
		Lifecycle: models.LifecycleActive,
	}

	events := []event.Event{event.New(id, event.SagaInstanceCreatedEvent{
		InstanceID: id,
		Name:       cmd.Name,
		Status:     instance.Status,
	})}

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&instance).Error; err != nil {
			return apperror.FromGorm(err, entityInstance, id)
		}

		for i, def := range cmd.Steps {
			maxRetries := def.MaxRetries
			if maxRetries < 1 {
				maxRetries = o.opts.DefaultMaxRetries
			}
			step := models.SagaStep{
				ID:             uuid.New().String(),
				SagaInstanceID: id,
				Name:           def.Name,
				Order:          i + 1,
				Status:         string(domainsaga.StepPending),
				MaxRetries:     maxRetries,
				Payload:        def.Payload,
			}
			if err := tx.Create(&step).Error; err != nil {
				return fmt.Errorf("failed to create saga step: %w", err)
			}
			events = append(events, event.New(step.ID, event.SagaStepCreatedEvent{
				StepID:     step.ID,
				InstanceID: id,
				Name:       step.Name,
				Order:      step.Order,
				Status:     step.Status,
				MaxRetries: step.MaxRetries,
				Payload:    step.Payload,
			}))
		}

		return tx.Create(&models.SagaLog{
			SagaInstanceID: id,
			Type:           models.SagaLogInfo,
			Message:        fmt.Sprintf("Saga instance %s created with %d steps", cmd.Name, len(cmd.Steps)),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	o.dispatcher.Dispatch(ctx, events...)
	o.recordInstance(instance.Status)

	log.Info().
		Str("sagaInstanceID", id).
		Str("name", cmd.Name).
		Int("steps", len(cmd.Steps)).
		Msg("Saga instance created")

	return &instance, nil
}

// Launch runs the instance on a background goroutine. Wait blocks until all
// launched runs returned.
func (o *Orchestrator) Launch(instanceID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Run(context.Background(), instanceID); err != nil {
			log.Error().Err(err).Str("sagaInstanceID", instanceID).Msg("Saga run failed")
		}
	}()
}

// Wait blocks until every launched run returned
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run executes the pending steps of an instance in order. A step is retried
// until it succeeds or exhausts MaxRetries; exhaustion compensates the
// succeeded steps in reverse order and returns a RetryExhaustedError.
// Cancelling the instance stops the run without error.
func (o *Orchestrator) Run(ctx context.Context, instanceID string) error {
	ctx, release, ok := o.acquire(ctx, instanceID)
	if !ok {
		log.Debug().Str("sagaInstanceID", instanceID).Msg("Saga instance already running")
		return nil
	}
	defer release()

	instance, steps, err := o.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if domainsaga.InstanceStatus(instance.Status).IsTerminal() {
		return nil
	}

	for i := range steps {
		step := &steps[i]
		if step.Status == domainsaga.StepSucceeded || step.Status == domainsaga.StepCompensated {
			continue
		}

		err := o.runStep(ctx, step)
		switch {
		case err == nil:
			continue
		case errors.Is(err, errCancelled):
			log.Info().Str("sagaInstanceID", instanceID).Msg("Saga run stopped, instance cancelled")
			return nil
		case errors.Is(err, apperror.ErrRetryExhausted):
			o.compensate(context.WithoutCancel(ctx), steps[:i])
			return err
		default:
			return err
		}
	}

	log.Info().Str("sagaInstanceID", instanceID).Msg("Saga run finished")
	return nil
}

func (o *Orchestrator) runStep(ctx context.Context, step *domainsaga.Step) error {
	for {
		if err := o.checkActive(ctx, step.InstanceID); err != nil {
			return err
		}

		switch step.Status {
		case domainsaga.StepRunning:
			// left behind by an interrupted run: a recorded result completes
			// the step, otherwise the attempt counts as failed
			if result, ok := o.recorded(ctx, step); ok {
				if err := step.Succeed(result, o.now()); err != nil {
					return err
				}
				return o.transition(ctx, step, models.SagaLogInfo, fmt.Sprintf("Step %s succeeded with recorded result", step.Name))
			}
			if err := step.Fail(errStalled, o.now()); err != nil {
				return err
			}
			if err := o.transition(ctx, step, models.SagaLogError, fmt.Sprintf("Step %s attempt %d stalled", step.Name, step.RetryCount)); err != nil {
				return err
			}
			if step.IsExhausted() {
				return o.exhausted(step, errStalled)
			}
			continue
		case domainsaga.StepFailed:
			if err := step.Retry(); err != nil {
				return err
			}
			if err := o.transition(ctx, step, models.SagaLogWarning, fmt.Sprintf("Retrying step %s (attempt %d of %d)", step.Name, step.RetryCount+1, step.MaxRetries)); err != nil {
				return err
			}
		}

		if err := step.Start(o.now()); err != nil {
			return err
		}
		if err := o.transition(ctx, step, models.SagaLogInfo, fmt.Sprintf("Step %s started", step.Name)); err != nil {
			return err
		}

		result, reused, execErr := o.execute(ctx, step)
		if execErr == nil {
			if err := step.Succeed(result, o.now()); err != nil {
				return err
			}
			msg := fmt.Sprintf("Step %s succeeded", step.Name)
			if reused {
				msg = fmt.Sprintf("Step %s succeeded with recorded result", step.Name)
			}
			return o.transition(ctx, step, models.SagaLogInfo, msg)
		}

		if err := step.Fail(execErr, o.now()); err != nil {
			return err
		}
		if err := o.transition(ctx, step, models.SagaLogError, fmt.Sprintf("Step %s failed: %v", step.Name, execErr)); err != nil {
			return err
		}

		log.Warn().
			Err(execErr).
			Str("sagaInstanceID", step.InstanceID).
			Str("sagaStepID", step.ID).
			Int("retryCount", step.RetryCount).
			Int("maxRetries", step.MaxRetries).
			Msg("Saga step failed")

		if step.IsExhausted() {
			return o.exhausted(step, execErr)
		}
		if err := o.backoff(ctx); err != nil {
			if cerr := o.checkActive(context.WithoutCancel(ctx), step.InstanceID); cerr != nil {
				return cerr
			}
			return err
		}
	}
}

func (o *Orchestrator) exhausted(step *domainsaga.Step, cause error) error {
	return &apperror.RetryExhaustedError{
		StepID:     step.ID,
		RetryCount: step.RetryCount,
		MaxRetries: step.MaxRetries,
		Err:        cause,
	}
}

func (o *Orchestrator) recorded(ctx context.Context, step *domainsaga.Step) (json.RawMessage, bool) {
	key := step.IdempotencyKey()
	result, ok, err := o.idempotency.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Idempotency lookup failed")
		return nil, false
	}
	return result, ok
}

func (o *Orchestrator) execute(ctx context.Context, step *domainsaga.Step) (json.RawMessage, bool, error) {
	if result, ok := o.recorded(ctx, step); ok {
		return result, true, nil
	}
	key := step.IdempotencyKey()

	action, found := o.actions.Get(step.Name)
	if !found {
		return nil, false, fmt.Errorf("no action registered for step %s", step.Name)
	}

	result, err := action.Execute(ctx, o.stepContext(step))
	if err != nil {
		return nil, false, err
	}

	if err := o.idempotency.Put(ctx, key, result); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to record idempotency key")
	}
	return result, false, nil
}

func (o *Orchestrator) compensate(ctx context.Context, done []domainsaga.Step) {
	for i := len(done) - 1; i >= 0; i-- {
		step := &done[i]
		if step.Status != domainsaga.StepSucceeded {
			continue
		}
		action, ok := o.actions.Get(step.Name)
		if !ok {
			continue
		}
		compensator, ok := action.(Compensator)
		if !ok {
			continue
		}

		if err := compensator.Compensate(ctx, o.stepContext(step)); err != nil {
			log.Error().Err(err).Str("sagaStepID", step.ID).Msg("Saga step compensation failed")
			o.appendLog(ctx, step.InstanceID, &step.ID, models.SagaLogError, fmt.Sprintf("Compensation of step %s failed: %v", step.Name, err))
			continue
		}
		if err := step.Compensate(o.now()); err != nil {
			continue
		}
		if err := o.transition(ctx, step, models.SagaLogWarning, fmt.Sprintf("Step %s compensated", step.Name)); err != nil {
			log.Error().Err(err).Str("sagaStepID", step.ID).Msg("Failed to persist compensation")
		}
	}
}

// transition persists the step, re-derives the instance and appends the log
// entry in one transaction, then dispatches the resulting events. It is not
// interrupted by cancellation of ctx.
func (o *Orchestrator) transition(ctx context.Context, step *domainsaga.Step, logType, message string) error {
	ctx = context.WithoutCancel(ctx)
	changed := event.New(step.ID, step.StatusChanged())
	events := []event.Event{changed}

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.SagaStep{}).Where("id = ?", step.ID).Updates(stepUpdates(step)).Error; err != nil {
			return fmt.Errorf("failed to update saga step: %w", err)
		}

		stepID := step.ID
		if err := tx.Create(&models.SagaLog{
			SagaInstanceID: step.InstanceID,
			SagaStepID:     &stepID,
			Type:           logType,
			Message:        message,
		}).Error; err != nil {
			return fmt.Errorf("failed to write saga log: %w", err)
		}

		instanceChanged, err := o.sync.Sync(ctx, tx, changed)
		if err != nil {
			return err
		}
		if instanceChanged != nil {
			events = append(events, *instanceChanged)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.dispatcher.Dispatch(ctx, events...)
	o.recordStep(string(step.Status))
	if len(events) > 1 {
		o.recordInstance(events[1].Data.(event.SagaInstanceStatusChangedEvent).Status)
	}
	return nil
}

// Cancel aborts a non-terminal instance and interrupts its in-flight run
func (o *Orchestrator) Cancel(ctx context.Context, instanceID string) error {
	var changed event.Event
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findActiveInstance(tx, instanceID)
		if err != nil {
			return err
		}
		instance := instanceFromModel(*row)
		if err := instance.Cancel(o.now()); err != nil {
			return err
		}
		if err := tx.Model(&models.SagaInstance{}).Where("id = ?", instanceID).Updates(instanceUpdates(&instance)).Error; err != nil {
			return fmt.Errorf("failed to cancel saga instance: %w", err)
		}
		if err := tx.Create(&models.SagaLog{
			SagaInstanceID: instanceID,
			Type:           models.SagaLogWarning,
			Message:        "Saga instance cancelled",
		}).Error; err != nil {
			return fmt.Errorf("failed to write saga log: %w", err)
		}
		changed = event.New(instanceID, event.SagaInstanceStatusChangedEvent{
			InstanceID: instanceID,
			Status:     string(instance.Status),
			StartDate:  instance.StartDate,
			EndDate:    instance.EndDate,
		})
		return nil
	})
	if err != nil {
		return err
	}

	o.dispatcher.Dispatch(ctx, changed)
	o.recordInstance(string(domainsaga.InstanceCancelled))
	o.interrupt(instanceID)

	log.Info().Str("sagaInstanceID", instanceID).Msg("Saga instance cancelled")
	return nil
}

// Delete soft-deletes an instance whatever its status
func (o *Orchestrator) Delete(ctx context.Context, instanceID string) error {
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findActiveInstance(tx, instanceID); err != nil {
			return err
		}
		if err := tx.Model(&models.SagaInstance{}).Where("id = ?", instanceID).
			Update("lifecycle", models.LifecycleDeleted).Error; err != nil {
			return fmt.Errorf("failed to delete saga instance: %w", err)
		}
		return tx.Create(&models.SagaLog{
			SagaInstanceID: instanceID,
			Type:           models.SagaLogWarning,
			Message:        "Saga instance deleted",
		}).Error
	})
	if err != nil {
		return err
	}

	o.dispatcher.Dispatch(ctx, event.New(instanceID, event.SagaInstanceDeletedEvent{InstanceID: instanceID}))
	o.interrupt(instanceID)

	log.Info().Str("sagaInstanceID", instanceID).Msg("Saga instance deleted")
	return nil
}

// Resume re-drives every non-terminal instance without recent activity.
// Steps left RUNNING longer than the stall threshold complete with their
// recorded result when one exists and count as failed attempts otherwise.
// It returns the number of instances re-driven.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	var rows []models.SagaInstance
	if err := o.db.WithContext(ctx).
		Where("lifecycle = ? AND status IN ?", models.LifecycleActive, []string{
			string(domainsaga.InstancePending),
			string(domainsaga.InstanceRunning),
		}).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to find resumable saga instances: %w", err)
	}

	cutoff := o.now().Add(-o.opts.StallThreshold)
	resumed := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		if o.isRunning(row.ID) {
			continue
		}

		active, err := o.recentlyActive(ctx, row, cutoff)
		if err != nil {
			return resumed, err
		}
		if active {
			continue
		}

		log.Info().Str("sagaInstanceID", row.ID).Msg("Resuming saga instance")
		if err := o.Run(ctx, row.ID); err != nil && !errors.Is(err, apperror.ErrRetryExhausted) {
			log.Error().Err(err).Str("sagaInstanceID", row.ID).Msg("Saga resume failed")
		}
		resumed++
	}
	return resumed, nil
}

func (o *Orchestrator) recentlyActive(ctx context.Context, row models.SagaInstance, cutoff time.Time) (bool, error) {
	if row.UpdatedAt.After(cutoff) {
		return true, nil
	}
	var count int64
	if err := o.db.WithContext(ctx).
		Model(&models.SagaStep{}).
		Where("saga_instance_id = ? AND updated_at > ?", row.ID, cutoff).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to inspect saga steps: %w", err)
	}
	return count > 0, nil
}

func (o *Orchestrator) load(ctx context.Context, instanceID string) (*models.SagaInstance, []domainsaga.Step, error) {
	row, err := findActiveInstance(o.db.WithContext(ctx), instanceID)
	if err != nil {
		return nil, nil, err
	}

	var stepRows []models.SagaStep
	if err := o.db.WithContext(ctx).
		Where("saga_instance_id = ?", instanceID).
		Order("step_order ASC").
		Find(&stepRows).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load saga steps: %w", err)
	}
	return row, stepsFromModels(stepRows), nil
}

func (o *Orchestrator) checkActive(ctx context.Context, instanceID string) error {
	row, err := findActiveInstance(o.db.WithContext(ctx), instanceID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return errCancelled
		}
		return err
	}
	if row.Status == string(domainsaga.InstanceCancelled) {
		return errCancelled
	}
	return ctx.Err()
}

func (o *Orchestrator) backoff(ctx context.Context) error {
	if o.opts.RetryBackoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.opts.RetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) stepContext(step *domainsaga.Step) StepContext {
	return StepContext{
		InstanceID:     step.InstanceID,
		StepID:         step.ID,
		Name:           step.Name,
		Order:          step.Order,
		Attempt:        step.RetryCount + 1,
		Payload:        step.Payload,
		IdempotencyKey: step.IdempotencyKey(),
	}
}

func (o *Orchestrator) appendLog(ctx context.Context, instanceID string, stepID *string, logType, message string) {
	if err := o.db.WithContext(ctx).Create(&models.SagaLog{
		SagaInstanceID: instanceID,
		SagaStepID:     stepID,
		Type:           logType,
		Message:        message,
	}).Error; err != nil {
		log.Error().Err(err).Str("sagaInstanceID", instanceID).Msg("Failed to write saga log")
	}
}

func (o *Orchestrator) acquire(ctx context.Context, instanceID string) (context.Context, func(), bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[instanceID]; busy {
		return ctx, func() {}, false
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running[instanceID] = cancel
	return runCtx, func() {
		o.mu.Lock()
		delete(o.running, instanceID)
		o.mu.Unlock()
		cancel()
	}, true
}

func (o *Orchestrator) interrupt(instanceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.running[instanceID]; ok {
		cancel()
	}
}

func (o *Orchestrator) isRunning(instanceID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[instanceID]
	return ok
}

func (o *Orchestrator) recordStep(status string) {
	if o.recorder != nil {
		o.recorder.SagaStepTransition(status)
	}
}

func (o *Orchestrator) recordInstance(status string) {
	if o.recorder != nil {
		o.recorder.SagaInstanceTransition(status)
	}
}

func findActiveInstance(db *gorm.DB, instanceID string) (*models.SagaInstance, error) {
	var row models.SagaInstance
	if err := db.Where("id = ? AND lifecycle = ?", instanceID, models.LifecycleActive).First(&row).Error; err != nil {
		return nil, apperror.FromGorm(err, entityInstance, instanceID)
	}
	return &row, nil
}
