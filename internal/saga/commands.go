package saga

import (
	"context"

	"github.com/sisques-labs/project-starter-sub009/internal/criteria"
	"github.com/sisques-labs/project-starter-sub009/internal/models"
	"github.com/sisques-labs/project-starter-sub009/internal/utils"
)

// Command types
const (
	CommandStart  = "StartSaga"
	CommandRun    = "RunSaga"
	CommandCancel = "CancelSaga"
	CommandDelete = "DeleteSaga"
)

// RunCommand re-drives an instance in the background
type RunCommand struct {
	ID string `json:"id" validate:"required"`
}

// CancelCommand aborts an instance
type CancelCommand struct {
	ID string `json:"id" validate:"required"`
}

// DeleteCommand soft-deletes an instance
type DeleteCommand struct {
	ID string `json:"id" validate:"required"`
}

func (StartCommand) CommandType() string  { return CommandStart }
func (RunCommand) CommandType() string    { return CommandRun }
func (CancelCommand) CommandType() string { return CommandCancel }
func (DeleteCommand) CommandType() string { return CommandDelete }

// HandleStart creates the instance and launches its run
func (o *Orchestrator) HandleStart(ctx context.Context, cmd StartCommand) error {
	instance, err := o.Start(ctx, cmd)
	if err != nil {
		return err
	}
	o.Launch(instance.ID)
	return nil
}

// HandleRun launches a run of an existing instance
func (o *Orchestrator) HandleRun(ctx context.Context, cmd RunCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	if _, err := findActiveInstance(o.db.WithContext(ctx), cmd.ID); err != nil {
		return err
	}
	o.Launch(cmd.ID)
	return nil
}

// HandleCancel cancels an instance
func (o *Orchestrator) HandleCancel(ctx context.Context, cmd CancelCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	return o.Cancel(ctx, cmd.ID)
}

// HandleDelete deletes an instance
func (o *Orchestrator) HandleDelete(ctx context.Context, cmd DeleteCommand) error {
	if err := utils.ValidateStruct(cmd); err != nil {
		return err
	}
	return o.Delete(ctx, cmd.ID)
}

// Query types
const (
	QueryFindInstance    = "FindSagaInstance"
	QueryFindInstances   = "FindSagaInstances"
	QueryStepsByInstance = "FindSagaStepsByInstance"
	QueryLogsByInstance  = "FindSagaLogsByInstance"
	QueryLogsByStep      = "FindSagaLogsByStep"
)

type FindInstanceQuery struct{ ID string }

type FindInstancesQuery struct{ Criteria criteria.Criteria }

type StepsByInstanceQuery struct{ InstanceID string }

type LogsByInstanceQuery struct{ InstanceID string }

type LogsByStepQuery struct{ StepID string }

func (FindInstanceQuery) QueryType() string    { return QueryFindInstance }
func (FindInstancesQuery) QueryType() string   { return QueryFindInstances }
func (StepsByInstanceQuery) QueryType() string { return QueryStepsByInstance }
func (LogsByInstanceQuery) QueryType() string  { return QueryLogsByInstance }
func (LogsByStepQuery) QueryType() string      { return QueryLogsByStep }

func (q *Queries) HandleFindInstance(ctx context.Context, query FindInstanceQuery) (*models.SagaInstanceView, error) {
	return q.FindInstanceByID(ctx, query.ID)
}

func (q *Queries) HandleFindInstances(ctx context.Context, query FindInstancesQuery) (criteria.Page[models.SagaInstanceView], error) {
	return q.FindInstances(ctx, query.Criteria)
}

func (q *Queries) HandleStepsByInstance(ctx context.Context, query StepsByInstanceQuery) ([]models.SagaStepView, error) {
	return q.FindStepsByInstance(ctx, query.InstanceID)
}

func (q *Queries) HandleLogsByInstance(ctx context.Context, query LogsByInstanceQuery) ([]models.SagaLog, error) {
	return q.FindLogsByInstance(ctx, query.InstanceID)
}

func (q *Queries) HandleLogsByStep(ctx context.Context, query LogsByStepQuery) ([]models.SagaLog, error) {
	return q.FindLogsByStep(ctx, query.StepID)
}
