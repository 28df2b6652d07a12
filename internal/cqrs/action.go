package cqrs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sisques-labs/project-starter-sub009/internal/saga"
	"github.com/sisques-labs/project-starter-sub009/internal/utils"
)

// CommandActionName is the step name bound to CommandAction
const CommandActionName = "command"

// CommandStep is the payload of a step that executes a command. The optional
// compensation is executed when a later step exhausts its retries.
type CommandStep struct {
	Command      Envelope  `json:"command" validate:"required"`
	Compensation *Envelope `json:"compensation,omitempty"`
}

// CommandAction lets saga steps execute commands on the command bus
type CommandAction struct {
	commands *CommandBus
}

// NewCommandAction creates the action
func NewCommandAction(commands *CommandBus) *CommandAction {
	return &CommandAction{commands: commands}
}

func (a *CommandAction) Execute(ctx context.Context, sc saga.StepContext) (json.RawMessage, error) {
	step, err := decodeStep(sc)
	if err != nil {
		return nil, err
	}
	if err := a.commands.ExecuteEnvelope(ctx, step.Command); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"commandType": step.Command.CommandType})
}

func (a *CommandAction) Compensate(ctx context.Context, sc saga.StepContext) error {
	step, err := decodeStep(sc)
	if err != nil {
		return err
	}
	if step.Compensation == nil {
		return nil
	}
	return a.commands.ExecuteEnvelope(ctx, *step.Compensation)
}

func decodeStep(sc saga.StepContext) (CommandStep, error) {
	var step CommandStep
	if err := json.Unmarshal(sc.Payload, &step); err != nil {
		return step, fmt.Errorf("failed to decode command step %s: %w", sc.StepID, err)
	}
	if err := utils.ValidateStruct(step); err != nil {
		return step, err
	}
	return step, nil
}
