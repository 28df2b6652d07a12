package saga

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// StepContext is what an action sees of the step it executes
type StepContext struct {
	InstanceID     string
	StepID         string
	Name           string
	Order          int
	Attempt        int
	Payload        json.RawMessage
	IdempotencyKey string
}

// Action performs the side effect of a step. The returned result is stored
// on the step and under its idempotency key.
type Action interface {
	Execute(ctx context.Context, sc StepContext) (json.RawMessage, error)
}

// Compensator is implemented by actions whose effect can be undone after a
// later step exhausted its retries.
type Compensator interface {
	Compensate(ctx context.Context, sc StepContext) error
}

// ActionFunc adapts a function to Action
type ActionFunc func(ctx context.Context, sc StepContext) (json.RawMessage, error)

func (f ActionFunc) Execute(ctx context.Context, sc StepContext) (json.RawMessage, error) {
	return f(ctx, sc)
}

// Actions maps step names to actions
type Actions struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewActions creates an empty action registry
func NewActions() *Actions {
	return &Actions{actions: make(map[string]Action)}
}

// Register binds name to action, replacing any previous binding
func (a *Actions) Register(name string, action Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions[name] = action
}

// Get returns the action bound to name
func (a *Actions) Get(name string) (Action, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	action, ok := a.actions[name]
	return action, ok
}

// Names lists the registered step names
func (a *Actions) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.actions))
	for name := range a.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
