// Package cqrs routes commands and queries to their handlers. Commands are
// also accepted as JSON envelopes from the message queue, the operator API
// and saga steps.
package cqrs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
)

// Command is a request to change state
type Command interface {
	CommandType() string
}

// Query is a request to read state
type Query interface {
	QueryType() string
}

// Envelope is the serialized form of a command
type Envelope struct {
	CommandType string          `json:"commandType" validate:"required"`
	Data        json.RawMessage `json:"data"`
}

type commandHandler func(ctx context.Context, cmd Command) error

type commandDecoder func(raw json.RawMessage) (Command, error)

// CommandBus executes each command with the single handler registered for
// its type.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[string]commandHandler
	decoders map[string]commandDecoder
}

// NewCommandBus creates an empty command bus
func NewCommandBus() *CommandBus {
	return &CommandBus{
		handlers: make(map[string]commandHandler),
		decoders: make(map[string]commandDecoder),
	}
}

// Handle registers handler for commands of type C. C also becomes decodable
// from an Envelope.
func Handle[C Command](b *CommandBus, handler func(ctx context.Context, cmd C) error) {
	var zero C
	commandType := zero.CommandType()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[commandType] = func(ctx context.Context, cmd Command) error {
		typed, ok := cmd.(C)
		if !ok {
			return fmt.Errorf("command %s has unexpected type %T", commandType, cmd)
		}
		return handler(ctx, typed)
	}
	b.decoders[commandType] = func(raw json.RawMessage) (Command, error) {
		var cmd C
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cmd); err != nil {
				return nil, apperror.NewValidation("data", "malformed "+commandType+": "+err.Error())
			}
		}
		return cmd, nil
	}
}

// Execute runs cmd through its handler
func (b *CommandBus) Execute(ctx context.Context, cmd Command) error {
	b.mu.RLock()
	handler, ok := b.handlers[cmd.CommandType()]
	b.mu.RUnlock()
	if !ok {
		return unknownCommand(cmd.CommandType())
	}

	log.Debug().Str("commandType", cmd.CommandType()).Msg("Executing command")
	return handler(ctx, cmd)
}

// Decode turns an envelope into its typed command
func (b *CommandBus) Decode(env Envelope) (Command, error) {
	b.mu.RLock()
	decode, ok := b.decoders[env.CommandType]
	b.mu.RUnlock()
	if !ok {
		return nil, unknownCommand(env.CommandType)
	}
	return decode(env.Data)
}

// ExecuteEnvelope decodes env and executes the command
func (b *CommandBus) ExecuteEnvelope(ctx context.Context, env Envelope) error {
	cmd, err := b.Decode(env)
	if err != nil {
		return err
	}
	return b.Execute(ctx, cmd)
}

// CommandTypes lists the registered command types
func (b *CommandBus) CommandTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	types := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func unknownCommand(commandType string) error {
	if commandType == "" {
		return apperror.NewValidation("commandType", "required")
	}
	return apperror.NewValidation("commandType", "unknown command "+commandType)
}

type queryHandler func(ctx context.Context, q Query) (any, error)

// QueryBus answers each query with the single handler registered for its
// type.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[string]queryHandler
}

// NewQueryBus creates an empty query bus
func NewQueryBus() *QueryBus {
	return &QueryBus{handlers: make(map[string]queryHandler)}
}

// Answer registers handler for queries of type Q
func Answer[Q Query, R any](b *QueryBus, handler func(ctx context.Context, q Q) (R, error)) {
	var zero Q
	queryType := zero.QueryType()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[queryType] = func(ctx context.Context, q Query) (any, error) {
		typed, ok := q.(Q)
		if !ok {
			return nil, fmt.Errorf("query %s has unexpected type %T", queryType, q)
		}
		return handler(ctx, typed)
	}
}

// Ask runs q through its handler
func (b *QueryBus) Ask(ctx context.Context, q Query) (any, error) {
	b.mu.RLock()
	handler, ok := b.handlers[q.QueryType()]
	b.mu.RUnlock()
	if !ok {
		return nil, apperror.NewValidation("queryType", "unknown query "+q.QueryType())
	}
	return handler(ctx, q)
}

// AskAs runs q and asserts the result type
func AskAs[R any](ctx context.Context, b *QueryBus, q Query) (R, error) {
	var zero R
	result, err := b.Ask(ctx, q)
	if err != nil {
		return zero, err
	}
	typed, ok := result.(R)
	if !ok {
		return zero, fmt.Errorf("query %s returned %T", q.QueryType(), result)
	}
	return typed, nil
}
