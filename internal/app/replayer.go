package app

import (
	"context"

	"github.com/sisques-labs/project-starter-sub009/internal/replay"
	"github.com/sisques-labs/project-starter-sub009/internal/tracing"
)

// Executor runs a replay
type Executor interface {
	Execute(ctx context.Context, f replay.Filter) (int, error)
}

// Replayer runs each replay inside its own APM transaction
type Replayer struct {
	engine Executor
	tracer tracing.Tracer
}

// NewReplayer wraps engine with tracing
func NewReplayer(engine Executor, tracer tracing.Tracer) *Replayer {
	if tracer == nil {
		tracer = tracing.Disabled()
	}
	return &Replayer{engine: engine, tracer: tracer}
}

// Execute implements api.Replayer
func (r *Replayer) Execute(ctx context.Context, f replay.Filter) (int, error) {
	txn := r.tracer.StartTransaction("replay-events")
	defer r.tracer.EndTransaction(txn)

	r.tracer.AddAttribute(txn, "aggregateID", f.AggregateID)
	r.tracer.AddAttribute(txn, "aggregateType", f.AggregateType)
	r.tracer.AddAttribute(txn, "eventType", f.EventType)

	replayed, err := r.engine.Execute(ctx, f)
	r.tracer.AddAttribute(txn, "replayed", replayed)
	if err != nil {
		r.tracer.RecordError(txn, err)
	}
	return replayed, err
}
