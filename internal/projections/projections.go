// Package projections keeps the read database in step with the events raised
// by the write side. Projectors are plain bus subscribers: live events reach
// them through the dispatcher, replayed events through the replay engine.
package projections

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sisques-labs/project-starter-sub009/internal/bus"
	"github.com/sisques-labs/project-starter-sub009/internal/domain/event"
)

// Projector is a bus handler for a fixed set of event types
type Projector interface {
	bus.Handler
	EventTypes() []event.Type
}

// Register subscribes every projector to its event types
func Register(b *bus.Bus, projectors ...Projector) {
	for _, p := range projectors {
		for _, t := range p.EventTypes() {
			b.Subscribe(t, p)
		}
	}
}

// insert creates value; replayed creations overwrite columns of an existing
// row instead of failing.
func insert(ctx context.Context, db *gorm.DB, ev event.Event, value any, columns ...string) error {
	q := db.WithContext(ctx)
	if ev.IsReplay() {
		q = q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		})
	}
	if err := q.Create(value).Error; err != nil {
		return fmt.Errorf("failed to project %s: %w", ev.Type(), err)
	}
	return nil
}
