// Package schedule defers resolved actions. The engine only ever talks to
// the Scheduler interface — it hands an action off with a due time and moves
// on; it never owns timers. The Queue/Poller pair in this package is the
// stock implementation: a persistent queue drained by a polling worker that
// re-submits due actions for execution.
package schedule

import (
	"context"
	"time"

	"github.com/joshsymonds/inboxflow/internal/resolve"
)

// Scheduler accepts an action for later execution.
type Scheduler interface {
	ScheduleAt(ctx context.Context, action resolve.Action, when time.Time) (string, error)
}

// Item is one queued action.
type Item struct {
	ID     string
	Action resolve.Action
	RunAt  time.Time
}

// Queue is the storage behind the stock scheduler.
type Queue interface {
	Enqueue(ctx context.Context, action resolve.Action, runAt time.Time) (string, error)
	// Due returns items whose RunAt is at or before now, oldest first.
	Due(ctx context.Context, now time.Time) ([]Item, error)
	// MarkDone finishes an item, recording the execution error if any.
	MarkDone(ctx context.Context, id string, execErr string) error
}

// QueueScheduler adapts a Queue to the Scheduler interface.
type QueueScheduler struct {
	Queue Queue
}

func (s QueueScheduler) ScheduleAt(ctx context.Context, action resolve.Action, when time.Time) (string, error) {
	return s.Queue.Enqueue(ctx, action, when)
}

var _ Scheduler = QueueScheduler{}
