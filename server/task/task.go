// Package task implements the scheduler and the concrete jobs it assigns
// to robots: quarrying, vein removal, tree farming, schematic
// construction, and one-shot travel.
package task

import (
	"context"
	"log/slog"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

// State is the outcome of polling a Task.
type State uint8

const (
	// Waiting means the task has nothing for a worker right now.
	Waiting State = iota
	// Ready means the task will accept another worker at Hint.
	Ready
	// Complete means the scheduler may remove the task.
	Complete
)

// PollResult is a Task's answer to Poll. Hint is only meaningful when
// State is Ready; it's used to pick the nearest free robot.
type PollResult struct {
	State State
	Hint  world.Position
}

// Handle is what Run returns: a way to abort the spawned work, and a
// channel that closes when it's actually finished (whether it completed,
// failed, or was cancelled). The scheduler polls Done rather than
// Cancel, since cancellation only requests an abort — it doesn't mean the
// goroutine has unwound yet.
type Handle struct {
	Cancel context.CancelFunc
	Done   <-chan struct{}
}

// Task is one unit of schedulable work. Run may be called multiple times
// over a task's life to scale it across several robots; Poll is cheap and
// side-effect-free beyond the task's own internal counters.
type Task interface {
	Poll() PollResult
	Run(c *turtle.Commander) *Handle
	// Tag identifies the concrete type for the persistence layer, matching
	// the string it was registered under via RegisterTask.
	Tag() string
}

// reloadable is implemented by task types that keep unexported state
// derived from their exported fields (e.g. Quarry's chunk tracker). The
// persistence layer calls afterLoad once a task's exported fields have
// been populated from disk, so that derived state is rebuilt rather than
// left zero-valued.
type reloadable interface {
	afterLoad()
}

// AfterLoad rebuilds any derived state a task keeps alongside its
// persisted fields. Callers in the persistence layer must invoke this
// once per task immediately after unmarshaling it from disk.
func AfterLoad(t Task) {
	if r, ok := t.(reloadable); ok {
		r.afterLoad()
	}
}

// spawn runs fn in a goroutine under a cancellable child of parent and
// returns the Handle the scheduler tracks. Every concrete task's Run
// method is built on this. A panic in fn is recovered and logged, and
// Done still closes, so the scheduler reclaims the slot on its next Poll.
func spawn(parent context.Context, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				slog.Default().Error("task panicked", "panic", r)
			}
		}()
		fn(ctx)
	}()
	return &Handle{Cancel: cancel, Done: done}
}
