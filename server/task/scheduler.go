package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

// DefaultStartupAllowance is how long the scheduler waits after it's
// created before assigning any tasks, giving a reconnecting fleet time to
// finish registering so fast-booting robots don't claim far-away work
// before closer robots have checked in.
const DefaultStartupAllowance = 4 * time.Second

// Scheduler satisfies turtle.RebirthHandler, so a Commander's Devore can
// cancel and reassign work without the turtle package importing task.
var _ turtle.RebirthHandler = (*Scheduler)(nil)

type slot struct {
	name      string
	commander *turtle.Commander
	handle    *Handle
	job       string // correlation id for the run currently assigned, if any
}

// Scheduler assigns Ready tasks to the nearest free robot and tracks each
// robot's currently running job.
type Scheduler struct {
	mu      sync.Mutex
	turtles []*slot
	tasks   []Task

	shuttingDown bool
	shutdownCh   chan struct{}

	startedAt        time.Time
	startupAllowance time.Duration

	log *slog.Logger
}

// NewScheduler builds a Scheduler with the given startup allowance. A nil
// logger falls back to slog.Default().
func NewScheduler(startupAllowance time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		startedAt:        time.Now(),
		startupAllowance: startupAllowance,
		log:              log,
	}
}

// AddTurtle registers a robot with the scheduler. A robot already
// registered under the same name is left untouched.
func (s *Scheduler) AddTurtle(name string, c *turtle.Commander) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.turtles {
		if sl.name == name {
			return
		}
	}
	c.SetRebirthHandler(s)
	s.log.Info("registered turtle", "name", name)
	s.turtles = append(s.turtles, &slot{name: name, commander: c})
}

// AddTask enqueues a new task for future assignment.
func (s *Scheduler) AddTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Tasks returns a snapshot of every task the scheduler currently holds
// (queued or assigned), used by persistence.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Cancel aborts the running job (if any) for the named robot.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.turtles {
		if sl.name == name && sl.handle != nil {
			sl.handle.Cancel()
			s.log.Info("cancelled task", "turtle", name)
		}
	}
}

// TaskOn runs t on the named robot immediately, bypassing the normal
// nearest-robot assignment. It fails if the robot is unknown or already
// busy.
func (s *Scheduler) TaskOn(t Task, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.turtles {
		if sl.name != name {
			continue
		}
		if sl.handle != nil {
			return false
		}
		sl.job = uuid.NewString()
		sl.handle = t.Run(sl.commander)
		s.log.Info("assigned task", "turtle", name, "job", sl.job)
		return true
	}
	return false
}

// DoOn runs an ad-hoc function on the named robot's commander, tracked the
// same way as a Task.Run result. Used by the devore reboot-and-clean flow,
// which needs to hand a freshly rebooted robot a one-off job rather than a
// registered Task.
func (s *Scheduler) DoOn(name string, fn func(ctx context.Context, c *turtle.Commander)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.turtles {
		if sl.name != name {
			continue
		}
		if sl.handle != nil {
			return false
		}
		commander := sl.commander
		sl.job = uuid.NewString()
		s.log.Info("assigned ad-hoc job", "turtle", name, "job", sl.job)
		sl.handle = spawn(context.Background(), func(ctx context.Context) {
			fn(ctx, commander)
		})
		return true
	}
	return false
}

// Shutdown requests that the scheduler stop assigning new work and
// returns a channel that closes once every in-flight task has finished.
// Calling it again before Poll has closed that channel returns the same
// channel; a call after that returns a new one, closed by the next Poll.
func (s *Scheduler) Shutdown() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownCh == nil {
		s.shutdownCh = make(chan struct{})
		s.shuttingDown = true
	}
	return s.shutdownCh
}

// Poll sweeps finished jobs, checks for shutdown completion, and — absent
// a shutdown in progress — assigns every Ready task to its nearest free
// robot, dropping any task that reports Complete.
func (s *Scheduler) Poll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sl := range s.turtles {
		if sl.handle == nil {
			continue
		}
		select {
		case <-sl.handle.Done:
			sl.handle = nil
			sl.job = ""
		default:
		}
	}

	if s.shuttingDown {
		busy := false
		for _, sl := range s.turtles {
			if sl.handle != nil {
				busy = true
				break
			}
		}
		if !busy && s.shutdownCh != nil {
			close(s.shutdownCh)
			s.shutdownCh = nil
		}
		return
	}

	if time.Since(s.startedAt) < s.startupAllowance {
		return
	}

	// Snapshot every free robot's position once, before assigning any
	// task: Session.Position() takes its own lock independent of s.mu, so
	// without this snapshot a concurrent /update could move a robot
	// between two different tasks' assignment decisions within the same
	// Poll call, letting them resolve against different underlying data.
	var free []*slot
	var freePos []world.Position
	for _, sl := range s.turtles {
		if sl.handle == nil {
			free = append(free, sl)
			freePos = append(freePos, sl.commander.Position())
		}
	}

	var remaining []Task
	for _, t := range s.tasks {
		res := t.Poll()
		switch res.State {
		case Complete:
			continue
		case Ready:
			bestIdx := -1
			var bestDist int64 = -1
			for i, sl := range free {
				if sl.handle != nil {
					continue // claimed earlier this same Poll
				}
				d := freePos[i].Manhattan(res.Hint)
				if bestDist < 0 || d < bestDist {
					bestIdx, bestDist = i, d
				}
			}
			if bestIdx >= 0 {
				free[bestIdx].job = uuid.NewString()
				free[bestIdx].handle = t.Run(free[bestIdx].commander)
				s.log.Info("assigned task", "turtle", free[bestIdx].name, "job", free[bestIdx].job)
			}
		}
		remaining = append(remaining, t)
	}
	s.tasks = remaining
}

// Run drives Poll on a ticker until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	tc := time.NewTicker(interval)
	defer tc.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tc.C:
			s.Poll()
		}
	}
}
