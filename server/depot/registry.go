// Package depot tracks the fleet's fuel/unload stations: a fixed set of
// positions, each reachable by at most one robot at a time, with a shared
// counting semaphore bounding how many robots may be searching for a free
// depot simultaneously.
package depot

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Speedy6451/avarus/server/world"
)

// errNoDepotFree should be unreachable: the semaphore bounds concurrent
// scanners to the number of depots, so a scan should always find one free.
var errNoDepotFree = errors.New("depot: no uncontended depot found despite held permit")

// lockedDepot pairs a depot's position with the mutex that makes docking
// there exclusive.
type lockedDepot struct {
	mu  sync.Mutex
	pos world.Position
}

// Registry holds every known depot. The zero value is not usable; use New.
type Registry struct {
	mu     sync.Mutex
	depots []*lockedDepot
	sem    *semaphore.Weighted
}

// New builds a Registry from an initial set of depot positions.
func New(positions []world.Position) *Registry {
	r := &Registry{sem: semaphore.NewWeighted(int64(len(positions)))}
	for _, p := range positions {
		r.depots = append(r.depots, &lockedDepot{pos: p})
	}
	return r
}

// Add registers a new depot at pos and grows the semaphore to match. Any
// Lease acquired from the previous semaphore instance continues to release
// against it correctly; only new Nearest calls observe the larger bound.
func (r *Registry) Add(pos world.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depots = append(r.depots, &lockedDepot{pos: pos})
	r.sem = semaphore.NewWeighted(int64(len(r.depots)))
}

// Positions returns a snapshot of every registered depot position, used by
// persistence.
func (r *Registry) Positions() []world.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]world.Position, len(r.depots))
	for i, d := range r.depots {
		out[i] = d.pos
	}
	return out
}

// Lease is a held depot: the semaphore permit and the depot's own mutex,
// both released by Release. Dropped in reverse acquisition order, matching
// the teacher's guard-pattern convention of releasing inner-to-outer.
type Lease struct {
	sem      *semaphore.Weighted
	depot    *lockedDepot
	released bool
}

// Position returns the depot's location.
func (l *Lease) Position() world.Position { return l.depot.pos }

// Release gives back the depot's mutex and the registry's semaphore
// permit. Safe to call at most once; a Lease is not reusable afterward.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.depot.mu.Unlock()
	l.sem.Release(1)
}

// Nearest acquires one semaphore permit, then scans every depot's mutex,
// taking the nearest one that is currently uncontended. The semaphore
// guarantees at least one depot is free by the time the scan runs: no more
// callers can be mid-scan than there are depots.
func (r *Registry) Nearest(ctx context.Context, from world.Position) (*Lease, error) {
	r.mu.Lock()
	sem := r.sem
	depots := r.depots
	r.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	// Scans run one at a time, so one scanner's transient TryLocks never
	// hide a free depot from another.
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *lockedDepot
	var bestDist int64 = -1
	var locked []*lockedDepot
	for _, d := range depots {
		if d.mu.TryLock() {
			locked = append(locked, d)
			if dist := d.pos.Manhattan(from); bestDist < 0 || dist < bestDist {
				best, bestDist = d, dist
			}
		}
	}
	for _, d := range locked {
		if d != best {
			d.mu.Unlock()
		}
	}

	if best == nil {
		sem.Release(1)
		return nil, errNoDepotFree
	}

	return &Lease{sem: sem, depot: best}, nil
}
