package task

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

func init() {
	RegisterTask("removeVein", func() Task { return &RemoveVein{} })
}

// fullSlotDockThreshold is how many occupied inventory slots RemoveVein
// tolerates before it breaks off to dump and refuel.
const fullSlotDockThreshold = 14

// RemoveVein flood-fills out from Seed through the six-neighbor grid,
// digging every cell whose block name contains Substring. It's a
// single-robot task: once a robot picks it up, it runs to completion on
// that one robot rather than splitting across a fleet the way Quarry
// does, since a vein's extent isn't known up front.
type RemoveVein struct {
	Seed      world.Cell
	Substring string

	running atomic.Bool
	done    atomic.Bool
}

// NewRemoveVein builds a RemoveVein task starting from seed, matching any
// block whose name contains substring.
func NewRemoveVein(seed world.Cell, substring string) *RemoveVein {
	return &RemoveVein{Seed: seed, Substring: substring}
}

// Tag identifies RemoveVein to the persistence layer.
func (v *RemoveVein) Tag() string { return "removeVein" }

func (v *RemoveVein) Poll() PollResult {
	if v.done.Load() {
		return PollResult{State: Complete}
	}
	if v.running.Load() {
		return PollResult{State: Waiting}
	}
	return PollResult{State: Ready, Hint: world.Position{Cell: v.Seed, Dir: world.North}}
}

func (v *RemoveVein) Run(c *turtle.Commander) *Handle {
	seed, substring := v.Seed, v.Substring
	v.running.Store(true)
	return spawn(context.Background(), func(ctx context.Context) {
		defer func() {
			v.running.Store(false)
			v.done.Store(true)
		}()
		removeVein(ctx, c, seed, substring)
	})
}

var veinNeighbors = []world.Cell{
	{X: 1}, {X: -1},
	world.Up, world.Down,
	{Z: 1}, {Z: -1},
}

func removeVein(ctx context.Context, c *turtle.Commander, seed world.Cell, substring string) error {
	queue := []world.Cell{seed}
	seen := map[world.Cell]bool{}

	for len(queue) > 0 {
		cell := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if seen[cell] {
			continue
		}
		seen[cell] = true

		left, err := c.DumpFiltered(ctx, func(turtle.InventorySlot) bool { return false })
		if err != nil {
			return err
		}
		if left > fullSlotDockThreshold {
			if _, err := c.Dock(ctx); err != nil {
				return err
			}
		}

		if err := c.GotoAdjacent(ctx, cell); err != nil {
			return err
		}

		name, known := c.World().Get(cell)
		if !known || !strings.Contains(name, substring) {
			continue
		}

		if err := c.DigAt(ctx, cell); err != nil {
			return err
		}

		for _, n := range veinNeighbors {
			next := cell.Add(n)
			if !seen[next] {
				queue = append(queue, next)
			}
		}
	}
	return nil
}
