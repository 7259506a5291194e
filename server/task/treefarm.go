package task

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

func init() {
	RegisterTask("treeFarm", func() Task { return &TreeFarm{} })
}

// sweepInterval is how long a TreeFarm waits between harvest passes.
const sweepInterval = 16 * time.Minute

// treeSpacing is the cell offset between adjacent tree planting sites.
var treeSpacing = world.Cell{X: 2, Y: 32, Z: 2}

// TreeFarm periodically harvests a grid of trees, sweeps the floor for
// dropped saplings, and replants anything that got cut down.
type TreeFarm struct {
	Position world.Cell
	Size     world.Cell // number of trees along each axis; Y is always 1

	mu        sync.Mutex
	lastSweep time.Time
}

// NewTreeFarm builds a TreeFarm rooted at position, with the teacher's
// default 5x1x2 grid of trees.
func NewTreeFarm(position world.Cell) *TreeFarm {
	return &TreeFarm{Position: position, Size: world.Cell{X: 5, Y: 1, Z: 2}}
}

// Tag identifies TreeFarm to the persistence layer.
func (f *TreeFarm) Tag() string { return "treeFarm" }

func (f *TreeFarm) Poll() PollResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if time.Since(f.lastSweep) <= sweepInterval {
		return PollResult{State: Waiting}
	}
	f.lastSweep = time.Now()
	return PollResult{State: Ready, Hint: world.Position{Cell: f.Position, Dir: world.North}}
}

func (f *TreeFarm) Run(c *turtle.Commander) *Handle {
	position, size := f.Position, f.Size
	return spawn(context.Background(), func(ctx context.Context) {
		if err := sweepTreeFarm(ctx, c, position, size); err != nil {
			slog.Default().Error("tree farm sweep failed", "error", err)
		}
	})
}

func mulCell(a, b world.Cell) world.Cell {
	return world.Cell{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z}
}

// fellTree climbs a trunk starting at bottom, digging every consecutive
// cell whose block name contains "log", and stops at the first cell
// known not to be one. It reports whether it dug anything.
func fellTree(ctx context.Context, c *turtle.Commander, bottom world.Cell) (bool, error) {
	log := bottom
	successful := false
	for {
		if err := c.GotoAdjacent(ctx, log); err != nil {
			return successful, err
		}
		name, known := c.World().Get(log)
		if known && !strings.Contains(name, "log") {
			break
		}
		successful = true
		if err := c.DigAt(ctx, log); err != nil {
			return successful, err
		}
		log = log.Add(world.Up)
	}
	return successful, nil
}

type saplingSlot struct {
	slot  uint32
	count uint32
}

func popSapling(slots []saplingSlot) ([]saplingSlot, uint32, bool) {
	if len(slots) == 0 {
		return slots, 0, false
	}
	last := slots[len(slots)-1]
	slots = slots[:len(slots)-1]
	last.count--
	if last.count > 0 {
		slots = append(slots, last)
	}
	return slots, last.slot, true
}

// sweepTreeFarm docks, fells every tree in the grid, sucks up dropped
// saplings from the floor, and replants any empty site it can.
func sweepTreeFarm(ctx context.Context, c *turtle.Commander, position, size world.Cell) error {
	trees := volume(size)

	if _, err := c.Dock(ctx); err != nil {
		return err
	}

	successful := false
	for tree := int32(0); tree < trees; tree++ {
		offset := mulCell(fill(size, tree), treeSpacing)
		treePos := position.Add(offset)
		ok, err := fellTree(ctx, c, treePos)
		if err != nil {
			return err
		}
		if ok {
			successful = true
		}
	}

	if !successful {
		slog.Default().Warn("tree farm incomplete harvest, no trees found", "pos", position)
		return nil
	}

	// Sweep the floor (not the upper trunk levels) for dropped saplings.
	// This walks one cell past the far corner and back to the near one.
	nearMargin := world.Cell{X: 1, Z: 1}
	scale := mulCell(size, world.Cell{X: treeSpacing.X, Y: 1, Z: treeSpacing.Z}).Add(nearMargin)
	area := volume(scale)
	for tile := int32(0); tile < area; tile++ {
		offset := fill(scale, tile)
		tilePos := position.Add(offset).Sub(nearMargin)
		if err := c.GotoAdjacent(ctx, tilePos.Sub(world.Up)); err != nil {
			return err
		}
		if _, err := c.Execute(ctx, turtle.Command{Kind: turtle.SuckFront, N: 64}); err != nil {
			return err
		}
	}

	slots, err := c.Inventory(ctx)
	if err != nil {
		return err
	}
	var saplings []saplingSlot
	needed := trees
	for i, slot := range slots {
		if !strings.Contains(slot.Name, "sapling") {
			continue
		}
		needed -= int32(slot.Count)
		saplings = append(saplings, saplingSlot{slot: uint32(i + 1), count: slot.Count})
		if needed <= 0 {
			break
		}
	}
	if needed > 0 {
		slog.Default().Warn("tree farm incomplete wood harvest", "short", needed)
	}

	for tree := int32(0); tree < trees; tree++ {
		offset := mulCell(fill(size, tree), treeSpacing)
		treePos := position.Add(offset)
		if c.World().Occupied(treePos) {
			continue
		}
		var slotNum uint32
		var ok bool
		saplings, slotNum, ok = popSapling(saplings)
		if !ok {
			break
		}
		if err := c.GotoAdjacent(ctx, treePos); err != nil {
			return err
		}
		if _, err := c.PlaceAt(ctx, treePos, slotNum); err != nil {
			return err
		}
	}

	return nil
}
