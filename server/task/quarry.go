package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

func init() {
	RegisterTask("quarry", func() Task { return &Quarry{} })
}

// useless names blocks a miner leaves on the ground instead of hauling —
// not worth the fuel to carry home.
var useless = []string{
	"minecraft:dirt",
	"minecraft:gravel",
	"minecraft:cobblestone",
	"minecraft:cobbled_deepslate",
	"minecraft:rhyolite",
}

// valuable names substrings of block names worth a detour to collect.
var valuable = []string{
	"ore",
}

func isUseless(slot turtle.InventorySlot) bool {
	for _, u := range useless {
		if u == slot.Name {
			return true
		}
	}
	return false
}

func isValuableName(name string) bool {
	for _, v := range valuable {
		if strings.Contains(name, v) {
			return true
		}
	}
	return false
}

// chunkSize is the edge length of a quarry's sub-cube unit of work.
var chunkSize = world.Cell{X: 4, Y: 4, Z: 4}

// maxQuarryMiners bounds how many robots a single Quarry task will ever
// have mining concurrently, independent of how many chunks remain.
const maxQuarryMiners = 42

// Quarry divides a lower..upper bounding box into 4x4x4 sub-cubes and
// mines them out chunk by chunk, up to maxQuarryMiners robots at once, each
// claiming one sub-cube at a time through a Tracker.
type Quarry struct {
	Lower, Upper world.Cell

	miners  atomic.Int32
	tracker *Tracker
}

// NewQuarry builds a Quarry over the box bounded by lower and upper. The
// box's extent on every axis must be a multiple of 4.
func NewQuarry(lower, upper world.Cell) *Quarry {
	size := upper.Sub(lower)
	grid := world.Cell{X: size.X / chunkSize.X, Y: size.Y / chunkSize.Y, Z: size.Z / chunkSize.Z}
	return &Quarry{
		Lower:   lower,
		Upper:   upper,
		tracker: NewTracker(volume(grid)),
	}
}

// NewQuarryChunk builds a Quarry over the 16x16x16 region containing pos,
// aligned to a 16-block grid.
func NewQuarryChunk(pos world.Cell) *Quarry {
	base := world.Cell{
		X: pos.X - mod(pos.X, 16),
		Y: pos.Y - mod(pos.Y, 16),
		Z: pos.Z - mod(pos.Z, 16),
	}
	return NewQuarry(base, base.Add(world.Cell{X: 16, Y: 16, Z: 16}))
}

func mod(n, m int32) int32 {
	r := n % m
	if r < 0 {
		r += m
	}
	return r
}

func (q *Quarry) grid() world.Cell {
	size := q.Upper.Sub(q.Lower)
	return world.Cell{X: size.X / chunkSize.X, Y: size.Y / chunkSize.Y, Z: size.Z / chunkSize.Z}
}

// Tag identifies Quarry to the persistence layer.
func (q *Quarry) Tag() string { return "quarry" }

// afterLoad rebuilds the chunk tracker from Lower/Upper once persistence
// has populated them; the tracker itself is never serialized.
func (q *Quarry) afterLoad() {
	q.tracker = NewTracker(volume(q.grid()))
}

func (q *Quarry) Poll() PollResult {
	if q.tracker.Done() {
		return PollResult{State: Complete}
	}
	if q.tracker.Allocated() {
		return PollResult{State: Waiting}
	}

	for {
		n := q.miners.Load()
		if n >= maxQuarryMiners {
			return PollResult{State: Waiting}
		}
		if q.miners.CompareAndSwap(n, n+1) {
			break
		}
	}

	// Approximate: the hint is the quarry's lower corner, not the chunk
	// the assigned robot will go on to claim.
	return PollResult{State: Ready, Hint: world.Position{Cell: q.Lower, Dir: world.North}}
}

func (q *Quarry) Run(c *turtle.Commander) *Handle {
	return spawn(context.Background(), func(ctx context.Context) {
		defer q.miners.Add(-1)

		guard, ok := q.tracker.Next()
		if !ok {
			slog.Default().Error("quarry scheduled with no chunks left")
			return
		}
		defer guard.Release()

		rel := fill(q.grid(), guard.Chunk())
		abs := world.Cell{
			X: rel.X*chunkSize.X + q.Lower.X,
			Y: rel.Y*chunkSize.Y + q.Lower.Y,
			Z: rel.Z*chunkSize.Z + q.Lower.Z,
		}

		if err := mineChunkAndSweep(ctx, c, abs, chunkSize); err != nil {
			slog.Default().Warn("quarry chunk failed", "pos", fmt.Sprint(abs), "error", err)
			guard.Cancel()
			return
		}
		guard.Finish()
	})
}

// mineChunkAndSweep mines a chunk-sized volume clean, then chases down
// any ore it can see from the chunk, refueling and dumping along the way.
func mineChunkAndSweep(ctx context.Context, c *turtle.Commander, pos, chunk world.Cell) error {
	vol := volume(chunk)

	left, err := c.DumpFiltered(ctx, isUseless)
	if err != nil {
		return err
	}
	if left > 12 {
		if _, err := c.Dock(ctx); err != nil {
			return err
		}
	}

	if err := c.Devore(ctx); err != nil {
		return err
	}

	if err := refuelIfNeeded(ctx, c, vol); err != nil {
		return err
	}

	if err := mineChunk(ctx, c, pos, chunk); err != nil {
		return err
	}

	queue := nearValuables(c, pos, chunk)
	for len(queue) > 0 {
		block := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if err := refuelIfNeeded(ctx, c, vol); err != nil {
			return err
		}

		name, known := c.World().Get(block)
		if known && world.Garbage(name) {
			continue
		}

		if err := c.GotoAdjacent(ctx, block); err != nil {
			return err
		}
		if err := c.DigAt(ctx, block); err != nil {
			return err
		}
		observe(ctx, c, block)

		queue = append(queue, nearValuables(c, block, world.Cell{X: 2, Y: 2, Z: 2})...)
	}

	return nil
}

// refuelIfNeeded docks when the fuel remaining wouldn't comfortably cover
// digging through another chunk-sized volume.
func refuelIfNeeded(ctx context.Context, c *turtle.Commander, vol int32) error {
	if int64(c.Fuel()) < int64(2*vol+4000) {
		_, err := c.Dock(ctx)
		return err
	}
	return nil
}

// mineChunk walks every cell of a chunk-sized volume at pos in serpentine
// order, digging out anything not already known-transparent.
func mineChunk(ctx context.Context, c *turtle.Commander, pos, chunk world.Cell) error {
	vol := volume(chunk)
	for n := int32(0); n < vol; n++ {
		rel := fill(chunk, n)
		cell := pos.Add(rel)

		if name, known := c.World().Get(cell); known && world.Transparent(name) {
			continue
		}

		if err := c.GotoAdjacent(ctx, cell); err != nil {
			return err
		}
		if err := c.DigAt(ctx, cell); err != nil {
			return err
		}
	}
	return nil
}

// nearValuables scans a volume twice the size of chunk, centered on pos,
// for known non-air blocks whose name matches the valuable list.
func nearValuables(c *turtle.Commander, pos, chunk world.Cell) []world.Cell {
	scanBox := world.Cell{X: chunk.X * 2, Y: chunk.Y * 2, Z: chunk.Z * 2}
	half := world.Cell{X: chunk.X / 2, Y: chunk.Y / 2, Z: chunk.Z / 2}

	var found []world.Cell
	for n := int32(0); n < volume(scanBox); n++ {
		rel := fill(scanBox, n).Sub(half)
		cell := pos.Add(rel)
		name, known := c.World().Get(cell)
		if !known || name == "minecraft:air" {
			continue
		}
		if isValuableName(name) {
			found = append(found, cell)
		}
	}
	return found
}

// observe looks in every direction from pos, walking to an adjacent cell
// if needed to resolve an unknown neighbor.
func observe(ctx context.Context, c *turtle.Commander, pos world.Cell) {
	adjacent := []world.Cell{
		pos,
		pos.Add(world.Up),
		pos.Add(world.Cell{X: 1}),
		pos.Add(world.Cell{Z: 1}),
		pos.Sub(world.Cell{X: 1}),
		pos.Sub(world.Cell{Z: 1}),
		pos.Sub(world.Up),
	}
	for _, cell := range adjacent {
		if _, known := c.World().Get(cell); known {
			continue
		}
		if err := c.GotoAdjacent(ctx, cell); err != nil {
			return
		}
	}
}
