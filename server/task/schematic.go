package task

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

func init() {
	// Region is never persisted, so a task reloaded from disk always has
	// Region == nil and Poll immediately reports Complete, matching the
	// "restart unsupported" decision documented on BuildSchematic below.
	RegisterTask("buildSchematic", func() Task { return &BuildSchematic{} })
}

// BuildSchematic prints a decoded schematic into the world one
// bottom-to-top layer at a time, placing from an input depot assumed to
// hold an infinite supply of whatever blocks the schematic calls for.
// Region holds the schematic's blocks at schematic-relative coordinates;
// decoding an actual schematic file format is out of scope, so callers
// populate Region themselves (e.g. from a test fixture or a future
// format-specific loader) before handing the task to the scheduler.
//
// Restarting a BuildSchematic after a crash isn't supported: Region is
// never persisted, so a reloaded task always reports Complete rather than
// resuming mid-print.
type BuildSchematic struct {
	Pos    world.Cell
	Size   world.Cell
	Region *world.World `toml:"-"`
	Input  world.Position
	Height int32

	miners   atomic.Int32
	progress atomic.Int32
}

// Tag identifies BuildSchematic to the persistence layer.
func (b *BuildSchematic) Tag() string { return "buildSchematic" }

// NewBuildSchematic builds a BuildSchematic placing region (with size
// matching region's extent) at pos, pulling materials from input.
func NewBuildSchematic(pos world.Cell, size world.Cell, region *world.World, input world.Position) *BuildSchematic {
	return &BuildSchematic{Pos: pos, Size: size, Region: region, Input: input, Height: size.Y}
}

func (b *BuildSchematic) Poll() PollResult {
	if b.Region == nil {
		slog.Default().Error("attempted to restart schematic printing, which is unsupported")
		return PollResult{State: Complete}
	}

	layer := b.progress.Load()
	if layer >= b.Height {
		return PollResult{State: Complete}
	}

	for {
		n := b.miners.Load()
		if n >= 1 {
			return PollResult{State: Waiting}
		}
		if b.miners.CompareAndSwap(n, n+1) {
			break
		}
	}

	return PollResult{State: Ready, Hint: world.Position{Cell: b.Pos, Dir: world.North}}
}

func (b *BuildSchematic) Run(c *turtle.Commander) *Handle {
	return spawn(context.Background(), func(ctx context.Context) {
		defer b.miners.Add(-1)

		if c.Fuel() < 5000 {
			c.Dock(ctx)
		}

		layer := b.progress.Add(1) - 1
		if layer >= b.Height {
			slog.Default().Error("schematic scheduled a layer out of range")
			return
		}

		if err := b.buildLayer(ctx, c, layer); err != nil {
			slog.Default().Error("schematic layer failed", "layer", layer, "error", err)
			b.progress.Add(-1)
		}
	})
}

// buildLayer places every non-empty block the schematic defines at
// height layer, skipping cells already occupied in the live world.
func (b *BuildSchematic) buildLayer(ctx context.Context, c *turtle.Commander, layer int32) error {
	layerSize := world.Cell{X: b.Size.X, Y: 1, Z: b.Size.Z}

	for n := int32(0); n < volume(layerSize); n++ {
		point := fill(layerSize, n)
		point.Y += layer

		if _, known := b.Region.Get(point); !known {
			continue
		}

		abs := point.Add(b.Pos)
		if c.World().Occupied(abs) {
			continue
		}

		if err := b.placeBlock(ctx, c, abs); err != nil {
			return err
		}
	}
	return nil
}

// placeBlock walks to abs and places whatever it can, refilling from
// Input whenever the inventory runs dry or every slot fails to place.
func (b *BuildSchematic) placeBlock(ctx context.Context, c *turtle.Commander, abs world.Cell) error {
	if err := c.GotoAdjacent(ctx, abs); err != nil {
		return err
	}

	failed := map[uint32]bool{}
	for {
		slot, ok, err := firstNonEmptySlot(ctx, c, failed)
		if err != nil {
			return err
		}
		if !ok {
			if err := c.Goto(ctx, b.Input); err != nil {
				return err
			}
			for i := 0; i < 16; i++ {
				if _, err := c.Execute(ctx, turtle.Command{Kind: turtle.SuckFront, N: 64}); err != nil {
					return err
				}
			}
			if err := c.GotoAdjacent(ctx, abs); err != nil {
				return err
			}
			failed = map[uint32]bool{}
			continue
		}

		reply, err := c.PlaceAt(ctx, abs, slot)
		if err != nil {
			return err
		}
		if reply.Result.Kind != turtle.RespFailure {
			return nil
		}
		failed[slot] = true
	}
}

// firstNonEmptySlot returns the 1-based slot number of the first
// occupied inventory slot not marked in skip.
func firstNonEmptySlot(ctx context.Context, c *turtle.Commander, skip map[uint32]bool) (uint32, bool, error) {
	slots, err := c.Inventory(ctx)
	if err != nil {
		return 0, false, err
	}
	for i, slot := range slots {
		if slot.Count > 0 && !skip[uint32(i+1)] {
			return uint32(i + 1), true, nil
		}
	}
	return 0, false, nil
}
