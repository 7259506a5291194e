package task

import (
	"testing"
	"time"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

func TestBuildSchematicPollCompleteWithNilRegion(t *testing.T) {
	b := &BuildSchematic{Height: 3}
	if res := b.Poll(); res.State != Complete {
		t.Fatalf("expected Complete for a region-less (crash-recovered) task, got %v", res.State)
	}
}

func TestBuildSchematicPollCompletesAfterLastLayer(t *testing.T) {
	region := world.New()
	b := NewBuildSchematic(world.Cell{}, world.Cell{X: 1, Y: 2, Z: 1}, region, world.Position{})
	b.progress.Store(2)
	if res := b.Poll(); res.State != Complete {
		t.Fatalf("expected Complete once progress reaches Height, got %v", res.State)
	}
}

func TestBuildSchematicPollGatesOnSingleMiner(t *testing.T) {
	region := world.New()
	b := NewBuildSchematic(world.Cell{}, world.Cell{X: 1, Y: 2, Z: 1}, region, world.Position{})
	if res := b.Poll(); res.State != Ready {
		t.Fatalf("expected Ready, got %v", res.State)
	}
	if res := b.Poll(); res.State != Waiting {
		t.Fatalf("expected a second Poll to be Waiting while a miner is claimed, got %v", res.State)
	}
}

func TestBuildSchematicRunPlacesKnownBlocks(t *testing.T) {
	c, robot, w := newTaskHarness(t, 100000)
	for x := int32(-2); x < 4; x++ {
		for y := int32(-2); y < 4; y++ {
			for z := int32(-2); z < 4; z++ {
				w.Set(world.Cell{X: x, Y: y, Z: z}, "minecraft:air")
			}
		}
	}
	robot.inventory[1] = turtle.InventorySlot{Name: "minecraft:stone", Count: 64}

	region := world.New()
	region.Set(world.Cell{X: 0, Y: 0, Z: 0}, "minecraft:stone")

	b := NewBuildSchematic(world.Cell{X: 1, Y: 0, Z: 1}, world.Cell{X: 1, Y: 1, Z: 1}, region, world.Position{})
	handle := b.Run(c)

	select {
	case <-handle.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("schematic layer run never finished")
	}

	if b.progress.Load() != 1 {
		t.Fatalf("expected progress to advance to layer 1, got %d", b.progress.Load())
	}
}
