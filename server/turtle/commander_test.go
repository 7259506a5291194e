package turtle

import (
	"context"
	"testing"
	"time"

	"github.com/Speedy6451/avarus/server/depot"
	"github.com/Speedy6451/avarus/server/world"
)

// fakeRobot simulates the off-host firmware loop against a live Session:
// it keeps polling HandleUpdate, tracks its own fuel/position, and
// synthesizes a plausible Result for whatever Command comes back. This
// lets Commander-level tests exercise the real session protocol instead
// of stubbing Execute.
type fakeRobot struct {
	s         *Session
	fuel      uint32
	inventory map[uint32]InventorySlot
	stop      chan struct{}

	// surroundings is reported on every update so that HandleUpdate's
	// unconditional block-observation writes don't clobber cells the test
	// set up deliberately; every test here only cares about open air.
	surroundings string

	// name is what NameFront reports, for devore tests.
	name string
}

func newFakeRobot(s *Session, fuel uint32) *fakeRobot {
	return &fakeRobot{
		s:            s,
		fuel:         fuel,
		inventory:    map[uint32]InventorySlot{},
		stop:         make(chan struct{}),
		surroundings: "minecraft:air",
		name:         "turtle.unnamed",
	}
}

func (r *fakeRobot) run() {
	var lastResult Response
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		cmd := r.s.HandleUpdate(Update{
			Fuel:   r.fuel,
			Ahead:  r.surroundings,
			Above:  r.surroundings,
			Below:  r.surroundings,
			Result: lastResult,
		})
		lastResult = Response{Kind: RespSuccess}
		switch cmd.Kind {
		case Forward, Backward, Up, Down:
			if r.fuel > 0 {
				r.fuel--
			}
		case ItemInfo:
			if slot, ok := r.inventory[cmd.N]; ok {
				lastResult = Response{Kind: RespItem, Item: slot}
			} else {
				lastResult = Response{Kind: RespNone}
			}
		case NameFront:
			lastResult = Response{Kind: RespName, Name: r.name}
		case Select, DropDown, SuckFront, Refuel, Wait, Left, Right, ReloadCode, Place, CycleFront:
			// Success is the default; nothing further to simulate.
		}
	}
}

func (r *fakeRobot) Stop() { close(r.stop) }

func newCommanderHarness(t *testing.T, fuelCap uint32) (*Commander, *fakeRobot, *world.World) {
	t.Helper()
	w := world.New()
	s := NewSession(w, world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}, fuelCap)
	reg := depot.New(nil)
	c := NewCommander("test-turtle", s, w, reg, fuelCap)
	robot := newFakeRobot(s, fuelCap)
	go robot.run()
	t.Cleanup(robot.Stop)
	return c, robot, w
}

func TestCommanderInventoryProbesAndCaches(t *testing.T) {
	c, robot, _ := newCommanderHarness(t, 1000)
	robot.inventory[3] = InventorySlot{Name: "minecraft:coal", Count: 12}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	slots, err := c.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if slots[2].Name != "minecraft:coal" || slots[2].Count != 12 {
		t.Fatalf("expected slot 3 to hold coal, got %+v", slots[2])
	}

	// Mutate what the robot would report; the cached result must not change.
	robot.inventory[3] = InventorySlot{Name: "minecraft:diamond", Count: 1}
	cached, err := c.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory (cached): %v", err)
	}
	if cached[2].Name != "minecraft:coal" {
		t.Fatalf("expected cached inventory to be reused, got %+v", cached[2])
	}
}

func TestCommanderExecuteInvalidatesInventoryCache(t *testing.T) {
	c, robot, _ := newCommanderHarness(t, 1000)
	robot.inventory[1] = InventorySlot{Name: "minecraft:stone", Count: 64}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.Inventory(ctx); err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if _, err := c.Execute(ctx, Command{Kind: Dig}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	robot.inventory[1] = InventorySlot{Name: "minecraft:dirt", Count: 1}
	slots, err := c.Inventory(ctx)
	if err != nil {
		t.Fatalf("Inventory (post-invalidate): %v", err)
	}
	if slots[0].Name != "minecraft:dirt" {
		t.Fatalf("expected inventory to be re-probed after Dig, got %+v", slots[0])
	}
}

func TestCommanderGotoSingleStep(t *testing.T) {
	c, _, w := newCommanderHarness(t, 1000)
	w.Set(world.Cell{0, 0, -1}, "minecraft:air")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target := world.Position{Cell: world.Cell{0, 0, -1}, Dir: world.North}
	if err := c.Goto(ctx, target); err != nil {
		t.Fatalf("Goto: %v", err)
	}
	if c.Position() != target {
		t.Fatalf("expected robot at %v, got %v", target, c.Position())
	}
}

func TestCommanderDumpSkipsEmptySlots(t *testing.T) {
	c, robot, _ := newCommanderHarness(t, 1000)
	robot.inventory[5] = InventorySlot{Name: "minecraft:cobblestone", Count: 64}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.Dump(ctx); err != nil {
		t.Fatalf("Dump: %v", err)
	}
}
