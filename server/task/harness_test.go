package task

import (
	"context"
	"testing"
	"time"

	"github.com/Speedy6451/avarus/server/depot"
	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

// testCtx returns a context with a generous timeout, cancelled on test
// cleanup, for tests that drive a Commander directly rather than through
// a Task's Run.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// fakeRobot simulates a robot's firmware polling loop against a live
// turtle.Session, the same way turtle's own internal tests do. It lets
// task-level tests drive a real Commander without a network in the loop.
type fakeRobot struct {
	s         *turtle.Session
	fuel      uint32
	inventory map[uint32]turtle.InventorySlot
	stop      chan struct{}

	surroundings string
}

func newFakeRobot(s *turtle.Session, fuel uint32) *fakeRobot {
	return &fakeRobot{
		s:            s,
		fuel:         fuel,
		inventory:    map[uint32]turtle.InventorySlot{},
		stop:         make(chan struct{}),
		surroundings: "minecraft:air",
	}
}

func (r *fakeRobot) run() {
	var lastResult turtle.Response
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		cmd := r.s.HandleUpdate(turtle.Update{
			Fuel:   r.fuel,
			Ahead:  r.surroundings,
			Above:  r.surroundings,
			Below:  r.surroundings,
			Result: lastResult,
		})
		lastResult = turtle.Response{Kind: turtle.RespSuccess}
		switch cmd.Kind {
		case turtle.Forward, turtle.Backward, turtle.Up, turtle.Down:
			if r.fuel > 0 {
				r.fuel--
			}
		case turtle.ItemInfo:
			if slot, ok := r.inventory[cmd.N]; ok {
				lastResult = turtle.Response{Kind: turtle.RespItem, Item: slot}
			} else {
				lastResult = turtle.Response{Kind: turtle.RespNone}
			}
		}
	}
}

func (r *fakeRobot) Stop() { close(r.stop) }

func newTaskHarness(t *testing.T, fuelCap uint32) (*turtle.Commander, *fakeRobot, *world.World) {
	t.Helper()
	w := world.New()
	s := turtle.NewSession(w, world.Position{Cell: world.Cell{}, Dir: world.North}, fuelCap)
	reg := depot.New(nil)
	c := turtle.NewCommander("test-turtle", s, w, reg, fuelCap)
	robot := newFakeRobot(s, fuelCap)
	go robot.run()
	t.Cleanup(robot.Stop)
	return c, robot, w
}
