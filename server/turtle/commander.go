package turtle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Speedy6451/avarus/server/depot"
	"github.com/Speedy6451/avarus/server/pathfind"
	"github.com/Speedy6451/avarus/server/world"
)

// maxReplans bounds how many times Goto will replan around a hard block
// before giving up, preventing a permanently boxed-in robot from looping
// forever.
const maxReplans = 42

// refuelMargin is how much headroom Dock leaves below a robot's fuel
// limit before it considers refueling complete.
const refuelMargin = 1000

// refuelPartialThreshold is the fuel level a partial refuel must clear
// before Dock accepts it as good enough and moves on.
const refuelPartialThreshold = 1500

// ErrGiveUp is returned by Goto/GotoAdjacent when replanning is exhausted.
var ErrGiveUp = errors.New("turtle: exceeded replan attempts")

// RebirthHandler is the slice of Scheduler a Commander needs to carry out
// Devore: cancelling whatever job a just-captured robot was mid-way
// through, and handing its freshly rebooted replacement a fresh job. A
// concrete *task.Scheduler satisfies this without turtle importing task.
type RebirthHandler interface {
	Cancel(name string)
	DoOn(name string, fn func(ctx context.Context, c *Commander)) bool
}

// Commander is the high-level API tasks drive a robot through. It owns the
// robot's Session plus references to the shared services a robot's
// behavior depends on.
type Commander struct {
	name    string
	session *Session
	world   *world.World
	depots  *depot.Registry
	fuelCap uint32
	rebirth RebirthHandler

	mu        sync.Mutex
	inventory []InventorySlot // cached; nil means "unknown, must probe"
}

// NewCommander builds a Commander over an existing Session.
func NewCommander(name string, s *Session, w *world.World, depots *depot.Registry, fuelCap uint32) *Commander {
	return &Commander{name: name, session: s, world: w, depots: depots, fuelCap: fuelCap}
}

// Name returns the robot's scheduler identity.
func (c *Commander) Name() string { return c.name }

// Position returns the robot's last known pose.
func (c *Commander) Position() world.Position { return c.session.Position() }

// Fuel returns the robot's last known fuel level.
func (c *Commander) Fuel() uint32 { return c.session.Fuel() }

// FuelCap returns the fuel level Dock refuels this robot up to.
func (c *Commander) FuelCap() uint32 { return c.fuelCap }

// World returns the shared block store backing this robot's observations,
// for tasks that need to read block names directly rather than through
// pathfinding.
func (c *Commander) World() *world.World { return c.world }

// SetRebirthHandler wires the scheduler callback Devore uses to hand off
// a just-rebooted captured robot. Left unset, Devore is a no-op.
func (c *Commander) SetRebirthHandler(h RebirthHandler) { c.rebirth = h }

// Execute enqueues one command and awaits the matching reply. Every
// command except a pure rotation invalidates the cached inventory, since
// digs, places, drops, and sucks can all change it.
func (c *Commander) Execute(ctx context.Context, cmd Command) (Reply, error) {
	reply, err := c.session.issue(ctx, cmd)
	if err != nil {
		return Reply{}, err
	}
	if cmd.Kind != Left && cmd.Kind != Right {
		c.mu.Lock()
		c.inventory = nil
		c.mu.Unlock()
	}
	return reply, nil
}

// digKindFor returns the Dig* command appropriate for stepping toward to
// from the robot's current position.
func digKindFor(from world.Position, to world.Cell) (CommandKind, bool) {
	kind, ok := from.DigKind(to)
	if !ok {
		return 0, false
	}
	switch kind {
	case world.DiffForward:
		return Dig, true
	case world.DiffUp:
		return DigUp, true
	case world.DiffDown:
		return DigDown, true
	}
	return 0, false
}

// placeKindFor returns the Place* command appropriate for placing a block
// at to from the robot's current position.
func placeKindFor(from world.Position, to world.Cell) (CommandKind, bool) {
	kind, ok := from.DigKind(to)
	if !ok {
		return 0, false
	}
	switch kind {
	case world.DiffForward:
		return Place, true
	case world.DiffUp:
		return PlaceUp, true
	case world.DiffDown:
		return PlaceDown, true
	}
	return 0, false
}

// stepCommandFor maps the pathfinder's CommandKind for a single hop to the
// turtle command that performs it.
func stepCommandFor(kind world.CommandKind) (Command, bool) {
	switch kind {
	case world.DiffLeft:
		return Command{Kind: Left}, true
	case world.DiffRight:
		return Command{Kind: Right}, true
	case world.DiffForward:
		return Command{Kind: Forward, N: 1}, true
	case world.DiffBackward:
		return Command{Kind: Backward, N: 1}, true
	case world.DiffUp:
		return Command{Kind: Up, N: 1}, true
	case world.DiffDown:
		return Command{Kind: Down, N: 1}, true
	}
	return Command{}, false
}

// Goto walks the robot to target, replanning around newly discovered hard
// blocks. It gives up after maxReplans attempts.
func (c *Commander) Goto(ctx context.Context, target world.Position) error {
	return c.walk(ctx, func(from world.Position) ([]world.Position, error) {
		return pathfind.Route(from, target, c.world)
	}, func(p world.Position) bool { return p == target })
}

// GotoAdjacent walks the robot to any position that can interact with
// cell: its front, above, or below matches cell.
func (c *Commander) GotoAdjacent(ctx context.Context, cell world.Cell) error {
	return c.walk(ctx, func(from world.Position) ([]world.Position, error) {
		return pathfind.RouteFacing(from, cell, c.world)
	}, func(p world.Position) bool {
		return p.Cell.Add(p.Dir.Unit()) == cell ||
			p.Cell.Add(world.Up) == cell ||
			p.Cell.Sub(world.Up) == cell
	})
}

// walk drives the shared replan-and-step loop used by Goto/GotoAdjacent.
func (c *Commander) walk(ctx context.Context, plan func(world.Position) ([]world.Position, error), reached func(world.Position) bool) error {
	for attempt := 0; attempt < maxReplans; attempt++ {
		if reached(c.Position()) {
			return nil
		}
		route, err := plan(c.Position())
		if err != nil {
			return fmt.Errorf("turtle: planning route: %w", err)
		}
		if len(route) < 2 {
			return nil
		}

		blocked, err := c.followRoute(ctx, route)
		if err != nil {
			return err
		}
		if !blocked {
			return nil
		}
		// A hard block forced a break out of the route; loop to replan.
	}
	return ErrGiveUp
}

// followRoute steps the robot along route one hop at a time, digging
// through mineable blocks and breaking out (to trigger a replan) on a hard
// block. It returns blocked=true if it broke out early.
func (c *Commander) followRoute(ctx context.Context, route []world.Position) (blocked bool, err error) {
	for i := 1; i < len(route); i++ {
		from, to := route[i-1], route[i]
		kind, ok := from.Difference(to)
		if !ok {
			return true, nil
		}

		name, known := c.world.Get(to.Cell)
		if known && !world.Transparent(name) {
			if !world.Garbage(name) {
				return true, nil
			}
			digKind, ok := digKindFor(from, to.Cell)
			if ok {
				if _, err := c.Execute(ctx, Command{Kind: digKind}); err != nil {
					return false, err
				}
			}
		}

		cmd, ok := stepCommandFor(kind)
		if !ok {
			return true, nil
		}
		reply, err := c.Execute(ctx, cmd)
		if err != nil {
			return false, err
		}
		if reply.Result.Kind == RespFailure {
			if kind == world.DiffBackward {
				// Recover the odometry assumption: the robot didn't move,
				// so face it around and treat the rest as a fresh replan.
				if _, err := c.Execute(ctx, Command{Kind: Left}); err != nil {
					return false, err
				}
				if _, err := c.Execute(ctx, Command{Kind: Left}); err != nil {
					return false, err
				}
			}
			return true, nil
		}
	}
	return false, nil
}

// Dock borrows the nearest free depot, routes to it, runs the dump+refuel
// protocol, then steps back and drops anything that landed in the
// process. Returns the robot's fuel level after refueling.
func (c *Commander) Dock(ctx context.Context) (uint32, error) {
	lease, err := c.depots.Nearest(ctx, c.Position())
	if err != nil {
		return 0, fmt.Errorf("turtle: acquiring depot: %w", err)
	}
	defer lease.Release()

	if err := c.Goto(ctx, lease.Position()); err != nil {
		return 0, fmt.Errorf("turtle: routing to depot: %w", err)
	}

	if err := c.Dump(ctx); err != nil {
		return 0, err
	}
	if err := c.refuel(ctx); err != nil {
		return 0, err
	}

	// Best-effort: failing to back away from the depot isn't fatal.
	c.Execute(ctx, Command{Kind: Backward, N: 4})

	// Lava bucket fix: drop anything that got sucked up by accident.
	if err := c.Dump(ctx); err != nil {
		return 0, err
	}

	return c.Fuel(), nil
}

// refuel implements the dock fuel-up loop: select slot 1, suck combustion
// fuel from the depot's front chest, refuel, drop the spent container,
// repeat until within refuelMargin of the fuel cap or a partial refuel
// clears refuelPartialThreshold.
func (c *Commander) refuel(ctx context.Context) error {
	if _, err := c.Execute(ctx, Command{Kind: Select, N: 1}); err != nil {
		return err
	}
	for c.Fuel()+refuelMargin < c.fuelCap {
		if _, err := c.Execute(ctx, Command{Kind: SuckFront, N: 64}); err != nil {
			return err
		}
		reply, err := c.Execute(ctx, Command{Kind: Refuel})
		if err != nil {
			return err
		}
		if _, err := c.Execute(ctx, Command{Kind: DropDown, N: 64}); err != nil {
			return err
		}
		if reply.Result.Kind == RespFailure {
			if c.Fuel() > refuelPartialThreshold {
				break
			}
			if _, err := c.Execute(ctx, Command{Kind: Wait, N: 15}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Inventory returns the cached 16-slot snapshot if present, otherwise
// probes every slot with ItemInfo and caches the result.
func (c *Commander) Inventory(ctx context.Context) ([]InventorySlot, error) {
	c.mu.Lock()
	if c.inventory != nil {
		cached := c.inventory
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	slots := make([]InventorySlot, 16)
	for i := range slots {
		reply, err := c.Execute(ctx, Command{Kind: ItemInfo, N: uint32(i + 1)})
		if err != nil {
			return nil, err
		}
		if reply.Result.Kind == RespItem {
			slots[i] = reply.Result.Item
		}
	}

	c.mu.Lock()
	c.inventory = slots
	c.mu.Unlock()
	return slots, nil
}

// PlaceAt places whatever is in slot into cell, assuming the robot is
// already adjacent to it (front, above, or below).
func (c *Commander) PlaceAt(ctx context.Context, cell world.Cell, slot uint32) (Reply, error) {
	kind, ok := placeKindFor(c.Position(), cell)
	if !ok {
		return Reply{}, fmt.Errorf("turtle: not adjacent to %v", cell)
	}
	if _, err := c.Execute(ctx, Command{Kind: Select, N: slot}); err != nil {
		return Reply{}, err
	}
	return c.Execute(ctx, Command{Kind: kind})
}

// DigAt digs whichever direction the robot is actually facing cell from,
// assuming it's already adjacent (front, above, or below).
func (c *Commander) DigAt(ctx context.Context, cell world.Cell) error {
	kind, ok := digKindFor(c.Position(), cell)
	if !ok {
		return fmt.Errorf("turtle: not adjacent to %v", cell)
	}
	_, err := c.Execute(ctx, Command{Kind: kind})
	return err
}

// Dump drops every non-empty inventory slot to the ground below.
func (c *Commander) Dump(ctx context.Context) error {
	_, err := c.DumpFiltered(ctx, func(InventorySlot) bool { return true })
	return err
}

// DumpFiltered drops every inventory slot matching keep to the ground
// below, leaving the rest untouched. It returns the number of occupied
// slots left behind (not matching keep), so callers can decide whether
// the remaining cargo is worth a trip to a depot.
func (c *Commander) DumpFiltered(ctx context.Context, keep func(InventorySlot) bool) (int, error) {
	slots, err := c.Inventory(ctx)
	if err != nil {
		return 0, err
	}
	left := 0
	for i, slot := range slots {
		if slot.Name == "" {
			continue
		}
		if !keep(slot) {
			left++
			continue
		}
		if _, err := c.Execute(ctx, Command{Kind: Select, N: uint32(i + 1)}); err != nil {
			return left, err
		}
		if _, err := c.Execute(ctx, Command{Kind: DropDown, N: 64}); err != nil {
			return left, err
		}
	}
	return left, nil
}

// Devore checks the inventory for captured robots (an item whose name
// contains "turtle") and, for each one found, walks to the staging spot
// just outside the nearest depot, places it down, cancels whatever job
// its former self was running, and hands its rebooted replacement a
// fresh dock-and-return job.
func (c *Commander) Devore(ctx context.Context) error {
	slots, err := c.Inventory(ctx)
	if err != nil {
		return err
	}

	for i, slot := range slots {
		if !strings.Contains(slot.Name, "turtle") {
			continue
		}
		slotNum := uint32(i + 1)

		lease, err := c.depots.Nearest(ctx, c.Position())
		if err != nil {
			return fmt.Errorf("turtle: devore: acquiring depot: %w", err)
		}
		depotPos := lease.Position()
		staging := world.Position{Cell: depotPos.Cell.Sub(depotPos.Dir.Unit()), Dir: depotPos.Dir}
		lease.Release()

		if err := c.Goto(ctx, staging); err != nil {
			return fmt.Errorf("turtle: devore: routing to staging: %w", err)
		}
		if _, err := c.Execute(ctx, Command{Kind: Select, N: slotNum}); err != nil {
			return err
		}
		if _, err := c.Execute(ctx, Command{Kind: Place}); err != nil {
			return err
		}

		name, err := c.identifyFront(ctx)
		if err != nil {
			return err
		}

		if c.rebirth != nil {
			c.rebirth.Cancel(name)
			rebirthPos := world.Position{Cell: staging.Cell.Sub(staging.Dir.Unit()), Dir: staging.Dir}
			c.rebirth.DoOn(name, func(ctx context.Context, child *Commander) {
				child.Dump(ctx)
				child.refuel(ctx)
				child.Goto(ctx, rebirthPos)
			})
		}

		if _, err := c.Execute(ctx, Command{Kind: CycleFront}); err != nil {
			return err
		}

		for {
			reply, err := c.Execute(ctx, Command{Kind: Wait, N: 3})
			if err != nil {
				return err
			}
			if !strings.Contains(reply.Ahead, "turtle") {
				break
			}
			if _, err := c.Execute(ctx, Command{Kind: CycleFront}); err != nil {
				return err
			}
		}
	}
	return nil
}

// identifyFront issues NameFront and returns the reported name.
func (c *Commander) identifyFront(ctx context.Context) (string, error) {
	reply, err := c.Execute(ctx, Command{Kind: NameFront})
	if err != nil {
		return "", err
	}
	if reply.Result.Kind != RespName {
		return "", fmt.Errorf("turtle: devore: nameFront returned %v, not a name", reply.Result.Kind)
	}
	return reply.Result.Name, nil
}
