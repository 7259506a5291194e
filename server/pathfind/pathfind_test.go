package pathfind

import (
	"testing"

	"github.com/Speedy6451/avarus/server/world"
)

func TestRouteThroughUnknownCells(t *testing.T) {
	w := world.New()
	// A straight 6-node corridor north from origin, never observed: the
	// pathfinder must still route through it at the optimistic unknown cost.
	from := world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}
	to := world.Position{Cell: world.Cell{0, 0, -5}, Dir: world.North}

	route, err := Route(from, to, w)
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if len(route) == 0 || route[len(route)-1] != to {
		t.Fatalf("route does not end at goal: %v", route)
	}
	if route[0] != from {
		t.Fatalf("route does not start at origin: %v", route)
	}

	var steps int64
	for i := 1; i < len(route); i++ {
		if _, ok := route[i-1].Difference(route[i]); !ok {
			t.Fatalf("non-adjacent consecutive positions %v -> %v", route[i-1], route[i])
		}
		steps++
	}
	if steps != 5 {
		t.Fatalf("expected 5 forward steps through unknown corridor, got %d", steps)
	}
}

func TestRouteDetoursAroundHardBlock(t *testing.T) {
	w := world.New()
	for z := int32(0); z >= -5; z-- {
		w.Set(world.Cell{0, 0, z}, "minecraft:air")
	}
	// A hard (unbreakable) block directly in the corridor.
	w.Set(world.Cell{0, 0, -2}, "minecraft:obsidian")
	// An open detour one cell east.
	for z := int32(0); z >= -5; z-- {
		w.Set(world.Cell{1, 0, z}, "minecraft:air")
	}

	from := world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}
	to := world.Position{Cell: world.Cell{0, 0, -5}, Dir: world.North}

	route, err := Route(from, to, w)
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	for _, p := range route {
		if p.Cell == (world.Cell{0, 0, -2}) {
			t.Fatalf("route stepped through hard block: %v", route)
		}
	}
}

func TestRouteGoalKnownHardFailsImmediately(t *testing.T) {
	w := world.New()
	w.Set(world.Cell{0, 0, -1}, "minecraft:obsidian")

	from := world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}
	to := world.Position{Cell: world.Cell{0, 0, -1}, Dir: world.North}

	_, err := Route(from, to, w)
	if err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRouteNeverPlansBackward(t *testing.T) {
	w := world.New()
	from := world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}
	to := world.Position{Cell: world.Cell{0, 0, 1}, Dir: world.South}

	route, err := Route(from, to, w)
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	for i := 1; i < len(route); i++ {
		kind, ok := route[i-1].Difference(route[i])
		if !ok {
			t.Fatalf("non-adjacent step %v -> %v", route[i-1], route[i])
		}
		if kind == world.DiffBackward {
			t.Fatalf("route planned a backward step: %v", route)
		}
	}
}

func TestRouteFacingReachesAdjacency(t *testing.T) {
	w := world.New()
	for z := int32(0); z >= -3; z-- {
		w.Set(world.Cell{0, 0, z}, "minecraft:air")
	}
	ore := world.Cell{0, 0, -4}
	w.Set(ore, "minecraft:iron_ore")

	from := world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}
	route, err := RouteFacing(from, ore, w)
	if err != nil {
		t.Fatalf("RouteFacing returned error: %v", err)
	}
	last := route[len(route)-1]
	facing := last.Cell.Add(last.Dir.Unit())
	above := last.Cell.Add(world.Up)
	below := last.Cell.Sub(world.Up)
	if facing != ore && above != ore && below != ore {
		t.Fatalf("final position %v not adjacent to target cell %v", last, ore)
	}
}

func TestHeuristicNeverOverestimates(t *testing.T) {
	w := world.New()
	from := world.Position{Cell: world.Cell{0, 0, 0}, Dir: world.North}
	to := world.Position{Cell: world.Cell{3, 0, -4}, Dir: world.North}

	route, err := Route(from, to, w)
	if err != nil {
		t.Fatalf("Route returned error: %v", err)
	}
	if int64(len(route)-1) < from.Cell.Manhattan(to.Cell) {
		t.Fatalf("route shorter than the Manhattan lower bound: %d steps for distance %d", len(route)-1, from.Cell.Manhattan(to.Cell))
	}
}
