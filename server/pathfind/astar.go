// Package pathfind implements weighted A* routing for robots over the
// world store: a six-neighbor graph where nodes are oriented positions and
// edges are the primitive robot commands (rotate, forward, up, down).
package pathfind

import (
	"container/heap"
	"errors"

	"github.com/Speedy6451/avarus/server/world"
)

// ErrNoRoute is returned when the goal cell is known and not traversable
// or diggable, so no route could possibly reach it.
var ErrNoRoute = errors.New("pathfind: goal not reachable")

// ErrNodeLimit is returned when the search exceeds maxExpansions, or runs
// out of positions to expand, without finding the goal. No partial route
// is returned.
var ErrNodeLimit = errors.New("pathfind: node limit exceeded")

// maxExpansions bounds the worst-case cost of a single route call. It is
// sized generously (order 10^8) so that it practically never triggers on
// realistic worlds, while still bounding a pathological search.
const maxExpansions = 100_000_000

// Route computes a step-minimal path from `from` to the exact position
// `to` over w. It returns ErrNoRoute immediately if the goal cell is known
// and neither traversable nor diggable, and ErrNodeLimit if the search
// exhausts its expansion budget.
func Route(from, to world.Position, w *world.World) ([]world.Position, error) {
	lease := w.Acquire()
	defer lease.Close()

	if name, ok := lease.Get(to.Cell); ok {
		if _, traversable := world.Difficulty(name); !traversable {
			return nil, ErrNoRoute
		}
	}

	goal := func(p world.Position) bool { return p == to }
	h := func(p world.Position) int64 { return p.Cell.Manhattan(to.Cell) }
	return search(from, goal, h, lease)
}

// RouteFacing computes a path from `from` to any position that can
// interact with toCell — i.e. whose front, above, or below cell equals
// toCell. Used before dig/place operations, which only require adjacency.
func RouteFacing(from world.Position, toCell world.Cell, w *world.World) ([]world.Position, error) {
	lease := w.Acquire()
	defer lease.Close()

	if name, ok := lease.Get(toCell); ok {
		if _, traversable := world.Difficulty(name); !traversable {
			return nil, ErrNoRoute
		}
	}

	goal := func(p world.Position) bool {
		return p.Cell.Add(p.Dir.Unit()) == toCell ||
			p.Cell.Add(world.Up) == toCell ||
			p.Cell.Sub(world.Up) == toCell
	}
	h := func(p world.Position) int64 { return p.Cell.Manhattan(toCell) }
	return search(from, goal, h, lease)
}

type pqItem struct {
	pos   world.Position
	f     int64
	index int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].f < pq[j].f }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// search runs weighted A* from `from` until goal is satisfied or the node
// budget is exhausted.
func search(from world.Position, goal func(world.Position) bool, h func(world.Position) int64, lease *world.Lease) ([]world.Position, error) {
	gScore := map[world.Position]int64{from: 0}
	cameFrom := map[world.Position]world.Position{}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{pos: from, f: h(from)})

	visited := map[world.Position]bool{}

	expansions := 0
	for pq.Len() > 0 {
		expansions++
		if expansions > maxExpansions {
			return nil, ErrNodeLimit
		}

		cur := heap.Pop(pq).(*pqItem).pos
		if visited[cur] {
			continue
		}
		visited[cur] = true

		if goal(cur) {
			return reconstruct(cameFrom, cur), nil
		}

		for _, n := range neighbors(cur, lease) {
			tentative := gScore[cur] + n.cost
			if g, ok := gScore[n.pos]; ok && g <= tentative {
				continue
			}
			gScore[n.pos] = tentative
			cameFrom[n.pos] = cur
			heap.Push(pq, &pqItem{pos: n.pos, f: tentative + h(n.pos)})
		}
	}

	return nil, ErrNodeLimit
}

func reconstruct(cameFrom map[world.Position]world.Position, goal world.Position) []world.Position {
	route := []world.Position{goal}
	for {
		prev, ok := cameFrom[route[0]]
		if !ok {
			break
		}
		route = append([]world.Position{prev}, route...)
	}
	return route
}

type edge struct {
	pos  world.Position
	cost int64
}

// neighbors generates the edges out of p: two in-place rotations (cost 1)
// plus forward/up/down moves, each costed by the destination cell's
// difficulty. Backward is intentionally never emitted — it's only ever
// observed as a side effect of a failed forward step, never planned.
func neighbors(p world.Position, lease *world.Lease) []edge {
	out := make([]edge, 0, 4)
	out = append(out, edge{world.Position{Cell: p.Cell, Dir: p.Dir.Left()}, 1})
	out = append(out, edge{world.Position{Cell: p.Cell, Dir: p.Dir.Right()}, 1})

	tryMove := func(cell world.Cell) {
		cost, ok := costOf(cell, lease)
		if !ok {
			return
		}
		out = append(out, edge{world.Position{Cell: cell, Dir: p.Dir}, int64(cost)})
	}

	tryMove(p.Cell.Add(p.Dir.Unit()))
	tryMove(p.Cell.Add(world.Up))
	tryMove(p.Cell.Sub(world.Up))

	return out
}

// costOf returns the move-in cost of cell and whether it's traversable at
// all (known hard blocks return ok=false). Unknown cells are optimistically
// costed, letting the pathfinder route through unexplored territory; a
// hard block discovered later triggers a replan at execution time.
func costOf(cell world.Cell, lease *world.Lease) (int, bool) {
	name, known := lease.Get(cell)
	if !known {
		return world.CostUnknown, true
	}
	return world.Difficulty(name)
}
