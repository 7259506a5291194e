// Package httpapi exposes the control plane's robot poll protocol and
// operator surface over HTTP, per spec.md section 6. Route handlers are
// grouped one file per surface: turtle.go (robot poll protocol),
// operator.go (fleet management), lifecycle.go (persistence/shutdown).
package httpapi

import (
	"fmt"

	"github.com/Speedy6451/avarus/server/turtle"
	"github.com/Speedy6451/avarus/server/world"
)

// cellJSON is the wire shape of a world.Cell.
type cellJSON struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func (c cellJSON) toCell() world.Cell {
	return world.Cell{X: c.X, Y: c.Y, Z: c.Z}
}

func cellToJSON(c world.Cell) cellJSON {
	return cellJSON{X: c.X, Y: c.Y, Z: c.Z}
}

var directionNames = map[world.Direction]string{
	world.North: "north",
	world.South: "south",
	world.East:  "east",
	world.West:  "west",
}

var directionValues = map[string]world.Direction{
	"north": world.North,
	"south": world.South,
	"east":  world.East,
	"west":  world.West,
}

func directionToString(d world.Direction) string {
	if s, ok := directionNames[d]; ok {
		return s
	}
	return "north"
}

func directionFromString(s string) (world.Direction, error) {
	d, ok := directionValues[s]
	if !ok {
		return 0, fmt.Errorf("httpapi: unknown facing %q", s)
	}
	return d, nil
}

// positionJSON is the wire shape of a world.Position.
type positionJSON struct {
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	Z      int32  `json:"z"`
	Facing string `json:"facing"`
}

func (p positionJSON) toPosition() (world.Position, error) {
	dir, err := directionFromString(p.Facing)
	if err != nil {
		return world.Position{}, err
	}
	return world.Position{Cell: world.Cell{X: p.X, Y: p.Y, Z: p.Z}, Dir: dir}, nil
}

func positionToJSON(p world.Position) positionJSON {
	return positionJSON{X: p.Cell.X, Y: p.Cell.Y, Z: p.Cell.Z, Facing: directionToString(p.Dir)}
}

// itemJSON is the wire shape of one inventory slot.
type itemJSON struct {
	Name  string `json:"name"`
	Count uint32 `json:"count"`
}

func itemToJSON(s turtle.InventorySlot) itemJSON {
	return itemJSON{Name: s.Name, Count: s.Count}
}

// commandJSON is the tagged-union wire shape of a Command sent to a
// robot: {"kind":"forward"} or {"kind":"select","n":3}.
type commandJSON struct {
	Kind string `json:"kind"`
	N    uint32 `json:"n,omitempty"`
}

func commandToJSON(c turtle.Command) commandJSON {
	return commandJSON{Kind: c.Kind.String(), N: c.N}
}

var commandKindValues = func() map[string]turtle.CommandKind {
	out := make(map[string]turtle.CommandKind)
	for k := turtle.Wait; k <= turtle.Name; k++ {
		out[k.String()] = k
	}
	return out
}()

func (c commandJSON) toCommand() (turtle.Command, error) {
	kind, ok := commandKindValues[c.Kind]
	if !ok {
		return turtle.Command{}, fmt.Errorf("httpapi: unknown command kind %q", c.Kind)
	}
	return turtle.Command{Kind: kind, N: c.N}, nil
}

// responseJSON is the tagged-union wire shape of a robot's reply to its
// previous command, reported back as the "ret" field of an update.
type responseJSON struct {
	Kind      string     `json:"kind"`
	Item      *itemJSON  `json:"item,omitempty"`
	Inventory []itemJSON `json:"inventory,omitempty"`
	Name      string     `json:"name,omitempty"`
}

var responseKindNames = map[turtle.ResponseKind]string{
	turtle.RespNone:      "none",
	turtle.RespSuccess:   "success",
	turtle.RespFailure:   "failure",
	turtle.RespItem:      "item",
	turtle.RespInventory: "inventory",
	turtle.RespName:      "name",
}

var responseKindValues = func() map[string]turtle.ResponseKind {
	out := make(map[string]turtle.ResponseKind)
	for k, v := range responseKindNames {
		out[v] = k
	}
	return out
}()

func (r responseJSON) toResponse() (turtle.Response, error) {
	kind, ok := responseKindValues[r.Kind]
	if !ok {
		return turtle.Response{}, fmt.Errorf("httpapi: unknown response kind %q", r.Kind)
	}
	resp := turtle.Response{Kind: kind, Name: r.Name}
	if r.Item != nil {
		resp.Item = turtle.InventorySlot{Name: r.Item.Name, Count: r.Item.Count}
	}
	for _, it := range r.Inventory {
		resp.Inventory = append(resp.Inventory, turtle.InventorySlot{Name: it.Name, Count: it.Count})
	}
	return resp, nil
}

// updateJSON is the request body of POST /turtle/{id}/update.
type updateJSON struct {
	Fuel  uint32       `json:"fuel"`
	Ahead string       `json:"ahead"`
	Above string       `json:"above"`
	Below string       `json:"below"`
	Ret   responseJSON `json:"ret"`
}
