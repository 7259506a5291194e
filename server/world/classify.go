package world

// Block classification is core routing policy, not data: the transparent
// and garbage name sets below are plain Go maps seeded at init, extensible
// by editing this file without touching the pathfinder itself.

// transparent names a robot may enter without digging.
var transparent = map[string]struct{}{
	"minecraft:air":   {},
	"minecraft:water": {},
	"minecraft:lava":  {},
}

// garbage names a robot is authorized to dig through while routing. Cost
// for these is higher than open air but still finite.
var garbage = map[string]struct{}{
	"minecraft:stone":           {},
	"minecraft:dirt":            {},
	"minecraft:andesite":        {},
	"minecraft:diorite":         {},
	"minecraft:granite":         {},
	"minecraft:sand":            {},
	"minecraft:gravel":          {},
	"minecraft:cobblestone":     {},
	"minecraft:deepslate":       {},
	"minecraft:cobbled_deepslate": {},
	"minecraft:tuff":            {},
	"minecraft:dripstone_block": {},
	"minecraft:netherrack":      {},
}

// CostUnknown is the optimistic cost assigned to a cell that hasn't been
// observed yet, letting the pathfinder route through unexplored territory.
const CostUnknown = 2

// Transparent reports whether name is in the transparent set.
func Transparent(name string) bool {
	_, ok := transparent[name]
	return ok
}

// Garbage reports whether name is in the garbage (mineable-while-routing)
// set.
func Garbage(name string) bool {
	_, ok := garbage[name]
	return ok
}

// Difficulty returns the pathfinding cost of moving into a cell holding
// name, and false if the block is known and hard (not traversable).
func Difficulty(name string) (int, bool) {
	if Transparent(name) {
		return 1, true
	}
	if Garbage(name) {
		return 2, true
	}
	return 0, false
}

// RegisterTransparent extends the transparent set at runtime, e.g. from a
// plugin or a test, without recompiling the pathfinder.
func RegisterTransparent(name string) { transparent[name] = struct{}{} }

// RegisterGarbage extends the garbage set at runtime.
func RegisterGarbage(name string) { garbage[name] = struct{}{} }
