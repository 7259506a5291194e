package server

import "github.com/Speedy6451/avarus/server/world"

// defaultSchematic builds the built-in placeholder BuildSchematic
// pattern: a single 3x3 stone platform. Decoding an uploaded schematic
// file is out of scope (see spec.md section 1); every /turtle/build
// request prints this pattern until a real format loader exists.
func defaultSchematic() (region *world.World, size world.Cell) {
	region = world.New()
	size = world.Cell{X: 3, Y: 1, Z: 3}
	for x := int32(0); x < size.X; x++ {
		for z := int32(0); z < size.Z; z++ {
			region.Set(world.Cell{X: x, Y: 0, Z: z}, "minecraft:stone")
		}
	}
	return region, size
}
