package task

import "github.com/Speedy6451/avarus/server/world"

// zigStep walks 0..x-1 then x-1..0, advancing one step per call of n,
// so that consecutive outputs (and therefore consecutive fill() cells
// along that axis) are always adjacent.
func zigStep(n, x int32) int32 {
	half := n % x
	full := n % (2 * x)
	if full > x-1 {
		return x - half - 1
	}
	return full
}

// fill generates the n-th cell (relative to the origin) of a serpentine
// sweep over a scale.X * scale.Y * scale.Z volume: it walks the X axis
// back and forth, stepping the Y axis at each X turnaround, and the Z
// axis at each Y turnaround. Every cell in the volume is visited exactly
// once for n in [0, scale.X*scale.Y*scale.Z), and consecutive cells are
// always adjacent — important since the miner only ever needs to step to
// a neighboring cell, never teleport across the cube.
func fill(scale world.Cell, n int32) world.Cell {
	return world.Cell{
		X: zigStep(n, scale.X),
		Y: zigStep(n/scale.X, scale.Y),
		Z: zigStep(n/scale.X/scale.Y, scale.Z),
	}
}

func volume(scale world.Cell) int32 {
	return scale.X * scale.Y * scale.Z
}
