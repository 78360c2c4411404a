package geom

import "math"

// Size holds the full extents of an axis-aligned box centred on an entity's
// position. Boxes are never rotated.
type Size struct {
	Width  float64 `msgpack:"width" json:"width" yaml:"width"`   // x extent
	Depth  float64 `msgpack:"depth" json:"depth" yaml:"depth"`   // y extent
	Height float64 `msgpack:"height" json:"height" yaml:"height"` // z extent
}

func Cube(edge float64) Size {
	return Size{Width: edge, Depth: edge, Height: edge}
}

// Valid reports whether all extents are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Depth > 0 && s.Height > 0
}

// Overlaps reports whether the box of size a at pa intersects the box of
// size b at pb. Touching faces do not count as overlap.
func Overlaps(pa Vector, a Size, pb Vector, b Size) bool {
	return math.Abs(pa.X-pb.X) < (a.Width+b.Width)/2 &&
		math.Abs(pa.Y-pb.Y) < (a.Depth+b.Depth)/2 &&
		math.Abs(pa.Z-pb.Z) < (a.Height+b.Height)/2
}

// Bounds is an axis-aligned region with a corner at the origin, used for the
// arena.
type Bounds struct {
	Width, Depth, Height float64
}

// Contains reports whether p lies inside the bounds (inclusive).
func (b Bounds) Contains(p Vector) bool {
	return p.X >= 0 && p.X <= b.Width &&
		p.Y >= 0 && p.Y <= b.Depth &&
		p.Z >= 0 && p.Z <= b.Height
}

func (b Bounds) Center() Vector {
	return Vector{X: b.Width / 2, Y: b.Depth / 2, Z: b.Height / 2}
}
